package config

import (
	"os"
	"testing"
)

func TestLoadWithToken(t *testing.T) {
	_ = os.Setenv("CHATSYNC_DISCORD_TOKEN", "test-token-123")
	defer func() { _ = os.Unsetenv("CHATSYNC_DISCORD_TOKEN") }()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected config to load with token, got error: %v", err)
	}

	if cfg.Discord.Token != "test-token-123" {
		t.Errorf("expected token 'test-token-123', got '%s'", cfg.Discord.Token)
	}

	if cfg.Platform != "discord" {
		t.Errorf("expected default platform discord, got '%s'", cfg.Platform)
	}

	if cfg.Sync.MaxServersParallel != 5 {
		t.Errorf("expected 5 parallel servers by default, got %d", cfg.Sync.MaxServersParallel)
	}

	if cfg.Sync.MaxChannelsParallel != 10 {
		t.Errorf("expected 10 parallel channels by default, got %d", cfg.Sync.MaxChannelsParallel)
	}

	if cfg.Rate.BaseDelayMS != 20 {
		t.Errorf("expected 20ms base delay by default, got %d", cfg.Rate.BaseDelayMS)
	}
}

func TestLoadWithoutToken(t *testing.T) {
	_ = os.Unsetenv("CHATSYNC_DISCORD_TOKEN")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when token is missing")
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	_ = os.Setenv("CHATSYNC_DISCORD_TOKEN", "test-token-123")
	_ = os.Setenv("CHATSYNC_SYNC_MAX_SERVERS_PARALLEL", "2")
	defer func() {
		_ = os.Unsetenv("CHATSYNC_DISCORD_TOKEN")
		_ = os.Unsetenv("CHATSYNC_SYNC_MAX_SERVERS_PARALLEL")
	}()

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.MaxServersParallel != 2 {
		t.Errorf("expected env override of 2, got %d", cfg.Sync.MaxServersParallel)
	}
}

func TestValidateRejectsUnknownPlatform(t *testing.T) {
	cfg := &Config{
		Platform: "irc",
		Sync:     SyncConfig{MaxServersParallel: 5, MaxChannelsParallel: 10},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestValidateTelegramRequiresChatIDs(t *testing.T) {
	cfg := &Config{
		Platform: "telegram",
		Telegram: TelegramConfig{Token: "t"},
		Sync:     SyncConfig{MaxServersParallel: 5, MaxChannelsParallel: 10},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when telegram chat_ids is empty")
	}
}
