package config

// Platform identifies which chat backend an adapter targets.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// ValidPlatforms enumerates the supported backends.
var ValidPlatforms = map[Platform]bool{
	PlatformDiscord:  true,
	PlatformTelegram: true,
}

// ValidLogLevels enumerates the accepted logging.level values.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}
