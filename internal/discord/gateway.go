package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/communityagent/chatsync/internal/chat"
)

const (
	opDispatch       = 0
	opIdentify       = 2
	opHello          = 10
	closeCodeBadAuth = 4004

	intentGuilds         = 1 << 0
	intentGuildMessages  = 1 << 9
	intentMessageContent = 1 << 15
)

type gatewayPayload struct {
	Op   int             `json:"op"`
	Type string          `json:"t,omitempty"`
	Data json.RawMessage `json:"d,omitempty"`
}

type identifyData struct {
	Token      string `json:"token"`
	Intents    int    `json:"intents"`
	Properties struct {
		OS      string `json:"os"`
		Browser string `json:"browser"`
		Device  string `json:"device"`
	} `json:"properties"`
}

// Connect validates the session: a REST identity check, then a gateway
// handshake (hello, identify, ready). The gateway connection is dropped once
// the handshake completes; sync runs over REST only.
func (c *Client) Connect(ctx context.Context) error {
	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := c.doJSON(ctx, "GET", c.baseURL+"/users/@me", nil, &me); err != nil {
		return fmt.Errorf("identity check: %w", err)
	}
	c.logger.Info("authenticated", zap.String("user_id", me.ID), zap.String("username", me.Username))

	if c.gatewayURL == "" {
		return nil
	}
	return c.gatewayHandshake(ctx)
}

func (c *Client) gatewayHandshake(ctx context.Context) error {
	timeout := c.connectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, c.gatewayURL+"/?v=10&encoding=json", nil)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("gateway hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("gateway hello: unexpected op %d", hello.Op)
	}

	identify := identifyData{
		Token:   c.token,
		Intents: intentGuilds | intentGuildMessages | intentMessageContent,
	}
	identify.Properties.OS = "linux"
	identify.Properties.Browser = "chatsync"
	identify.Properties.Device = "chatsync"

	data, err := json.Marshal(identify)
	if err != nil {
		return fmt.Errorf("gateway identify: %w", err)
	}
	if err := conn.WriteJSON(gatewayPayload{Op: opIdentify, Data: data}); err != nil {
		return fmt.Errorf("gateway identify: %w", err)
	}

	var ready gatewayPayload
	if err := conn.ReadJSON(&ready); err != nil {
		if websocket.IsCloseError(err, closeCodeBadAuth) {
			return fmt.Errorf("gateway: %w", chat.ErrAuthFailed)
		}
		return fmt.Errorf("gateway ready: %w", err)
	}
	if ready.Op != opDispatch || ready.Type != "READY" {
		return fmt.Errorf("gateway ready: unexpected op %d type %q", ready.Op, ready.Type)
	}

	c.logger.Debug("gateway handshake complete")
	return nil
}
