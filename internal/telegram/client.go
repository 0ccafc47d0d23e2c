// Package telegram implements the chat.Client contract over the Telegram Bot
// API. Each configured chat maps to one server with a single message stream;
// the getUpdates offset doubles as the incremental cursor.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/communityagent/chatsync/internal/chat"
)

const (
	pageSize = 100

	// StreamName is the single channel every Telegram chat exposes.
	StreamName = "messages"
)

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	chatIDs    []string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func New(baseURL, token string, chatIDs []string, requestsPerSec float64, logger *zap.Logger) *Client {
	if requestsPerSec <= 0 {
		requestsPerSec = 1
	}

	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		token:      token,
		chatIDs:    chatIDs,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec*2)+1),
		logger:     logger,
	}
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type chatJSON struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

type userJSON struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

type messageJSON struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date"`
	From      userJSON `json:"from"`
	Chat      chatJSON `json:"chat"`
	Text      string   `json:"text"`
	Caption   string   `json:"caption"`
	ReplyTo   *struct {
		MessageID int64 `json:"message_id"`
	} `json:"reply_to_message"`
}

type updateJSON struct {
	UpdateID    int64        `json:"update_id"`
	Message     *messageJSON `json:"message"`
	ChannelPost *messageJSON `json:"channel_post"`
}

// Connect validates the bot token via getMe.
func (c *Client) Connect(ctx context.Context) error {
	var me userJSON
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("identity check: %w", err)
	}
	c.logger.Info("authenticated",
		zap.Int64("bot_id", me.ID),
		zap.String("username", me.Username),
	)
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// ListServers resolves each configured chat ID through getChat. A chat the
// bot cannot see fails the run up front rather than mid-sync.
func (c *Client) ListServers(ctx context.Context) ([]chat.Server, error) {
	servers := make([]chat.Server, 0, len(c.chatIDs))
	for _, id := range c.chatIDs {
		var info chatJSON
		if err := c.call(ctx, "getChat", map[string]any{"chat_id": id}, &info); err != nil {
			return nil, fmt.Errorf("resolving chat %s: %w", id, err)
		}
		name := info.Title
		if name == "" {
			name = "chat-" + id
		}
		servers = append(servers, chat.Server{
			ID:   strconv.FormatInt(info.ID, 10),
			Name: name,
		})
	}
	return servers, nil
}

func (c *Client) ListChannels(ctx context.Context, serverID string) ([]chat.Channel, error) {
	return []chat.Channel{{ID: serverID, Name: StreamName, Position: 0}}, nil
}

// FetchRecords drains the update queue from the cursor forward, yielding only
// messages belonging to the requested chat. Record IDs are update IDs, so the
// cursor is monotonic across chats sharing the queue.
func (c *Client) FetchRecords(ctx context.Context, serverID, channelID string, opts chat.FetchOptions, yield func(chat.Record) error) error {
	offset := int64(0)
	if opts.AfterID != "" {
		n, err := strconv.ParseInt(opts.AfterID, 10, 64)
		if err != nil {
			return fmt.Errorf("bad cursor %q: %w", opts.AfterID, err)
		}
		offset = n + 1
	}

	var cutoff time.Time
	if opts.AfterID == "" && opts.LookbackDays > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.LookbackDays)
	}

	yielded := 0
	for {
		params := map[string]any{
			"limit":           pageSize,
			"allowed_updates": []string{"message", "channel_post"},
		}
		if offset > 0 {
			params["offset"] = offset
		}

		var updates []updateJSON
		if err := c.call(ctx, "getUpdates", params, &updates); err != nil {
			return fmt.Errorf("fetching updates: %w", err)
		}
		if len(updates) == 0 {
			return nil
		}

		for _, u := range updates {
			offset = u.UpdateID + 1

			msg := u.Message
			if msg == nil {
				msg = u.ChannelPost
			}
			if msg == nil || strconv.FormatInt(msg.Chat.ID, 10) != channelID {
				continue
			}
			if !cutoff.IsZero() && time.Unix(msg.Date, 0).Before(cutoff) {
				continue
			}

			if err := yield(toRecord(u.UpdateID, msg)); err != nil {
				return err
			}
			yielded++
			if opts.Limit > 0 && yielded >= opts.Limit {
				return nil
			}
		}

		if len(updates) < pageSize {
			return nil
		}
	}
}

func (c *Client) SendRecord(ctx context.Context, channelID, content, replyToID string) (*chat.Record, error) {
	params := map[string]any{
		"chat_id": channelID,
		"text":    content,
	}
	if replyToID != "" {
		params["reply_to_message_id"] = replyToID
	}

	var msg messageJSON
	if err := c.call(ctx, "sendMessage", params, &msg); err != nil {
		return nil, fmt.Errorf("sending message to chat %s: %w", channelID, err)
	}
	r := toRecord(msg.MessageID, &msg)
	return &r, nil
}

func (c *Client) call(ctx context.Context, method string, params map[string]any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("telegram request", zap.String("method", method))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response: %w", readErr)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}

	if !env.OK {
		switch env.ErrorCode {
		case http.StatusUnauthorized:
			return chat.ErrAuthFailed
		case http.StatusForbidden:
			return chat.ErrForbidden
		case http.StatusNotFound, http.StatusBadRequest:
			// The Bot API reports unknown chats as 400 "chat not found".
			return fmt.Errorf("%s: %w", env.Description, chat.ErrNotFound)
		case http.StatusTooManyRequests:
			retryAfter := time.Duration(0)
			if env.Parameters != nil {
				retryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
			}
			return &chat.RateLimitError{RetryAfter: retryAfter}
		default:
			return fmt.Errorf("api error %d: %s", env.ErrorCode, env.Description)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

func toRecord(id int64, m *messageJSON) chat.Record {
	name := m.From.Username
	if name == "" {
		name = m.From.FirstName
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	r := chat.Record{
		ID:         strconv.FormatInt(id, 10),
		Timestamp:  time.Unix(m.Date, 0).UTC(),
		AuthorID:   strconv.FormatInt(m.From.ID, 10),
		AuthorName: name,
		Content:    content,
	}
	if m.ReplyTo != nil {
		r.ReplyToID = strconv.FormatInt(m.ReplyTo.MessageID, 10)
	}
	return r
}
