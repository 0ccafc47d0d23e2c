// Package discord implements the chat.Client contract over the Discord REST
// API, with a gateway handshake for session validation. History fetches are
// paginated REST reads; the adapter never holds a live gateway connection
// during sync.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/communityagent/chatsync/internal/chat"
)

const (
	pageSize = 100

	channelTypeText         = 0
	channelTypeCategory     = 4
	channelTypeAnnouncement = 5
)

type Client struct {
	httpClient     *http.Client
	baseURL        string
	gatewayURL     string
	token          string
	limiter        *rate.Limiter
	connectTimeout time.Duration
	logger         *zap.Logger
}

func New(baseURL, gatewayURL, token string, requestsPerSec float64, connectTimeout time.Duration, logger *zap.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	if requestsPerSec <= 0 {
		requestsPerSec = 2
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		baseURL:        baseURL,
		gatewayURL:     gatewayURL,
		token:          token,
		limiter:        rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec*2)+1),
		connectTimeout: connectTimeout,
		logger:         logger,
	}
}

type guildJSON struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	MemberCount int    `json:"approximate_member_count"`
}

type channelJSON struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	Name     string `json:"name"`
	Position int    `json:"position"`
	ParentID string `json:"parent_id"`
}

type messageJSON struct {
	ID     string `json:"id"`
	Author struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	} `json:"author"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp"`
	Attachments []struct {
		Filename string `json:"filename"`
		URL      string `json:"url"`
	} `json:"attachments"`
	Reactions []struct {
		Emoji struct {
			Name string `json:"name"`
		} `json:"emoji"`
		Count int `json:"count"`
	} `json:"reactions"`
	MessageReference *struct {
		MessageID string `json:"message_id"`
	} `json:"message_reference"`
}

type rateLimitJSON struct {
	RetryAfter float64 `json:"retry_after"`
}

func (c *Client) ListServers(ctx context.Context) ([]chat.Server, error) {
	var servers []chat.Server
	after := ""
	for {
		url := fmt.Sprintf("%s/users/@me/guilds?limit=200&with_counts=true", c.baseURL)
		if after != "" {
			url += "&after=" + after
		}

		var page []guildJSON
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return nil, fmt.Errorf("listing guilds: %w", err)
		}
		for _, g := range page {
			servers = append(servers, chat.Server{
				ID:          g.ID,
				Name:        g.Name,
				Icon:        g.Icon,
				MemberCount: g.MemberCount,
			})
		}
		if len(page) < 200 {
			return servers, nil
		}
		after = page[len(page)-1].ID
	}
}

func (c *Client) ListChannels(ctx context.Context, serverID string) ([]chat.Channel, error) {
	url := fmt.Sprintf("%s/guilds/%s/channels", c.baseURL, serverID)

	var raw []channelJSON
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &raw); err != nil {
		return nil, fmt.Errorf("listing channels for guild %s: %w", serverID, err)
	}

	categories := make(map[string]string)
	for _, ch := range raw {
		if ch.Type == channelTypeCategory {
			categories[ch.ID] = ch.Name
		}
	}

	var channels []chat.Channel
	for _, ch := range raw {
		if ch.Type != channelTypeText && ch.Type != channelTypeAnnouncement {
			continue
		}
		channels = append(channels, chat.Channel{
			ID:       ch.ID,
			Name:     ch.Name,
			Position: ch.Position,
			Category: categories[ch.ParentID],
		})
	}
	return channels, nil
}

func (c *Client) FetchRecords(ctx context.Context, serverID, channelID string, opts chat.FetchOptions, yield func(chat.Record) error) error {
	after := opts.AfterID
	if after == "" && opts.LookbackDays > 0 {
		after = snowflakeFromTime(time.Now().UTC().AddDate(0, 0, -opts.LookbackDays))
	}

	yielded := 0
	for {
		url := fmt.Sprintf("%s/channels/%s/messages?limit=%d", c.baseURL, channelID, pageSize)
		if after != "" {
			url += "&after=" + after
		}

		var page []messageJSON
		if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
			return fmt.Errorf("fetching messages for channel %s: %w", channelID, err)
		}
		if len(page) == 0 {
			return nil
		}

		// The API orders pages newest first; callers get chronological order.
		sort.Slice(page, func(i, j int) bool {
			return snowflakeLess(page[i].ID, page[j].ID)
		})

		for _, m := range page {
			if err := yield(toRecord(m)); err != nil {
				return err
			}
			yielded++
			after = m.ID
			if opts.Limit > 0 && yielded >= opts.Limit {
				return nil
			}
		}

		if len(page) < pageSize {
			return nil
		}
	}
}

func (c *Client) SendRecord(ctx context.Context, channelID, content, replyToID string) (*chat.Record, error) {
	payload := map[string]any{"content": content}
	if replyToID != "" {
		payload["message_reference"] = map[string]string{"message_id": replyToID}
	}

	url := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, channelID)
	var m messageJSON
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &m); err != nil {
		return nil, fmt.Errorf("sending message to channel %s: %w", channelID, err)
	}
	r := toRecord(m)
	return &r, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("discord request", zap.String("method", method), zap.String("url", url))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response: %w", readErr)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	case http.StatusUnauthorized:
		return chat.ErrAuthFailed
	case http.StatusForbidden:
		return chat.ErrForbidden
	case http.StatusNotFound:
		return chat.ErrNotFound
	case http.StatusTooManyRequests:
		var rl rateLimitJSON
		_ = json.Unmarshal(raw, &rl)
		return &chat.RateLimitError{RetryAfter: time.Duration(rl.RetryAfter * float64(time.Second))}
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(raw))
	}
}

func toRecord(m messageJSON) chat.Record {
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	ts, err := time.Parse(time.RFC3339, m.Timestamp)
	if err != nil {
		ts = time.Time{}
	}

	r := chat.Record{
		ID:         m.ID,
		Timestamp:  ts,
		AuthorID:   m.Author.ID,
		AuthorName: name,
		Content:    m.Content,
	}
	for _, a := range m.Attachments {
		r.Attachments = append(r.Attachments, chat.Attachment{Filename: a.Filename, URL: a.URL})
	}
	for _, re := range m.Reactions {
		r.Reactions = append(r.Reactions, chat.Reaction{Emoji: re.Emoji.Name, Count: re.Count})
	}
	if m.MessageReference != nil {
		r.ReplyToID = m.MessageReference.MessageID
	}
	return r
}

func snowflakeLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}
