// Package telegram is the chat-platform boundary: an HTTP client for
// the MTProto gateway, which exposes a Bot-API-shaped surface keyed
// by peer username (getMe, getUpdates, getChatHistory, getMediaGroup,
// getFile, sendMessage, sendDocument, sendMediaGroup).
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nikolay60109002/docrelay/internal/chat"
	"github.com/nikolay60109002/docrelay/internal/transport"
)

type Client struct {
	http     *http.Client
	baseURL  string
	token    string
	username string
}

func New(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// Username returns the session identity cached by GetMe.
func (c *Client) Username() string { return c.username }

type wireUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type wireDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

type wirePhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size,omitempty"`
}

type wireInlineButton struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type wireReplyMarkup struct {
	InlineKeyboard [][]wireInlineButton `json:"inline_keyboard,omitempty"`
}

type wireMessage struct {
	MessageID    int64            `json:"message_id"`
	Date         int64            `json:"date,omitempty"`
	From         *wireUser        `json:"from,omitempty"`
	Text         string           `json:"text,omitempty"`
	Caption      string           `json:"caption,omitempty"`
	MediaGroupID string           `json:"media_group_id,omitempty"`
	Document     *wireDocument    `json:"document,omitempty"`
	Photo        []wirePhotoSize  `json:"photo,omitempty"`
	ReplyMarkup  *wireReplyMarkup `json:"reply_markup,omitempty"`
}

type wireUpdate struct {
	UpdateID int64        `json:"update_id"`
	Message  *wireMessage `json:"message,omitempty"`
}

type wireParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

type wireResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *wireParameters `json:"parameters,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// RequestError is a non-2xx or ok=false gateway reply.
type RequestError struct {
	StatusCode  int
	ErrorCode   int
	Description string
	Body        string
}

func (e *RequestError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = strings.TrimSpace(e.Body)
	}
	if e.StatusCode > 0 && desc != "" {
		return fmt.Sprintf("telegram http %d: %s", e.StatusCode, desc)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("telegram http %d", e.StatusCode)
	}
	if desc != "" {
		return "telegram: " + desc
	}
	return "telegram request failed"
}

func toMessage(m *wireMessage) chat.Message {
	out := chat.Message{
		ID:           m.MessageID,
		Text:         m.Text,
		Caption:      m.Caption,
		MediaGroupID: m.MediaGroupID,
		HasPhoto:     len(m.Photo) > 0,
	}
	if m.Date > 0 {
		out.Date = time.Unix(m.Date, 0).UTC()
	}
	if m.From != nil {
		out.FromUsername = m.From.Username
		out.FromIsBot = m.From.IsBot
	}
	if m.Document != nil {
		out.Document = &chat.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			Size:     m.Document.FileSize,
		}
	}
	if m.ReplyMarkup != nil {
		for _, row := range m.ReplyMarkup.InlineKeyboard {
			for _, b := range row {
				out.Buttons = append(out.Buttons, chat.Button{Text: b.Text, URL: b.URL})
			}
		}
	}
	return out
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call performs one gateway request and decodes the envelope,
// translating flood control into a transport.RateLimitError.
func (c *Client) call(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	var out wireResponse
	_ = json.Unmarshal(raw, &out)

	if !out.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests || (out.Parameters != nil && out.Parameters.RetryAfter > 0) {
			retryAfter := 0
			if out.Parameters != nil {
				retryAfter = out.Parameters.RetryAfter
			}
			return nil, &transport.RateLimitError{
				RetryAfter:  time.Duration(retryAfter) * time.Second,
				Description: strings.TrimSpace(out.Description),
			}
		}
		return nil, &RequestError{
			StatusCode:  resp.StatusCode,
			ErrorCode:   out.ErrorCode,
			Description: out.Description,
			Body:        strings.TrimSpace(string(raw)),
		}
	}
	return out.Result, nil
}

func (c *Client) getJSON(ctx context.Context, method string, query url.Values, result any) error {
	u := c.endpoint(method)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	raw, err := c.call(req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, method string, body any, result any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	raw, err := c.call(req)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

// GetMe fetches and caches the session identity.
func (c *Client) GetMe(ctx context.Context) (string, error) {
	var me wireUser
	if err := c.getJSON(ctx, "getMe", nil, &me); err != nil {
		return "", err
	}
	c.username = me.Username
	return me.Username, nil
}

// GetUpdates long-polls for new inbound messages and advances the
// update offset past everything returned.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]chat.Message, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	query := url.Values{"timeout": {strconv.Itoa(secs)}}
	if offset > 0 {
		query.Set("offset", strconv.FormatInt(offset, 10))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	var updates []wireUpdate
	if err := c.getJSON(reqCtx, "getUpdates", query, &updates); err != nil {
		return nil, offset, err
	}

	next := offset
	var msgs []chat.Message
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
		if u.Message == nil {
			continue
		}
		msgs = append(msgs, toMessage(u.Message))
	}
	return msgs, next, nil
}

// ChatHistory fetches the most recent messages of a conversation,
// newest first.
func (c *Client) ChatHistory(ctx context.Context, peer string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	query := url.Values{
		"peer":  {peer},
		"limit": {strconv.Itoa(limit)},
	}
	var wire []wireMessage
	if err := c.getJSON(ctx, "getChatHistory", query, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(wire))
	for i := range wire {
		out = append(out, toMessage(&wire[i]))
	}
	return out, nil
}

// MediaGroup fetches every member of the media group the given
// message belongs to.
func (c *Client) MediaGroup(ctx context.Context, peer string, messageID int64) ([]chat.Message, error) {
	query := url.Values{
		"peer":       {peer},
		"message_id": {strconv.FormatInt(messageID, 10)},
	}
	var wire []wireMessage
	if err := c.getJSON(ctx, "getMediaGroup", query, &wire); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(wire))
	for i := range wire {
		out = append(out, toMessage(&wire[i]))
	}
	return out, nil
}

// SendMessage sends plain text to a peer.
func (c *Client) SendMessage(ctx context.Context, peer, text string) (chat.Message, error) {
	body := map[string]any{"peer": peer, "text": text}
	var wire wireMessage
	if err := c.postJSON(ctx, "sendMessage", body, &wire); err != nil {
		return chat.Message{}, err
	}
	return toMessage(&wire), nil
}
