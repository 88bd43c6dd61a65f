package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
)

// APIClient talks to the conversation-management endpoint. Creation and
// lifecycle changes go through it rather than straight to storage, so
// authorization stays centralized server-side.
type APIClient struct {
	base  string
	token string
	hc    *http.Client
}

func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		hc:    &http.Client{Timeout: timeout},
	}
}

type createConversationReq struct {
	Title string `json:"title"`
	Topic string `json:"topic,omitempty"`
}

type updateConversationReq struct {
	Title string `json:"title"`
}

// CreateConversation creates a conversation with the given title and
// optional topic tag, returning the created entity.
func (c *APIClient) CreateConversation(ctx context.Context, title, topic string) (*model.Conversation, error) {
	if title == "" {
		return nil, errs.ErrArgs.WrapMsg("create conversation: empty title")
	}
	var conv model.Conversation
	err := c.do(ctx, http.MethodPost, "/api/conversations",
		createConversationReq{Title: title, Topic: topic}, &conv)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateConversationTitle renames a conversation.
func (c *APIClient) UpdateConversationTitle(ctx context.Context, id, title string) error {
	if id == "" || title == "" {
		return errs.ErrArgs.WrapMsg("update conversation", "id", id)
	}
	return c.do(ctx, http.MethodPatch, "/api/conversations/"+id,
		updateConversationReq{Title: title}, nil)
}

// DeleteConversation closes a conversation (soft lifecycle; rows referenced
// by messages are never physically removed).
func (c *APIClient) DeleteConversation(ctx context.Context, id string) error {
	if id == "" {
		return errs.ErrArgs.WrapMsg("delete conversation: empty id")
	}
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+id, nil, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.WrapMsg(err, "encode request", "path", path)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errs.WrapMsg(err, "build request", "path", path)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errs.ErrAPIFailed.WrapMsg("request", "path", path, "err", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errs.ErrAPIFailed.WrapMsg("status",
			"path", path, "code", fmt.Sprint(resp.StatusCode), "body", string(raw))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.ErrAPIFailed.WrapMsg("decode response", "path", path, "err", err)
		}
	}
	return nil
}
