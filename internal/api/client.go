package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"helpdesk-console/internal/session"
)

// Client wraps the helpdesk backend REST endpoints. Two underlying HTTP
// clients are kept: the default one for CRUD calls and a long-timeout one for
// the ask path, where generation is slow.
type Client struct {
	base   string
	http   *http.Client
	ask    *http.Client
	logger zerolog.Logger
}

func NewClient(baseURL string, requestTimeout, askTimeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: requestTimeout},
		ask:    &http.Client{Timeout: askTimeout},
		logger: logger,
	}
}

type ListParams struct {
	Search string
	Status session.Status
	Limit  int
	Offset int
}

type SessionPage struct {
	Sessions []session.Session
	Total    int
}

type sessionPayload struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Platform   string    `json:"platform"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p sessionPayload) toSession() session.Session {
	return session.Session{
		ID:         p.ID,
		SessionID:  p.SessionID,
		Platform:   p.Platform,
		ExternalID: p.ExternalID,
		Status:     session.Status(p.Status),
		CreatedAt:  p.CreatedAt,
	}
}

// ListSessions fetches a page of helpdesk sessions.
func (c *Client) ListSessions(ctx context.Context, params ListParams) (SessionPage, error) {
	query := url.Values{}
	if params.Search != "" {
		query.Set("search", params.Search)
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}

	var out struct {
		Data  []sessionPayload `json:"data"`
		Total int              `json:"total"`
	}
	if err := c.do(ctx, c.http, http.MethodGet, "/api/helpdesk", query, nil, &out); err != nil {
		return SessionPage{}, err
	}

	page := SessionPage{Total: out.Total, Sessions: make([]session.Session, 0, len(out.Data))}
	for _, p := range out.Data {
		page.Sessions = append(page.Sessions, p.toSession())
	}
	return page, nil
}

// UpdateStatus changes a session's status on the backend.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status session.Status) error {
	path := fmt.Sprintf("/api/helpdesk/%d", id)
	body := map[string]string{"status": string(status)}
	return c.do(ctx, c.http, http.MethodPut, path, nil, body, nil)
}

// Resolve marks a session solved with a client-supplied resolution time.
func (c *Client) Resolve(ctx context.Context, sessionID string, resolvedAt time.Time) error {
	path := "/api/helpdesk/solved/" + url.PathEscape(sessionID)
	body := map[string]string{"resolved_at": resolvedAt.UTC().Format(time.RFC3339)}
	return c.do(ctx, c.http, http.MethodPost, path, nil, body, nil)
}

// HistoryMessage is one raw chat history row. Rows may arrive null from the
// backend, hence the pointer slice in HistoryPage.
type HistoryMessage struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryPage struct {
	Messages   []*HistoryMessage `json:"data"`
	Page       int               `json:"page"`
	TotalPages int               `json:"total_pages"`
}

// History fetches one page of chat history, newest first.
func (c *Client) History(ctx context.Context, sessionID string, page, pageSize int) (HistoryPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	query.Set("sort_direction", "DESC")

	var out HistoryPage
	path := "/api/chat/history/session/" + url.PathEscape(sessionID)
	if err := c.do(ctx, c.http, http.MethodGet, path, query, nil, &out); err != nil {
		return HistoryPage{}, err
	}
	return out, nil
}

type AskRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// Ask sends an agent message into a session. Uses the extended timeout.
func (c *Client) Ask(ctx context.Context, req AskRequest) error {
	return c.do(ctx, c.ask, http.MethodPost, "/api/helpdesk/ask", nil, req, nil)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	c.logger.Debug().Str("method", method).Str("path", path).Msg("backend request")
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error != "" {
			return fmt.Errorf("api: %s %s: %s", method, path, failure.Error)
		}
		return fmt.Errorf("api: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("api: decode %s %s: %w", method, path, err)
		}
	}
	return nil
}
