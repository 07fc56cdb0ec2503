package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"helpdesk-console/internal/backendtest"
	"helpdesk-console/internal/session"
)

func newTestClient(srv *backendtest.Server) *Client {
	return NewClient(srv.URL(), 5*time.Second, 5*time.Second, zerolog.Nop())
}

func TestClient_ListSessions(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()

	created := time.Now().UTC().Truncate(time.Second)
	srv.AddSession(session.Session{ID: 1, SessionID: "sess-1", Platform: "web", ExternalID: "u-1", Status: session.StatusOpen, CreatedAt: created})
	srv.AddSession(session.Session{ID: 2, SessionID: "sess-2", Platform: "whatsapp", ExternalID: "u-2", Status: session.StatusInProgress, CreatedAt: created})

	page, err := newTestClient(srv).ListSessions(context.Background(), ListParams{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if page.Total != 2 || len(page.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got total=%d len=%d", page.Total, len(page.Sessions))
	}
	got := page.Sessions[0]
	if got.SessionID != "sess-1" || got.Platform != "web" || !got.Status.Is(session.StatusOpen) {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("expected created %v, got %v", created, got.CreatedAt)
	}
}

func TestClient_ListSessionsFilters(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()

	srv.AddSession(session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusOpen})
	srv.AddSession(session.Session{ID: 2, SessionID: "sess-2", Status: session.Status("In_Progress")})

	page, err := newTestClient(srv).ListSessions(context.Background(), ListParams{Status: session.StatusInProgress})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(page.Sessions) != 1 || page.Sessions[0].SessionID != "sess-2" {
		t.Fatalf("expected only sess-2, got %+v", page.Sessions)
	}

	page, err = newTestClient(srv).ListSessions(context.Background(), ListParams{Search: "sess-1"})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(page.Sessions) != 1 || page.Sessions[0].SessionID != "sess-1" {
		t.Fatalf("expected only sess-1, got %+v", page.Sessions)
	}
}

func TestClient_UpdateStatus(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()
	srv.AddSession(session.Session{ID: 7, SessionID: "sess-7", Status: session.StatusQueue})

	c := newTestClient(srv)
	if err := c.UpdateStatus(context.Background(), 7, session.StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	status, ok := srv.SessionStatus(7)
	if !ok || !status.Is(session.StatusInProgress) {
		t.Fatalf("expected in_progress, got %q", status)
	}
}

func TestClient_UpdateStatusUnknownSession(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()

	err := newTestClient(srv).UpdateStatus(context.Background(), 99, session.StatusInProgress)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Fatalf("expected backend error message, got %v", err)
	}
}

func TestClient_Resolve(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()
	srv.AddSession(session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusInProgress})

	resolvedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := newTestClient(srv).Resolve(context.Background(), "sess-1", resolvedAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	ts, ok := srv.ResolvedAt("sess-1")
	if !ok {
		t.Fatalf("expected resolution recorded")
	}
	if ts != "2026-03-01T12:00:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %q", ts)
	}
	status, _ := srv.SessionStatus(1)
	if !status.Is(session.StatusResolved) {
		t.Fatalf("expected resolved, got %q", status)
	}
}

func TestClient_HistoryPagesNewestFirst(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()
	srv.AddHistory("sess-1",
		backendtest.Message{ID: 1, Type: "human", Text: "hi", CreatedAt: time.Now()},
		backendtest.Message{ID: 2, Type: "ai", Text: "hello", CreatedAt: time.Now()},
		backendtest.Message{ID: 3, Type: "human", Text: "help", CreatedAt: time.Now()},
	)

	page, err := newTestClient(srv).History(context.Background(), "sess-1", 1, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if page.Page != 1 || page.TotalPages != 2 {
		t.Fatalf("expected page 1 of 2, got %d of %d", page.Page, page.TotalPages)
	}
	if len(page.Messages) != 2 || page.Messages[0].ID != 3 || page.Messages[1].ID != 2 {
		t.Fatalf("expected newest-first [3 2], got %+v", page.Messages)
	}
}

func TestClient_Ask(t *testing.T) {
	srv := backendtest.New("secret")
	defer srv.Close()

	if err := newTestClient(srv).Ask(context.Background(), AskRequest{SessionID: "sess-1", Text: "on it"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	calls := srv.AskCalls()
	if len(calls) != 1 || calls[0].SessionID != "sess-1" || calls[0].Text != "on it" {
		t.Fatalf("unexpected ask calls: %+v", calls)
	}
}
