package helpdesk

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"helpdesk-console/internal/api"
	"helpdesk-console/internal/backendtest"
	"helpdesk-console/internal/history"
	"helpdesk-console/internal/realtime"
	"helpdesk-console/internal/session"
)

type fixture struct {
	srv   *backendtest.Server
	api   *api.Client
	store *session.Store
	rt    *realtime.Client
	ctrl  *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	srv := backendtest.New("secret")
	t.Cleanup(srv.Close)

	backend := api.NewClient(srv.URL(), 5*time.Second, 5*time.Second, zerolog.Nop())
	store := session.NewStore(func(ctx context.Context) ([]session.Session, error) {
		page, err := backend.ListSessions(ctx, api.ListParams{})
		if err != nil {
			return nil, err
		}
		return page.Sessions, nil
	}, 15*time.Minute, zerolog.Nop())

	registry := realtime.NewRegistry(zerolog.Nop())
	rt := realtime.NewClient(realtime.Options{
		URL:                srv.WSURL(),
		Token:              "secret",
		BaseReconnectDelay: 5 * time.Millisecond,
		Logger:             zerolog.Nop(),
	}, registry)
	t.Cleanup(rt.Disconnect)

	return &fixture{
		srv:   srv,
		api:   backend,
		store: store,
		rt:    rt,
		ctrl:  NewController(backend, store, rt, zerolog.Nop()),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestController_AcceptEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.srv.AddSession(session.Session{
		ID:        1,
		SessionID: "sess-1",
		Platform:  "web",
		Status:    session.StatusOpen,
		CreatedAt: time.Now().Add(-20 * time.Minute),
	})

	if err := f.rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	buckets := f.store.Buckets(time.Now())
	if len(buckets[session.BucketPending]) != 1 {
		t.Fatalf("expected sess-1 in pending bucket, got %v", buckets)
	}

	sess, _ := f.store.Get("sess-1")
	if err := f.ctrl.Accept(ctx, sess); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	status, _ := f.srv.SessionStatus(1)
	if !status.Is(session.StatusInProgress) {
		t.Fatalf("expected backend status in_progress, got %q", status)
	}

	buckets = f.store.Buckets(time.Now())
	if len(buckets[session.BucketActive]) != 1 {
		t.Fatalf("expected sess-1 in active bucket after accept, got %v", buckets)
	}

	waitFor(t, time.Second, func() bool { return len(f.srv.SubscribeCalls()) == 2 }, "subscribe frames")
	calls := f.srv.SubscribeCalls()
	channels := []string{calls[0].Channel, calls[1].Channel}
	sort.Strings(channels)
	if channels[0] != "sess-1" || channels[1] != "sess-1-agent" {
		t.Fatalf("expected subscribes for sess-1 and sess-1-agent, got %v", channels)
	}
	for _, call := range calls {
		if call.Cursor != "$" {
			t.Fatalf("expected cursor $, got %q", call.Cursor)
		}
	}
}

func TestController_AcceptRejectedByBackend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.srv.AddSession(session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusOpen, CreatedAt: time.Now()})
	if err := f.rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// The backend knows nothing about this id, so the update fails.
	ghost := session.Session{ID: 99, SessionID: "ghost", Status: session.StatusOpen}
	if err := f.ctrl.Accept(ctx, ghost); err == nil {
		t.Fatalf("expected accept error")
	}

	// No optimistic change, no subscription.
	status, _ := f.srv.SessionStatus(1)
	if !status.Is(session.StatusOpen) {
		t.Fatalf("expected sess-1 untouched, got %q", status)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(f.srv.SubscribeCalls()); n != 0 {
		t.Fatalf("expected no subscribe frames, got %d", n)
	}
}

func TestController_AcceptGuardsStatus(t *testing.T) {
	f := newFixture(t)

	sess := session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusResolved}
	if err := f.ctrl.Accept(context.Background(), sess); err == nil {
		t.Fatalf("expected error accepting a resolved session")
	}
}

func TestController_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.srv.AddSession(session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusInProgress, CreatedAt: time.Now()})
	if err := f.store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	sess, _ := f.store.Get("sess-1")
	resolvedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := f.ctrl.Resolve(ctx, sess, resolvedAt); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if ts, ok := f.srv.ResolvedAt("sess-1"); !ok || ts != "2026-03-01T09:30:00Z" {
		t.Fatalf("expected recorded resolution time, got %q ok=%v", ts, ok)
	}
	buckets := f.store.Buckets(time.Now())
	if len(buckets[session.BucketDone]) != 1 {
		t.Fatalf("expected sess-1 in done bucket, got %v", buckets)
	}
}

func TestController_ResolveGuardsStatus(t *testing.T) {
	f := newFixture(t)

	sess := session.Session{ID: 1, SessionID: "sess-1", Status: session.StatusOpen}
	if err := f.ctrl.Resolve(context.Background(), sess, time.Now()); err == nil {
		t.Fatalf("expected error resolving a session that was never accepted")
	}
}

func TestController_Send(t *testing.T) {
	f := newFixture(t)

	if err := f.ctrl.Send(context.Background(), "sess-1", "looking into it"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := f.srv.AskCalls()
	if len(calls) != 1 || calls[0].Text != "looking into it" {
		t.Fatalf("unexpected ask calls: %+v", calls)
	}
}

func TestController_WatchReloadsHistoryOnPush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.srv.AddHistory("sess-1",
		backendtest.Message{ID: 1, Type: "human", Text: "hi", CreatedAt: time.Now()},
	)

	if err := f.rt.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.rt.Subscribe("sess-1-agent", realtime.CursorNow); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	pag := history.New(f.api, "sess-1", 20)
	got := make(chan json.RawMessage, 1)
	stop := f.ctrl.Watch("sess-1", pag, func(data json.RawMessage) { got <- data })
	defer stop()

	// The push lands after a new backend row exists; the reload picks it up.
	f.srv.AddHistory("sess-1",
		backendtest.Message{ID: 2, Type: "human", Text: "anyone there?", CreatedAt: time.Now()},
	)
	if err := f.srv.Push("sess-1-agent", map[string]string{"text": "anyone there?"}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("watch handler never invoked")
	}

	msgs := pag.Messages()
	if len(msgs) != 2 || msgs[0].ID != 1 || msgs[1].ID != 2 {
		t.Fatalf("expected reloaded history [1 2], got %+v", msgs)
	}
	if !f.store.Stale() {
		t.Fatalf("expected store invalidated by live message")
	}
}
