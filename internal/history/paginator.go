package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"helpdesk-console/internal/api"
)

// Sender is the display role of a message author.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Message is one chat turn in display shape.
type Message struct {
	ID        int64
	Sender    Sender
	Text      string
	Timestamp time.Time
}

// Fetcher fetches one descending page of chat history.
type Fetcher interface {
	History(ctx context.Context, sessionID string, page, pageSize int) (api.HistoryPage, error)
}

// Paginator combines backend-paginated history fetches with live-push
// refreshes into a single ascending, deduplicated message sequence. Live
// messages never splice into local state: the consumer calls Reload so the
// same sort/dedup path applies regardless of delivery route.
type Paginator struct {
	fetcher   Fetcher
	sessionID string
	pageSize  int

	mu         sync.Mutex
	pages      []api.HistoryPage
	page       int
	totalPages int
}

func New(fetcher Fetcher, sessionID string, pageSize int) *Paginator {
	return &Paginator{fetcher: fetcher, sessionID: sessionID, pageSize: pageSize}
}

// LoadNext fetches the next older page. It returns the number of messages
// the merged sequence gained, which is zero once all pages are loaded; a
// scroll consumer uses the delta to restore its offset after a prepend. A
// failed fetch merges nothing.
func (p *Paginator) LoadNext(ctx context.Context) (int, error) {
	p.mu.Lock()
	if p.page > 0 && p.page >= p.totalPages {
		p.mu.Unlock()
		return 0, nil
	}
	next := p.page + 1
	before := len(p.mergedLocked())
	p.mu.Unlock()

	fetched, err := p.fetcher.History(ctx, p.sessionID, next, p.pageSize)
	if err != nil {
		return 0, fmt.Errorf("history: page %d: %w", next, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, fetched)
	p.page = next
	p.totalPages = fetched.TotalPages
	return len(p.mergedLocked()) - before, nil
}

// Reload discards all fetched pages and re-fetches the first one. Called
// when a live push invalidates the backing query.
func (p *Paginator) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.pages = nil
	p.page = 0
	p.totalPages = 0
	p.mu.Unlock()

	_, err := p.LoadNext(ctx)
	return err
}

// HasMore reports whether older pages remain.
func (p *Paginator) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page == 0 || p.page < p.totalPages
}

// Messages returns the merged sequence: all fetched pages flattened, empty
// rows dropped, sorted ascending by id, each id exactly once.
func (p *Paginator) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mergedLocked()
}

func (p *Paginator) mergedLocked() []Message {
	var rows []*api.HistoryMessage
	for _, page := range p.pages {
		for _, row := range page.Messages {
			if row == nil || row.ID == 0 {
				continue
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	out := make([]Message, 0, len(rows))
	var lastID int64
	for _, row := range rows {
		if len(out) > 0 && row.ID == lastID {
			continue
		}
		lastID = row.ID
		out = append(out, Message{
			ID:        row.ID,
			Sender:    senderFromType(row.Type),
			Text:      row.Text,
			Timestamp: row.CreatedAt,
		})
	}
	return out
}

func senderFromType(t string) Sender {
	if strings.ToLower(t) == "human" {
		return SenderUser
	}
	return SenderAgent
}
