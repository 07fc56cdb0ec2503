package session

import (
	"strings"
	"time"
)

// Status is a helpdesk session status as reported by the backend. Backend
// values have been observed in mixed case, so comparisons always normalize.
type Status string

const (
	StatusQueue      Status = "queue"
	StatusOpen       Status = "open"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

func (s Status) Normalize() Status {
	return Status(strings.ToLower(string(s)))
}

func (s Status) Known() bool {
	switch s.Normalize() {
	case StatusQueue, StatusOpen, StatusPending, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Is compares two statuses case-insensitively.
func (s Status) Is(other Status) bool {
	return s.Normalize() == other.Normalize()
}

// CanTransition reports whether the backend transition from one status to
// another is allowed. Transitions are one-directional: queue/open/pending can
// be accepted into in_progress, and in_progress can be resolved or closed.
// The queue/pending split is display-only bucketing, never a transition.
func CanTransition(from, to Status) bool {
	from = from.Normalize()
	to = to.Normalize()
	switch to {
	case StatusInProgress:
		return from == StatusQueue || from == StatusOpen || from == StatusPending
	case StatusResolved, StatusClosed:
		return from == StatusInProgress
	}
	return false
}

// Bucket is the display grouping a session falls into.
type Bucket string

const (
	BucketQueue   Bucket = "queue"
	BucketPending Bucket = "pending"
	BucketActive  Bucket = "active"
	BucketDone    Bucket = "done"
)

// Session is one helpdesk conversation. Sessions are never deleted
// client-side; they only drop out of view when filtered.
type Session struct {
	ID         int64
	SessionID  string
	Platform   string
	ExternalID string
	Status     Status
	CreatedAt  time.Time
}

// AgentChannel derives the agent-side sub-channel id for a session channel.
func AgentChannel(sessionID string) string {
	return sessionID + "-agent"
}

func (s Session) AgentChannel() string {
	return AgentChannel(s.SessionID)
}

// Bucket computes the display bucket for a session. An open or queued
// session older than pendingAfter reclassifies as pending; the boundary is
// strict, so a session exactly pendingAfter old still buckets as queue. This
// is recomputed on every read and never written back to the backend.
func (s Session) Bucket(now time.Time, pendingAfter time.Duration) Bucket {
	switch s.Status.Normalize() {
	case StatusInProgress:
		return BucketActive
	case StatusResolved, StatusClosed:
		return BucketDone
	case StatusPending:
		return BucketPending
	case StatusQueue, StatusOpen:
		if now.Sub(s.CreatedAt) > pendingAfter {
			return BucketPending
		}
		return BucketQueue
	}
	return BucketQueue
}
