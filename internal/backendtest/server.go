// Package backendtest provides an in-process fake of the helpdesk backend:
// the REST endpoints the console consumes plus the websocket messaging
// endpoint. Integration tests point real clients at it and assert on the
// frames and calls it records.
package backendtest

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"helpdesk-console/internal/session"
)

type Message struct {
	ID        int64
	Type      string
	Text      string
	CreatedAt time.Time
}

type SubscribeCall struct {
	Channel string
	Cursor  string
}

type PublishCall struct {
	Channel   string
	MessageID string
	Data      json.RawMessage
}

type AskCall struct {
	SessionID string
	Text      string
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	token string
	srv   *httptest.Server

	mu         sync.Mutex
	sessions   []session.Session
	messages   map[string][]Message
	nextMsgID  int64
	subscribes []SubscribeCall
	publishes  []PublishCall
	asks       []AskCall
	resolved   map[string]string
	conns      map[*websocket.Conn]struct{}
}

func New(token string) *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		token:    token,
		messages: make(map[string][]Message),
		resolved: make(map[string]string),
		conns:    make(map[*websocket.Conn]struct{}),
	}

	r := gin.New()
	r.GET("/api/helpdesk", s.listSessions)
	r.PUT("/api/helpdesk/:id", s.updateStatus)
	r.POST("/api/helpdesk/solved/:sessionId", s.resolve)
	r.GET("/api/chat/history/session/:sessionId", s.history)
	r.POST("/api/helpdesk/ask", s.ask)
	r.GET("/ws", s.serveWS)

	s.srv = httptest.NewServer(r)
	return s
}

func (s *Server) URL() string { return s.srv.URL }

func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

// Close drops every live websocket before shutting the listener down:
// httptest.Server.Close does not close hijacked connections, so without this
// clients would never observe the shutdown.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *Server) AddSession(sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
}

func (s *Server) AddHistory(sessionID string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		if m.ID > s.nextMsgID {
			s.nextMsgID = m.ID
		}
	}
	s.messages[sessionID] = append(s.messages[sessionID], msgs...)
}

func (s *Server) SessionStatus(id int64) (session.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess.Status, true
		}
	}
	return "", false
}

func (s *Server) SubscribeCalls() []SubscribeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SubscribeCall, len(s.subscribes))
	copy(out, s.subscribes)
	return out
}

func (s *Server) PublishCalls() []PublishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublishCall, len(s.publishes))
	copy(out, s.publishes)
	return out
}

func (s *Server) AskCalls() []AskCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AskCall, len(s.asks))
	copy(out, s.asks)
	return out
}

func (s *Server) ResolvedAt(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.resolved[sessionID]
	return ts, ok
}

// ClearSubscribes forgets recorded subscribe frames, so a test can assert on
// just the replay that follows a reconnect.
func (s *Server) ClearSubscribes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes = nil
}

// DropConnections force-closes every live websocket, simulating an
// unexpected mid-session disconnect. The HTTP listener stays up so clients
// can reconnect.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// ConnectionCount reports live websocket connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push delivers a message event on a channel to every live connection.
func (s *Server) Push(channel string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame := gin.H{"event": "message", "channel": channel, "data": json.RawMessage(payload)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if err := c.WriteJSON(frame); err != nil {
			return err
		}
	}
	return nil
}

// PushRaw delivers an arbitrary pre-encoded frame, malformed ones included.
func (s *Server) PushRaw(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		if err := c.WriteMessage(websocket.TextMessage, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) listSessions(c *gin.Context) {
	search := c.Query("search")
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if search != "" && !strings.Contains(sess.SessionID, search) && !strings.Contains(sess.ExternalID, search) {
			continue
		}
		if status != "" && !sess.Status.Is(session.Status(status)) {
			continue
		}
		matched = append(matched, sess)
	}

	total := len(matched)
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	data := make([]gin.H, 0, len(matched))
	for _, sess := range matched {
		data = append(data, gin.H{
			"id":          sess.ID,
			"session_id":  sess.SessionID,
			"platform":    sess.Platform,
			"external_id": sess.ExternalID,
			"status":      string(sess.Status),
			"created_at":  sess.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "total": total})
}

func (s *Server) updateStatus(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Status == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions[i].Status = session.Status(body.Status)
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

func (s *Server) resolve(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var body struct {
		ResolvedAt string `json:"resolved_at"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ResolvedAt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.sessions {
		if s.sessions[i].SessionID == sessionID {
			s.sessions[i].Status = session.StatusResolved
			s.resolved[sessionID] = body.ResolvedAt
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}

func (s *Server) history(c *gin.Context) {
	sessionID := c.Param("sessionId")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 || pageSize < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pagination"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	// Newest first, matching sort_direction=DESC.
	desc := make([]Message, len(msgs))
	for i, m := range msgs {
		desc[len(msgs)-1-i] = m
	}

	totalPages := int(math.Ceil(float64(len(desc)) / float64(pageSize)))
	start := (page - 1) * pageSize
	if start > len(desc) {
		start = len(desc)
	}
	end := start + pageSize
	if end > len(desc) {
		end = len(desc)
	}

	data := make([]gin.H, 0, end-start)
	for _, m := range desc[start:end] {
		data = append(data, gin.H{
			"id":         m.ID,
			"type":       m.Type,
			"text":       m.Text,
			"created_at": m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"data": data, "page": page, "total_pages": totalPages})
}

func (s *Server) ask(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
		Text      string `json:"text"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionID == "" || body.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.asks = append(s.asks, AskCall{SessionID: body.SessionID, Text: body.Text})
	s.nextMsgID++
	s.messages[body.SessionID] = append(s.messages[body.SessionID], Message{
		ID:        s.nextMsgID,
		Type:      "ai",
		Text:      body.Text,
		CreatedAt: time.Now(),
	})
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type clientFrame struct {
	Action        string          `json:"action"`
	Channel       string          `json:"channel"`
	LastMessageID string          `json:"lastMessageId"`
	Data          json.RawMessage `json:"data"`
	MessageID     string          `json:"messageId"`
}

func (s *Server) serveWS(c *gin.Context) {
	if c.Query("token") != s.token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conns[ws] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		s.mu.Lock()
		switch frame.Action {
		case "subscribe":
			s.subscribes = append(s.subscribes, SubscribeCall{Channel: frame.Channel, Cursor: frame.LastMessageID})
		case "publish":
			s.publishes = append(s.publishes, PublishCall{Channel: frame.Channel, MessageID: frame.MessageID, Data: frame.Data})
		}
		s.mu.Unlock()
	}
}
