package realtime

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CursorNow subscribes from the present moment, skipping channel history.
const CursorNow = "$"

const (
	actionSubscribe = "subscribe"
	actionPublish   = "publish"

	eventMessage = "message"
)

type outboundFrame struct {
	Action        string          `json:"action"`
	Channel       string          `json:"channel"`
	LastMessageID string          `json:"lastMessageId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	MessageID     string          `json:"messageId,omitempty"`
}

type inboundFrame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

func parseInboundFrame(raw []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return inboundFrame{}, err
	}
	if frame.Event == "" {
		return inboundFrame{}, errors.New("missing event")
	}
	return frame, nil
}

// newMessageID builds a publish id from the current time plus a random
// suffix, so concurrent publishers never need a shared sequence.
func newMessageID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d-0", time.Now().UnixMilli())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf))
}
