package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"group-speedrun/server/internal/run"
	"group-speedrun/server/internal/telemetry"
)

const writeWait = 5 * time.Second

type stateMessage struct {
	Type       string       `json:"type"`
	ServerTime int64        `json:"serverTime"`
	Run        run.Snapshot `json:"run"`
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcaster fans run snapshots out to every subscribed connection. Writes
// that fail detach the subscriber; the engine never learns about transport
// problems.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	logger      telemetry.Logger
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster(logger telemetry.Logger) *Broadcaster {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		logger:      logger,
	}
}

// Attach associates a connection with a participant id, replacing any
// existing subscription for the same id.
func (b *Broadcaster) Attach(id string, conn *websocket.Conn) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	b.subscribers[id] = &subscriber{conn: conn}
	b.mu.Unlock()
	if ok {
		existing.conn.Close()
	}
}

// Detach drops and closes the subscription for the participant.
func (b *Broadcaster) Detach(id string) {
	b.mu.Lock()
	existing, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		existing.conn.Close()
	}
}

// BroadcastState sends the snapshot to every subscriber.
func (b *Broadcaster) BroadcastState(snapshot run.Snapshot) {
	msg := stateMessage{
		Type:       "state",
		ServerTime: time.Now().UnixMilli(),
		Run:        snapshot,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Printf("failed to marshal state message: %v", err)
		return
	}

	b.mu.Lock()
	subs := make(map[string]*subscriber, len(b.subscribers))
	for id, sub := range b.subscribers {
		subs[id] = sub
	}
	b.mu.Unlock()

	for id, sub := range subs {
		if err := sub.send(data); err != nil {
			b.logger.Printf("failed to send state to %s: %v", id, err)
			b.Detach(id)
		}
	}
}

var _ run.Broadcaster = (*Broadcaster)(nil)
