package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"tipsettle/core/events"
	"tipsettle/core/types"
)

const wsWriteTimeout = 10 * time.Second

// StreamGauge tracks open subscriptions. It may be nil.
type StreamGauge interface {
	StreamOpened()
	StreamClosed()
}

type subscriber struct {
	id      uuid.UUID
	filter  map[string]struct{}
	updates chan *types.Event
}

// Stream fans committed engine events out to websocket subscribers. It
// satisfies events.Emitter so it can sit in the engine's emitter chain.
// Subscribers that fall behind by more than the buffer are disconnected.
type Stream struct {
	buffer int
	gauge  StreamGauge
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[uuid.UUID]*subscriber
}

// NewStream creates a broadcaster with a per-subscriber buffer.
func NewStream(buffer int, gauge StreamGauge, logger *slog.Logger) *Stream {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{buffer: buffer, gauge: gauge, logger: logger, subscribers: make(map[uuid.UUID]*subscriber)}
}

// Emit implements events.Emitter.
func (s *Stream) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subscribers {
		if len(sub.filter) > 0 {
			if _, ok := sub.filter[payload.Type]; !ok {
				continue
			}
		}
		select {
		case sub.updates <- payload.Clone():
		default:
			s.logger.Warn("event stream subscriber too slow, disconnecting", "subscriber", id.String())
			close(sub.updates)
			delete(s.subscribers, id)
		}
	}
}

// Subscribe registers a subscriber. An empty filter receives every event type.
// The returned channel is closed by cancel or when the subscriber falls behind.
func (s *Stream) Subscribe(filter []string) (uuid.UUID, <-chan *types.Event, func()) {
	sub := &subscriber{id: uuid.New(), updates: make(chan *types.Event, s.buffer)}
	if len(filter) > 0 {
		sub.filter = make(map[string]struct{}, len(filter))
		for _, t := range filter {
			sub.filter[t] = struct{}{}
		}
	}
	s.mu.Lock()
	s.subscribers[sub.id] = sub
	s.mu.Unlock()
	if s.gauge != nil {
		s.gauge.StreamOpened()
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subscribers[sub.id]; ok {
				close(sub.updates)
				delete(s.subscribers, sub.id)
			}
			s.mu.Unlock()
			if s.gauge != nil {
				s.gauge.StreamClosed()
			}
		})
	}
	return sub.id, sub.updates, cancel
}

// Len reports the number of live subscribers.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// ServeHTTP upgrades the request and streams events as JSON text frames.
// ?type=a,b restricts the stream to the named event types.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter = append(filter, t)
			}
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	id, updates, cancel := s.Subscribe(filter)
	defer cancel()
	s.logger.Debug("event stream opened", "subscriber", id.String())

	ctx := conn.CloseRead(r.Context())
	if err := s.pump(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Stream) pump(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			data, err := json.Marshal(evt)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
