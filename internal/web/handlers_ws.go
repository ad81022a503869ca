package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"matter-bridge/internal/bridge"
)

const (
	wsQueueLen     = 64
	wsReadLimit    = 4096
	wsWriteTimeout = 10 * time.Second
)

// EventSnapshot is the first message a WebSocket client receives.
const EventSnapshot = "snapshot"

// eventFeed fans bridge events out to WebSocket subscribers. Every
// subscriber has a bounded queue and is dropped once it falls behind.
type eventFeed struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
}

func newSubscriber(conn *websocket.Conn, queueLen int) *subscriber {
	return &subscriber{conn: conn, queue: make(chan []byte, queueLen)}
}

func newEventFeed(logger *slog.Logger) *eventFeed {
	return &eventFeed{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// join adds sub after queueing first() on it. Holding the feed lock across
// both steps means no event published after first() ran can be missed.
// It reports false once the feed is closed.
func (f *eventFeed) join(sub *subscriber, first func() ([]byte, error)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if first != nil {
		msg, err := first()
		if err != nil {
			f.logger.Error("ws initial message", "err", err)
		} else {
			sub.queue <- msg
		}
	}
	f.subs[sub] = struct{}{}
	f.logger.Debug("ws client connected", "total", len(f.subs))
	return true
}

// leave removes sub and closes its queue. Unknown subscribers are ignored.
func (f *eventFeed) leave(sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.queue)
	f.logger.Debug("ws client disconnected", "total", len(f.subs))
}

// publish encodes ev once and queues it on every subscriber.
func (f *eventFeed) publish(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("ws marshal", "err", err)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.queue <- data:
		default:
			delete(f.subs, sub)
			close(sub.queue)
			f.logger.Warn("ws client dropped, queue full")
		}
	}
}

func (f *eventFeed) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// close drops every subscriber and refuses new ones. Safe to call twice.
func (f *eventFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.queue)
	}
}

func (s *Server) snapshotMessage() ([]byte, error) {
	return json.Marshal(bridge.Event{Type: EventSnapshot, Data: s.bridge.Devices()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(s.allowedOrigins) > 0 {
		opts.OriginPatterns = s.allowedOrigins
	}
	// With no patterns set nhooyr enforces same-origin.
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Error("ws accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sub := newSubscriber(conn, wsQueueLen)
	if !s.feed.join(sub, s.snapshotMessage) {
		conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		s.pumpOut(sub)
		cancel()
	}()

	// Clients never send anything useful; reading drives the close handshake.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	s.feed.leave(sub)
}

// pumpOut writes queued messages until the queue is closed or a write fails.
func (s *Server) pumpOut(sub *subscriber) {
	for msg := range sub.queue {
		ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		err := sub.conn.Write(ctx, websocket.MessageText, msg)
		cancel()
		if err != nil {
			return
		}
	}
	sub.conn.Close(websocket.StatusNormalClosure, "")
}
