// Package feed streams outcome events to websocket subscribers.
package feed

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/cgs-simulator/internal/logging"
	"github.com/signalsfoundry/cgs-simulator/internal/outcome"
)

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn  *websocket.Conn
	kinds map[outcome.Kind]bool
	mu    sync.Mutex
}

func (s *subscriber) wants(k outcome.Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

func (s *subscriber) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Hub is an outcome.Recorder that broadcasts each event as a JSON text frame.
// Clients may restrict the stream with ?kind=bundle.delivered,bundle.dropped.
type Hub struct {
	upgrader websocket.Upgrader
	log      logging.Logger

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewHub returns a hub with no subscribers.
func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:  log,
		subs: make(map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "feed upgrade failed", logging.Err(err))
		return
	}
	sub := &subscriber{conn: conn, kinds: parseKinds(r.URL.Query().Get("kind"))}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Debug(r.Context(), "feed subscriber connected", logging.String("remote", r.RemoteAddr))

	go h.readLoop(sub)
}

// readLoop drains client frames until the connection closes.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.drop(sub)
	for {
		if _, _, err := sub.conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Record broadcasts ev. Subscribers whose write fails are disconnected.
func (h *Hub) Record(ctx context.Context, ev outcome.Event) error {
	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		if s.wants(ev.Kind) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return nil
	}

	frame, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	log := logging.LoggerFromContext(ctx)
	if log == nil {
		log = h.log
	}
	for _, s := range targets {
		if err := s.write(frame); err != nil {
			log.Debug(ctx, "feed subscriber dropped", logging.Err(err))
			h.drop(s)
		}
	}
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.mu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.mu.Unlock()
		_ = s.conn.Close()
	}
}

func parseKinds(raw string) map[outcome.Kind]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[outcome.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[outcome.Kind(k)] = true
		}
	}
	return kinds
}
