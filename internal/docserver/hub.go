package docserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// hub fans collection snapshots out to websocket subscribers. Snapshot
// reads and writes happen under one lock so every subscriber sees
// snapshots in commit order.
type hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*websocket.Conn]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, subs: map[string]map[*websocket.Conn]struct{}{}}
}

// join registers conn and sends it the current snapshot.
func (h *hub) join(ctx context.Context, collection string, conn *websocket.Conn, snapshot func(context.Context) ([]Document, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	docs, err := snapshot(ctx)
	if err != nil {
		return err
	}
	if err := h.write(conn, docs); err != nil {
		return err
	}
	if h.subs[collection] == nil {
		h.subs[collection] = map[*websocket.Conn]struct{}{}
	}
	h.subs[collection][conn] = struct{}{}
	h.log.Debug("subscriber joined", "collection", collection, "subscribers", len(h.subs[collection]))
	return nil
}

func (h *hub) leave(collection string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[collection][conn]; ok {
		delete(h.subs[collection], conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.log.Debug("subscriber left", "collection", collection, "subscribers", len(h.subs[collection]))
	}
}

// publish sends the current snapshot of collection to all its subscribers.
func (h *hub) publish(ctx context.Context, collection string, snapshot func(context.Context) ([]Document, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.subs[collection]
	if len(conns) == 0 {
		return
	}
	docs, err := snapshot(ctx)
	if err != nil {
		h.log.Warn("snapshot for subscribers failed", "collection", collection, "error", err)
		return
	}
	for conn := range conns {
		if err := h.write(conn, docs); err != nil {
			h.log.Warn("dropping subscriber", "collection", collection, "error", err)
			delete(conns, conn)
			_ = conn.CloseNow()
		}
	}
}

func (h *hub) write(conn *websocket.Conn, docs []Document) error {
	data, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// count returns the number of subscribers of collection.
func (h *hub) count(collection string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[collection])
}

// closeAll disconnects every subscriber.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for collection, conns := range h.subs {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.subs, collection)
	}
}
