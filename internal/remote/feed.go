package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/Tiliavir/work-hours-tracker/internal/model"
)

// maxSnapshotBytes bounds a single snapshot message.
const maxSnapshotBytes = 32 << 20

// Subscribe opens the collection's websocket feed. The server sends the
// current snapshot on connect and a full snapshot after every change. ctx
// bounds the handshake only; the feed runs until Close or a drop.
func (c *Client) Subscribe(ctx context.Context) (Subscription, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/collections/" + url.PathEscape(c.collection) + "/subscribe")
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	// The oauth2 transport on httpClient adds the bearer header to the handshake.
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribing: %v", ErrUnavailable, err)
	}
	conn.SetReadLimit(maxSnapshotBytes)

	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &feed{
		conn:   conn,
		cancel: cancel,
		ch:     make(chan []model.WorkEntry, 1),
	}
	go f.readLoop(feedCtx)
	return f, nil
}

type feed struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	ch     chan []model.WorkEntry

	mu     sync.Mutex
	err    error
	closed bool
}

func (f *feed) readLoop(ctx context.Context) {
	defer close(f.ch)
	for {
		_, data, err := f.conn.Read(ctx)
		if err != nil {
			f.finish(err)
			return
		}
		var snap []model.WorkEntry
		if err := json.Unmarshal(data, &snap); err != nil {
			f.finish(fmt.Errorf("decoding snapshot: %w", err))
			_ = f.conn.Close(websocket.StatusUnsupportedData, "bad snapshot")
			return
		}
		if snap == nil {
			snap = []model.WorkEntry{}
		}
		deliverLatest(f.ch, snap)
	}
}

func (f *feed) finish(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	switch {
	case errors.Is(err, context.Canceled):
		f.err = err
		return
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure, websocket.CloseStatus(err) == websocket.StatusGoingAway:
		f.err = fmt.Errorf("%w: feed closed by server", ErrUnavailable)
		return
	}
	f.err = fmt.Errorf("%w: feed dropped: %v", ErrUnavailable, err)
}

func (f *feed) Snapshots() <-chan []model.WorkEntry { return f.ch }

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close stops the feed and releases the connection. Snapshots is closed once
// the read loop has exited.
func (f *feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.err = nil
	f.mu.Unlock()

	// A feed the server already dropped fails the close handshake; nothing to report.
	_ = f.conn.Close(websocket.StatusNormalClosure, "")
	f.cancel()
	return nil
}
