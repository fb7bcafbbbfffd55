package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/copytrade/router/internal/domain"
)

const (
	streamWriteWait     = 10 * time.Second
	streamPongWait      = 30 * time.Second
	streamPingPeriod    = (streamPongWait * 9) / 10
	streamHandshakeWait = 15 * time.Second
)

// StreamEvent is the raw shape the pool's streaming connection emits, before
// the position monitor (C4) classifies it into an Opened/Updated/Closed
// domain.Event.
type StreamEvent struct {
	Type        string          `json:"type"` // onPositionUpdated | onPositionRemoved | onDealAdded | onPositionsSynchronized
	AccountID   string          `json:"accountId"`
	Position    domain.Position `json:"position"`
	DealComment string          `json:"dealComment"`
	DealProfit  float64         `json:"dealProfit"`
}

// StreamConn is a live subscription to one account's streaming position
// feed. Close tears it down; Events delivers raw StreamEvents until the
// connection drops, at which point the channel is closed and Err reports
// why.
type StreamConn struct {
	conn   *websocket.Conn
	events chan StreamEvent
	errc   chan error

	closeOnce sync.Once
	done      chan struct{}
}

// InitializeStreaming opens a streaming connection to the pool service for
// the given account/region and subscribes to the given symbols.
func (c *Client) InitializeStreaming(ctx context.Context, account, region string, symbols []string) (*StreamConn, error) {
	wsURL := toWebsocketURL(c.baseURL) + "/streaming/subscribe"

	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeWait}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pool: streaming dial: %w", err)
	}

	sub := map[string]any{
		"account": account,
		"region":  region,
		"symbols": symbols,
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pool: streaming subscribe: %w", err)
	}

	sc := &StreamConn{
		conn:   conn,
		events: make(chan StreamEvent, 64),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	go sc.readLoop()
	go sc.pingLoop()

	return sc, nil
}

// Events returns the channel of raw streaming events. It is closed when the
// connection drops or Close is called.
func (sc *StreamConn) Events() <-chan StreamEvent {
	return sc.events
}

// Err returns the error that caused the connection to drop, if any. Reads
// are non-blocking; call only after Events() has been observed closed.
func (sc *StreamConn) Err() error {
	select {
	case err := <-sc.errc:
		return err
	default:
		return nil
	}
}

// Close tears down the streaming connection.
func (sc *StreamConn) Close() {
	sc.closeOnce.Do(func() {
		close(sc.done)
		_ = sc.conn.Close()
	})
}

func (sc *StreamConn) readLoop() {
	defer close(sc.events)
	for {
		_, raw, err := sc.conn.ReadMessage()
		if err != nil {
			select {
			case sc.errc <- fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err):
			default:
			}
			return
		}
		var evt StreamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			continue
		}
		select {
		case sc.events <- evt:
		case <-sc.done:
			return
		}
	}
}

func (sc *StreamConn) pingLoop() {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sc.done:
			return
		case <-ticker.C:
			sc.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toWebsocketURL(httpURL string) string {
	switch {
	case len(httpURL) >= 5 && httpURL[:5] == "https":
		return "wss" + httpURL[5:]
	case len(httpURL) >= 4 && httpURL[:4] == "http":
		return "ws" + httpURL[4:]
	default:
		return httpURL
	}
}
