// Package stream implements the outbound KIS WebSocket client: connect,
// subscribe/unsubscribe, frame parsing, and a reconnect loop that replays
// active subscriptions (spec.md §4.5).
//
// Grounded on the teacher's cmd/dashboard/websocket.go ping/pong and
// read/write pump discipline, adapted from an inbound server connection to
// an outbound client dialing KIS.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
	"github.com/This-HW/hantu-quant-sub002/internal/config"
	"github.com/This-HW/hantu-quant-sub002/internal/ratelimit"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	reconnectDelay  = 5 * time.Second
	resubscribeGap  = 500 * time.Millisecond
	pingPongControl = "PINGPONG"
)

// subscription is one active (code, tr_id) pair replayed on reconnect.
type subscription struct {
	Code string
	TRID string
}

// Client is a single outbound connection to the KIS real-time WS endpoint.
// One Client multiplexes every subscribed code and TR-ID over one socket,
// matching spec.md §4.5's "one socket per account."
type Client struct {
	url     string
	creds   *config.Credentials
	tokens  *config.TokenStore
	limiter *ratelimit.Limiter
	log     *log.Logger

	writeMu sync.Mutex // guards conn writes; conn itself is reconnected under connMu
	connMu  sync.Mutex
	conn    *websocket.Conn

	subMu sync.Mutex
	subs  []subscription

	cbMu      sync.Mutex
	callbacks map[string][]func(Frame)

	closed chan struct{}
	once   sync.Once
}

// New builds a Client. The limiter should be the same instance the REST
// client uses for this account, since subscribe/unsubscribe frames count
// against the same KIS rate budget (spec.md §4.2).
func New(url string, creds *config.Credentials, tokens *config.TokenStore, limiter *ratelimit.Limiter, logger *log.Logger) *Client {
	return &Client{
		url:       url,
		creds:     creds,
		tokens:    tokens,
		limiter:   limiter,
		log:       logger,
		callbacks: make(map[string][]func(Frame)),
		closed:    make(chan struct{}),
	}
}

// On registers a callback invoked for every parsed frame with a matching
// TR-ID. Multiple callbacks may be registered per TR-ID; each runs under a
// recover guard so a panicking callback cannot take down the read pump or
// starve its siblings.
func (c *Client) On(trID string, cb func(Frame)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks[trID] = append(c.callbacks[trID], cb)
}

// Subscribe adds (code, each of trIDs) to the active subscription set and,
// if currently connected, sends the subscribe frame immediately.
func (c *Client) Subscribe(ctx context.Context, code string, trIDs []string) error {
	c.subMu.Lock()
	for _, tr := range trIDs {
		c.subs = append(c.subs, subscription{Code: code, TRID: tr})
	}
	c.subMu.Unlock()

	for _, tr := range trIDs {
		if err := c.sendSubFrame(ctx, code, tr, "1"); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes (code, each of trIDs) from the active subscription
// set and sends the unsubscribe frame if connected.
func (c *Client) Unsubscribe(ctx context.Context, code string, trIDs []string) error {
	remove := make(map[string]bool, len(trIDs))
	for _, tr := range trIDs {
		remove[tr] = true
	}

	c.subMu.Lock()
	kept := c.subs[:0]
	for _, s := range c.subs {
		if s.Code == code && remove[s.TRID] {
			continue
		}
		kept = append(kept, s)
	}
	c.subs = kept
	c.subMu.Unlock()

	for _, tr := range trIDs {
		if err := c.sendSubFrame(ctx, code, tr, "2"); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the connection and stops Run's reconnect loop.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run dials, serves, and reconnects on failure until ctx is cancelled or
// Close is called. Each reconnect attempt waits a fixed 5s before retrying,
// per spec.md §4.5 — no exponential backoff, since a flaky feed must
// recover promptly.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		default:
		}

		if err := c.connectAndServe(ctx); err != nil {
			c.log.Printf("stream: connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return &alert.TransientNetworkError{Msg: "stream: dial", Err: err}
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer conn.Close()

	if err := c.resubscribeAll(ctx); err != nil {
		c.log.Printf("stream: resubscribe after connect: %v", err)
	}

	done := make(chan struct{})
	go c.writePump(conn, done)
	defer close(done)

	return c.readPump(conn)
}

// resubscribeAll replays every active subscription in order with 0.5s
// spacing through the shared rate limiter, so a reconnect doesn't burst the
// KIS subscribe endpoint (spec.md §4.5).
func (c *Client) resubscribeAll(ctx context.Context) error {
	c.subMu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subMu.Unlock()

	for i, s := range subs {
		if i > 0 {
			time.Sleep(resubscribeGap)
		}
		if err := c.sendSubFrame(ctx, s.Code, s.TRID, "1"); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendSubFrame(ctx context.Context, code, trID, trType string) error {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return nil // not connected yet; subscription already recorded, will replay on connect
	}

	frame := struct {
		Header struct {
			ApprovalKey string `json:"approval_key"`
			CustType    string `json:"custtype"`
			TRType      string `json:"tr_type"`
			ContentType string `json:"content-type"`
		} `json:"header"`
		Body struct {
			Input struct {
				TRID  string `json:"tr_id"`
				TRKey string `json:"tr_key"`
			} `json:"input"`
		} `json:"body"`
	}{}
	frame.Header.ApprovalKey = c.tokens.Current().AccessToken
	frame.Header.CustType = "P"
	frame.Header.TRType = trType
	frame.Header.ContentType = "utf-8"
	frame.Body.Input.TRID = trID
	frame.Body.Input.TRKey = code

	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("stream: marshal subscribe frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// writePump sends periodic pings so the server-side read deadline never
// lapses while the connection is otherwise idle.
func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump consumes frames until the connection errors or closes. PINGPONG
// control frames are swallowed; everything else is parsed and dispatched.
func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("stream: unexpected close: %w", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		raw := string(msg)
		if raw == pingPongControl {
			continue
		}

		frame, ok := parseFrame(raw)
		if !ok {
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	c.cbMu.Lock()
	cbs := append([]func(Frame){}, c.callbacks[frame.TRID]...)
	c.cbMu.Unlock()

	for _, cb := range cbs {
		c.invoke(cb, frame)
	}
}

func (c *Client) invoke(cb func(Frame), frame Frame) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("stream: callback panic for tr_id=%s: %v", frame.TRID, r)
		}
	}()
	cb(frame)
}
