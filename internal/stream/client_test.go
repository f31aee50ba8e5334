package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/This-HW/hantu-quant-sub002/internal/config"
	"github.com/This-HW/hantu-quant-sub002/internal/ratelimit"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type subFrame struct {
	Header struct {
		ApprovalKey string `json:"approval_key"`
		TRType      string `json:"tr_type"`
	} `json:"header"`
	Body struct {
		Input struct {
			TRID  string `json:"tr_id"`
			TRKey string `json:"tr_key"`
		} `json:"input"`
	} `json:"body"`
}

// testServer records every subscribe frame it receives and lets the test
// push raw frames down to the client on demand.
type testServer struct {
	mu       sync.Mutex
	received []subFrame
	srv      *httptest.Server
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 4)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == pingPongControl {
				continue
			}
			var sf subFrame
			if err := json.Unmarshal(msg, &sf); err != nil {
				continue
			}
			ts.mu.Lock()
			ts.received = append(ts.received, sf)
			ts.mu.Unlock()
		}
	}))
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (ts *testServer) receivedCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.received)
}

func (ts *testServer) close() {
	ts.srv.Close()
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	creds := &config.Credentials{Server: config.ServerPaper}
	logger := log.New(io.Discard, "", 0)
	limiter := ratelimit.New(50)
	return New(url, creds, realTokenStore(t), limiter, logger)
}

// realTokenStore builds a usable TokenStore backed by a temp dir, since its
// fields are unexported and must be constructed through NewTokenStore.
func realTokenStore(t *testing.T) *config.TokenStore {
	t.Helper()
	dir := t.TempDir()
	ts, err := config.NewTokenStore(dir, config.ServerPaper)
	if err != nil {
		t.Fatalf("NewTokenStore: %v", err)
	}
	if err := ts.Save(config.Token{AccessToken: "test-approval-key", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return ts
}

func TestClient_SubscribeSendsFrameAfterConnect(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	c := newTestClient(t, ts.wsURL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	ts.nextConn(t)

	if err := c.Subscribe(ctx, "005930", []string{"H0STCNT0"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.receivedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.receivedCount() != 1 {
		t.Fatalf("server received %d subscribe frames, want 1", ts.receivedCount())
	}

	ts.mu.Lock()
	got := ts.received[0]
	ts.mu.Unlock()
	if got.Body.Input.TRID != "H0STCNT0" || got.Body.Input.TRKey != "005930" {
		t.Errorf("subscribe frame = %+v, want tr_id=H0STCNT0 tr_key=005930", got)
	}
	if got.Header.TRType != "1" {
		t.Errorf("tr_type = %q, want 1 (subscribe)", got.Header.TRType)
	}
	if got.Header.ApprovalKey != "test-approval-key" {
		t.Errorf("approval_key = %q, want test-approval-key", got.Header.ApprovalKey)
	}
	c.Close()
}

func TestClient_UnsubscribeSendsTRType2(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	c := newTestClient(t, ts.wsURL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)
	ts.nextConn(t)

	if err := c.Subscribe(ctx, "005930", []string{"H0STCNT0"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := c.Unsubscribe(ctx, "005930", []string{"H0STCNT0"}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ts.receivedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ts.receivedCount() != 2 {
		t.Fatalf("server received %d frames, want 2", ts.receivedCount())
	}
	ts.mu.Lock()
	unsub := ts.received[1]
	ts.mu.Unlock()
	if unsub.Header.TRType != "2" {
		t.Errorf("tr_type = %q, want 2 (unsubscribe)", unsub.Header.TRType)
	}

	c.subMu.Lock()
	n := len(c.subs)
	c.subMu.Unlock()
	if n != 0 {
		t.Errorf("active subs = %d after unsubscribe, want 0", n)
	}
	c.Close()
}

func TestClient_DispatchesTradeFrameToCallback(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	c := newTestClient(t, ts.wsURL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Frame, 1)
	c.On("H0STCNT0", func(f Frame) { received <- f })

	go c.Run(ctx)
	conn := ts.nextConn(t)

	fields := sampleTradeFields()
	body := fields[0]
	for _, f := range fields[1:] {
		body += "|" + f
	}
	raw := "0|H0STCNT0|001|" + body
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case frame := <-received:
		if frame.Trade == nil || frame.Trade.Code != "005930" {
			t.Errorf("dispatched frame = %+v, want trade for 005930", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatched frame")
	}
	c.Close()
}

func TestClient_CallbackPanicDoesNotStopOthers(t *testing.T) {
	ts := newTestServer(t)
	defer ts.close()

	c := newTestClient(t, ts.wsURL())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	second := make(chan Frame, 1)
	c.On("H0STCNT0", func(Frame) { panic("boom") })
	c.On("H0STCNT0", func(f Frame) { second <- f })

	go c.Run(ctx)
	conn := ts.nextConn(t)

	fields := sampleTradeFields()
	body := fields[0]
	for _, f := range fields[1:] {
		body += "|" + f
	}
	raw := "0|H0STCNT0|001|" + body
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second callback never ran after first panicked")
	}
	c.Close()
}
