package adminhttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/gatecore/internal/gate"
	"github.com/nugget/gatecore/internal/gateconfig"
	"github.com/nugget/gatecore/internal/session"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	g := gate.New()
	router := session.New(nil)
	srv := New("", 0, g, router, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	}), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /pools/sink", srv.handlePool(func() *gate.Pool { return g.SinkPool }))
	mux.HandleFunc("GET /sessions", srv.handleSessions)
	mux.HandleFunc("GET /events", srv.handleEvents)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestPoolsSinkEmptyForFreshGate(t *testing.T) {
	srv, ts := newTestServer(t)
	_ = srv

	resp, err := http.Get(ts.URL + "/pools/sink")
	if err != nil {
		t.Fatalf("GET /pools/sink: %v", err)
	}
	defer resp.Body.Close()
	var entries []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty pool snapshot, got %d entries", len(entries))
	}
}

func TestSessionsListsRouterKeys(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no active sessions, got %v", keys)
	}
}

func TestEventsFeedBroadcastsOutcome(t *testing.T) {
	srv, ts := newTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine a moment to register the client.
	time.Sleep(20 * time.Millisecond)

	srv.Feed().Publish(gate.GateOutcome{
		Decision: gate.GateDecision{
			Scene:  gateconfig.Scene("chat"),
			Action: gateconfig.ActionDeliver,
		},
	}, "sess-1", "obs-1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got OutcomeSummary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SessionKey != "sess-1" || got.ObsID != "obs-1" {
		t.Errorf("got %+v, want session sess-1 obs-1", got)
	}
}
