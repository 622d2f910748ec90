package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/gatecore/internal/gate"
)

// OutcomeSummary is the wire shape pushed to /events subscribers: the
// fields of a GateOutcome an operator actually wants to watch live,
// without the full Observation payload.
type OutcomeSummary struct {
	SessionKey string   `json:"session_key"`
	Scene      string   `json:"scene"`
	Action     string   `json:"action"`
	Reasons    []string `json:"reasons,omitempty"`
	ObsID      string   `json:"obs_id"`
}

// feed fans a stream of OutcomeSummary values out to every connected
// admin websocket client. A client whose backlog is full misses the new
// summary rather than blocking the publisher (the same drop-newest,
// producer-nonblocking posture the input bus uses).
type feed struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan OutcomeSummary]struct{}
}

func newFeed(logger *slog.Logger) *feed {
	return &feed{
		logger:  logger,
		clients: make(map[chan OutcomeSummary]struct{}),
	}
}

// Publish broadcasts an outcome to every connected client. Never blocks.
func (f *feed) Publish(outcome gate.GateOutcome, sessionKey, obsID string) {
	summary := OutcomeSummary{
		SessionKey: sessionKey,
		Scene:      string(outcome.Decision.Scene),
		Action:     string(outcome.Decision.Action),
		Reasons:    outcome.Decision.Reasons,
		ObsID:      obsID,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.clients {
		select {
		case ch <- summary:
		default:
			f.logger.Warn("admin event feed client backlog full, dropping outcome")
		}
	}
}

func (f *feed) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	ch := make(chan OutcomeSummary, 64)
	f.mu.Lock()
	f.clients[ch] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.clients, ch)
		f.mu.Unlock()
	}()

	// Drain client-initiated control frames (close, ping) on a
	// background goroutine so the connection processes them; no read
	// deadline is set.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case summary := <-ch:
			data, err := json.Marshal(summary)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
