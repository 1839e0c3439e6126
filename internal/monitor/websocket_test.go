package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/unplugd/unplug/internal/config"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/identity"
	"github.com/unplugd/unplug/internal/lifecycle"
	"github.com/unplugd/unplug/internal/store"
)

const testUserID = "anon_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// fakeClock lets the test drive the gateway's notion of time. The offset is
// atomic because the gateway reads the clock from its connection goroutine.
type fakeClock struct {
	base   time.Time
	offset atomic.Int64
}

func (c *fakeClock) Now() time.Time {
	return c.base.Add(time.Duration(c.offset.Load()))
}

func (c *fakeClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

func newGatewayServer(t *testing.T) (*httptest.Server, store.Repository, *lifecycle.Service, *fakeClock) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	ctx := context.Background()
	tmpl := &domain.ChallengeTemplate{
		TemplateID:      "daily-short",
		Type:            domain.ChallengeDaily,
		Title:           "Short Detox",
		RewardCoins:     50,
		DurationMinutes: 1,
		Active:          true,
	}
	if err := repo.UpsertTemplate(ctx, tmpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	if err := repo.EnsureProfile(ctx, testUserID); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}

	cfg := &config.Config{
		MinFocusMinutes:           1,
		MaxFocusMinutes:           23 * 60,
		FreeActiveSessionLimit:    3,
		PremiumActiveSessionLimit: 5,
		SweepInterval:             time.Minute,
		SessionGracePeriod:        5 * time.Minute,
	}
	svc := lifecycle.NewService(repo, cfg)

	clock := &fakeClock{base: time.Now()}
	gateway := NewGatewayHandler(repo, svc, NewRegistry(), "*", true)
	gateway.now = clock.Now

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	r.Handle("/ws/monitor", gateway)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return srv, repo, svc, clock
}

func dialMonitor(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor?session_id=" + sessionID
	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testUserID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial monitor: %v", err)
	}
	t.Cleanup(func() {
		_ = ws.Close(websocket.StatusNormalClosure, "test done")
	})
	return ws
}

func sendMonitorMessage(t *testing.T, ws *websocket.Conn, msg map[string]interface{}) {
	t.Helper()

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal monitor message: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write monitor message: %v", err)
	}
}

func readMonitorResult(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read monitor result: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode monitor result: %v", err)
	}
	return decoded
}

func TestGatewayCompletesSessionOnTick(t *testing.T) {
	srv, repo, svc, clock := newGatewayServer(t)

	sess, err := svc.Start(context.Background(), testUserID, "daily-short", nil, false)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ws := dialMonitor(t, srv, sess.SessionID)

	// Mid-countdown tick produces no terminal event; a ping confirms the
	// gateway consumed it before the clock advances further.
	clock.Advance(30 * time.Second)
	sendMonitorMessage(t, ws, map[string]interface{}{"type": "tick"})
	sendMonitorMessage(t, ws, map[string]interface{}{"type": "ping"})
	if pong := readMonitorResult(t, ws); pong["type"] != "pong" {
		t.Fatalf("expected pong, got %v", pong)
	}

	clock.Advance(31 * time.Second)
	sendMonitorMessage(t, ws, map[string]interface{}{"type": "tick"})

	result := readMonitorResult(t, ws)
	if result["type"] != "completed" {
		t.Fatalf("result type = %v, want completed", result["type"])
	}
	if got := result["duration_seconds"]; got != float64(60) {
		t.Errorf("duration_seconds = %v, want 60", got)
	}
	if got := result["coins_earned"]; got != float64(50) {
		t.Errorf("coins_earned = %v, want 50", got)
	}

	stored, err := repo.GetSession(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != domain.StatusCompleted {
		t.Errorf("session status = %s, want completed", stored.Status)
	}
}

func TestGatewayFailsSessionOnHide(t *testing.T) {
	srv, repo, svc, clock := newGatewayServer(t)

	sess, err := svc.Start(context.Background(), testUserID, "daily-short", nil, false)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	ws := dialMonitor(t, srv, sess.SessionID)

	clock.Advance(10 * time.Second)
	sendMonitorMessage(t, ws, map[string]interface{}{"type": "visibility", "hidden": true})

	result := readMonitorResult(t, ws)
	if result["type"] != "failed" {
		t.Fatalf("result type = %v, want failed", result["type"])
	}
	if got := result["reason"]; got != ReasonHidden {
		t.Errorf("reason = %v, want %q", got, ReasonHidden)
	}
	if got := result["interruptions"]; got != float64(1) {
		t.Errorf("interruptions = %v, want 1", got)
	}

	ctx := context.Background()
	stored, err := repo.GetSession(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.Status != domain.StatusFailed {
		t.Errorf("session status = %s, want failed", stored.Status)
	}

	profile, err := repo.GetProfile(ctx, testUserID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Coins != 0 {
		t.Errorf("coins after failure = %d, want 0", profile.Coins)
	}
}

func TestGatewayRejectsBeforeUpgrade(t *testing.T) {
	srv, _, svc, _ := newGatewayServer(t)

	pending, err := svc.Start(context.Background(), testUserID, "daily-short", nil, true)
	if err != nil {
		t.Fatalf("start deferred session: %v", err)
	}

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"missing session_id", "", http.StatusBadRequest},
		{"unknown session", "?session_id=no-such-session", http.StatusNotFound},
		{"session not in progress", "?session_id=" + pending.SessionID, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/monitor"+tc.query, nil)
			if err != nil {
				t.Fatalf("build request: %v", err)
			}
			req.Header.Set("Cookie", identity.AnonCookieName+"="+testUserID)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestRegistryRegisterAndGetActive(t *testing.T) {
	reg := NewRegistry()
	conn := &websocket.Conn{}

	reg.Register("user123", "sess-1", conn)

	if active := reg.GetActive("user123", "sess-1"); active != conn {
		t.Errorf("Expected connection %v, got %v", conn, active)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry()
	conn := &websocket.Conn{}

	reg.Register("user123", "sess-1", conn)
	reg.Unregister("user123", "sess-1", conn)

	if active := reg.GetActive("user123", "sess-1"); active != nil {
		t.Errorf("Expected nil connection, got %v", active)
	}
}

func TestRegistryUnregisterStale(t *testing.T) {
	reg := NewRegistry()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	reg.Register("user123", "sess-1", conn1)
	reg.Register("user123", "sess-2", conn2)

	// A stale unregister for one session must not evict another.
	reg.Unregister("user123", "sess-1", conn1)

	if active := reg.GetActive("user123", "sess-2"); active != conn2 {
		t.Errorf("Expected connection %v, got %v", conn2, active)
	}
}
