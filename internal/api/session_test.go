package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/unplugd/unplug/internal/config"
	"github.com/unplugd/unplug/internal/domain"
	"github.com/unplugd/unplug/internal/identity"
	"github.com/unplugd/unplug/internal/lifecycle"
	"github.com/unplugd/unplug/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
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
	templates := []*domain.ChallengeTemplate{
		{TemplateID: "daily-1", Type: domain.ChallengeDaily, Title: "Daily Detox", RewardCoins: 50, DurationMinutes: 30, Active: true},
		{TemplateID: "focus-1", Type: domain.ChallengeFocus, Title: "Deep Work", RewardCoins: 100, DurationMinutes: 60, Active: true},
	}
	for _, tmpl := range templates {
		if err := repo.UpsertTemplate(ctx, tmpl); err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}

	cfg := &config.Config{
		Port:                      "0",
		DBPath:                    "unused",
		MinFocusMinutes:           1,
		MaxFocusMinutes:           23 * 60,
		FreeActiveSessionLimit:    3,
		PremiumActiveSessionLimit: 5,
		SweepInterval:             time.Minute,
		SessionGracePeriod:        5 * time.Minute,
	}
	svc := lifecycle.NewService(repo, cfg)

	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	NewSessionHandler(NewHandler(repo, svc)).RegisterRoutes(r)
	NewHealthHandler(repo).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar}

	return srv, client
}

func postJSON(t *testing.T, client *http.Client, url string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]interface{}) {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestStartCompleteFlow(t *testing.T) {
	srv, client := newTestServer(t)

	status, started := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id": "daily-1",
	})
	if status != http.StatusOK {
		t.Fatalf("start status = %d, body %v", status, started)
	}
	if started["status"] != "in_progress" {
		t.Errorf("status = %v, want in_progress", started["status"])
	}
	sessionID, _ := started["session_id"].(string)
	if sessionID == "" {
		t.Fatal("missing session_id")
	}

	status, completed := postJSON(t, client, srv.URL+"/api/sessions/complete", map[string]interface{}{
		"session_id": sessionID,
		"session_metadata": map[string]interface{}{
			"duration_seconds": 600,
			"interruptions":    0,
		},
	})
	if status != http.StatusOK {
		t.Fatalf("complete status = %d, body %v", status, completed)
	}
	if got := completed["coins_earned"]; got != float64(50) {
		t.Errorf("coins_earned = %v, want 50", got)
	}
	if got := completed["new_coins"]; got != float64(50) {
		t.Errorf("new_coins = %v, want 50", got)
	}
	if got := completed["new_streak"]; got != float64(1) {
		t.Errorf("new_streak = %v, want 1", got)
	}
	if _, present := completed["feed_post"]; present {
		t.Error("feed_post present without image/note")
	}

	// Double completion is a conflict and leaves the balance unchanged.
	status, _ = postJSON(t, client, srv.URL+"/api/sessions/complete", map[string]interface{}{
		"session_id": sessionID,
	})
	if status != http.StatusConflict {
		t.Errorf("second complete status = %d, want 409", status)
	}

	status, profile := getJSON(t, client, srv.URL+"/api/profile")
	if status != http.StatusOK {
		t.Fatalf("profile status = %d", status)
	}
	if got := profile["coins"]; got != float64(50) {
		t.Errorf("coins after double complete = %v, want 50", got)
	}

	status, ledger := getJSON(t, client, srv.URL+"/api/ledger")
	if status != http.StatusOK {
		t.Fatalf("ledger status = %d", status)
	}
	entries, _ := ledger["entries"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("ledger entries = %d, want exactly 1", len(entries))
	}
}

func TestStartValidationErrors(t *testing.T) {
	srv, client := newTestServer(t)

	status, _ := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id": "no-such-template",
	})
	if status != http.StatusNotFound {
		t.Errorf("unknown template status = %d, want 404", status)
	}

	for _, minutes := range []int{0, -1, 1381} {
		status, _ := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
			"template_id":             "focus-1",
			"custom_duration_minutes": minutes,
		})
		if status != http.StatusBadRequest {
			t.Errorf("custom_duration_minutes=%d status = %d, want 400", minutes, status)
		}
	}

	status, _ = postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id":             "focus-1",
		"custom_duration_minutes": 1380,
	})
	if status != http.StatusOK {
		t.Errorf("custom_duration_minutes=1380 status = %d, want 200", status)
	}
}

func TestCompleteUnknownSession(t *testing.T) {
	srv, client := newTestServer(t)

	status, _ := postJSON(t, client, srv.URL+"/api/sessions/complete", map[string]interface{}{
		"session_id": "no-such-session",
	})
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestCompleteForeignSessionForbidden(t *testing.T) {
	srv, client := newTestServer(t)

	status, started := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id": "daily-1",
	})
	if status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}
	sessionID := started["session_id"].(string)

	// A second client gets its own anonymous identity.
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	other := &http.Client{Jar: jar}

	status, _ = postJSON(t, other, srv.URL+"/api/sessions/complete", map[string]interface{}{
		"session_id": sessionID,
	})
	if status != http.StatusForbidden {
		t.Errorf("foreign complete status = %d, want 403", status)
	}
}

func TestCancelPendingThenCompleteConflicts(t *testing.T) {
	srv, client := newTestServer(t)

	status, started := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id": "daily-1",
		"deferred":    true,
	})
	if status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}
	if started["status"] != "pending" {
		t.Fatalf("status = %v, want pending", started["status"])
	}
	sessionID := started["session_id"].(string)

	status, canceled := postJSON(t, client, srv.URL+"/api/sessions/cancel", map[string]interface{}{
		"session_id": sessionID,
	})
	if status != http.StatusOK || canceled["success"] != true {
		t.Fatalf("cancel status = %d, body %v", status, canceled)
	}

	status, _ = postJSON(t, client, srv.URL+"/api/sessions/complete", map[string]interface{}{
		"session_id": sessionID,
	})
	if status != http.StatusConflict {
		t.Errorf("complete after cancel status = %d, want 409", status)
	}
}

func TestFailEndpoint(t *testing.T) {
	srv, client := newTestServer(t)

	status, started := postJSON(t, client, srv.URL+"/api/sessions/start", map[string]interface{}{
		"template_id": "daily-1",
	})
	if status != http.StatusOK {
		t.Fatalf("start status = %d", status)
	}
	sessionID := started["session_id"].(string)

	status, failed := postJSON(t, client, srv.URL+"/api/sessions/fail", map[string]interface{}{
		"session_id": sessionID,
		"reason":     "context hidden/minimized",
		"session_metadata": map[string]interface{}{
			"duration_seconds": 42,
			"interruptions":    1,
		},
	})
	if status != http.StatusOK || failed["success"] != true {
		t.Fatalf("fail status = %d, body %v", status, failed)
	}

	// No reward on failure.
	status, profile := getJSON(t, client, srv.URL+"/api/profile")
	if status != http.StatusOK {
		t.Fatalf("profile status = %d", status)
	}
	if got := profile["coins"]; got != float64(0) {
		t.Errorf("coins after fail = %v, want 0", got)
	}

	// Failing again is a conflict, not silently accepted.
	status, _ = postJSON(t, client, srv.URL+"/api/sessions/fail", map[string]interface{}{
		"session_id": sessionID,
		"reason":     "again",
	})
	if status != http.StatusConflict {
		t.Errorf("second fail status = %d, want 409", status)
	}
}

func TestListTemplatesAndHealth(t *testing.T) {
	srv, client := newTestServer(t)

	status, templates := getJSON(t, client, srv.URL+"/api/templates")
	if status != http.StatusOK {
		t.Fatalf("templates status = %d", status)
	}
	list, _ := templates["templates"].([]interface{})
	if len(list) != 2 {
		t.Errorf("templates = %d, want 2", len(list))
	}

	status, health := getJSON(t, client, srv.URL+"/health")
	if status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	if health["status"] != "healthy" {
		t.Errorf("health = %v, want healthy", health["status"])
	}
}
