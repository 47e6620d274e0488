package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/config"
	"github.com/hamed0406/uptimed/internal/control"
	"github.com/hamed0406/uptimed/internal/daemon"
	"github.com/hamed0406/uptimed/internal/dashboard"
	"github.com/hamed0406/uptimed/internal/domain"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
	"github.com/hamed0406/uptimed/internal/repo/memory"
)

const site = "https://example.com/"

// ---- test helpers ----

type fakeStatus struct{}

func (fakeStatus) Hosts() []daemon.HostStatus {
	return []daemon.HostStatus{{Host: site, Poller: "running", Availability: "up"}}
}

func (fakeStatus) Status() control.StatusMessage {
	return control.StatusMessage{
		Website:  []config.Website{{URL: "https://example.com"}},
		Database: config.Database{Driver: "memory", Database: "uptime-checker"},
	}
}

func setup(t *testing.T) (*httptest.Server, *memory.Store, *Hub) {
	t.Helper()
	store := memory.New()
	now := time.Now().UTC()
	err := store.Write(context.Background(), []domain.Record{
		domain.NewCode(site, 200, now.Add(-time.Minute)),
		domain.NewDuration(domain.HTTPResponseTime, site, 120*time.Millisecond, now.Add(-time.Minute)),
		domain.NewAvailability(site, 100, now.Add(-time.Minute)),
		domain.NewAlert(site, "ALERT: Website https://example.com/ is down.", now.Add(-30*time.Second)),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	hub := NewHub(zap.NewNop())
	srv := NewServer(zap.NewNop(), fakeStatus{}, dashboard.NewService(store), hub)
	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}
	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, 10_000, 10_000))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, store, hub
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---- tests ----

func TestHealthzIsOpen(t *testing.T) {
	ts, _, _ := setup(t)
	if resp := get(t, ts.URL+"/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

func TestStatusNeedsKey(t *testing.T) {
	ts, _, _ := setup(t)
	if resp := get(t, ts.URL+"/api/status", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	resp := get(t, ts.URL+"/api/status", "pub_test")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var hosts []daemon.HostStatus
	if err := json.NewDecoder(resp.Body).Decode(&hosts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hosts) != 1 || hosts[0].Host != site || hosts[0].Availability != "up" {
		t.Fatalf("unexpected hosts: %+v", hosts)
	}
}

func TestSummaryAndAlerts(t *testing.T) {
	ts, _, _ := setup(t)

	resp := get(t, ts.URL+"/api/hosts/summary", "pub_test")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary: want 200, got %d", resp.StatusCode)
	}
	var sums []dashboard.Summary
	if err := json.NewDecoder(resp.Body).Decode(&sums); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(sums) != 1 || sums[0].Codes["200"] != 1 || sums[0].ResponseTime.Max != 120 {
		t.Fatalf("unexpected summary: %+v", sums)
	}

	resp = get(t, ts.URL+"/api/hosts/alerts?host=https://EXAMPLE.com", "pub_test")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("alerts: want 200, got %d", resp.StatusCode)
	}
	var alerts []alertView
	if err := json.NewDecoder(resp.Body).Decode(&alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 || !strings.HasPrefix(alerts[0].Message, "ALERT:") {
		t.Fatalf("unexpected alerts: %+v", alerts)
	}

	if resp := get(t, ts.URL+"/api/hosts/alerts?since=yesterday", "pub_test"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad since: want 400, got %d", resp.StatusCode)
	}
	if resp := get(t, ts.URL+"/api/hosts/summary?host=ftp://x", "pub_test"); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad host: want 400, got %d", resp.StatusCode)
	}
}

func TestConfigIsAdminOnly(t *testing.T) {
	ts, _, _ := setup(t)
	if resp := get(t, ts.URL+"/api/config", "pub_test"); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("public key: want 403, got %d", resp.StatusCode)
	}
	resp := get(t, ts.URL+"/api/config", "adm_test")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin key: want 200, got %d", resp.StatusCode)
	}
	var st control.StatusMessage
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(st.Website) != 1 || st.Database.Driver != "memory" {
		t.Fatalf("unexpected config: %+v", st)
	}
}

func TestLiveAlertsOverWebsocket(t *testing.T) {
	ts, _, hub := setup(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/live"
	hdr := http.Header{}
	hdr.Set("X-API-Key", "pub_test")
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.BroadcastAlert(domain.NewAlert(site, "RECOVERED: Website https://example.com/ is now up.", time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg struct {
		Type    string    `json:"type"`
		Payload LiveAlert `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "alert" || msg.Payload.Host != site || !strings.HasPrefix(msg.Payload.Message, "RECOVERED") {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
