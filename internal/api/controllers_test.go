package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"mt5relay/internal/events"
	"mt5relay/internal/monitor"
	"mt5relay/internal/relay"
	"mt5relay/internal/scheduler"
	"mt5relay/internal/signal"
	"mt5relay/pkg/db"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	relaySvc := relay.NewService(database, bus, metrics, "M5", 50)
	sched := scheduler.NewManager(database, relaySvc, bus, metrics, signal.DefaultParams(), time.Minute, time.Second)
	t.Cleanup(sched.StopAll)

	return NewServer(bus, database, relaySvc, sched, metrics, "test-secret", time.Second), database
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func registerAndLogin(t *testing.T, s *Server) string {
	t.Helper()
	doJSON(t, s, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "trader@example.com", "password": "hunter22",
	})
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "trader@example.com", "password": "hunter22",
	})
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatalf("login failed: %s", w.Body.String())
	}
	return token
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestRegisterLoginAndProtectedAccess(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "trader@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "trader@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}

	if w := doJSON(t, s, http.MethodGet, "/api/traders", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated access = %d, want 401", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/traders", token, nil); w.Code != http.StatusOK {
		t.Fatalf("authenticated access = %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "trader@example.com", "password": "hunter22",
	})
	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "trader@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login with bad password = %d, want 401", w.Code)
	}
}

func TestStartPollingUnknownTrader(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/start_polling", "", gin.H{"trader_id": 999})
	if w.Code != http.StatusNotFound {
		t.Fatalf("start_polling = %d, want 404: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "ko" {
		t.Fatalf("expected ko envelope, got %v", body)
	}
}

func TestStopPollingNotRunning(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/stop_polling", "", gin.H{"trader_id": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("stop_polling = %d", w.Code)
	}
	if got := decodeBody(t, w)["status"]; got != scheduler.StatusNotRunning {
		t.Fatalf("status = %v, want %q", got, scheduler.StatusNotRunning)
	}
}

func TestSignalWithoutSessions(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/signal", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("signal = %d, want 404", w.Code)
	}
}

func TestServerCRUDAndCredentialMasking(t *testing.T) {
	s, _ := newTestServer(t)
	token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/servers", token, gin.H{
		"alias": "demo", "ip": "10.0.0.5", "port": 5000,
		"login_user": "100200", "login_password": "pw", "broker_server_name": "Broker-Demo",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create server = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/servers", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list servers = %d", w.Code)
	}
	servers, _ := decodeBody(t, w)["servers"].([]any)
	if len(servers) != 1 {
		t.Fatalf("expected one server, got %d", len(servers))
	}
	if _, leaked := servers[0].(map[string]any)["login_password"]; leaked {
		t.Fatal("login_password leaked in server listing")
	}
}

func TestCreateTraderValidatesName(t *testing.T) {
	s, _ := newTestServer(t)
	token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/traders", token, gin.H{"selected_symbol": "EURUSD"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("create trader without name = %d, want 400", w.Code)
	}
}

func TestDeleteIdleTrader(t *testing.T) {
	s, database := newTestServer(t)
	token := registerAndLogin(t, s)

	id, err := database.CreateTrader(t.Context(), db.Trader{Name: "idle", Status: "active"})
	if err != nil {
		t.Fatalf("create trader: %v", err)
	}
	w := doJSON(t, s, http.MethodDelete, "/api/traders/"+strconv.FormatInt(id, 10), token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete idle trader = %d: %s", w.Code, w.Body.String())
	}
}
