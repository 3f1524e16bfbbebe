package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/matrix-core/internal/history"
	"github.com/nerrad567/matrix-core/internal/infrastructure/config"
	"github.com/nerrad567/matrix-core/internal/infrastructure/logging"
	"github.com/nerrad567/matrix-core/internal/matrix"
)

const testAdminPassword = "correct-horse"

// fakeSession records dispatched commands and resolves every future
// with scripted errors.
type fakeSession struct {
	mu       sync.Mutex
	calls    []string
	buildErr error // returned from the command method itself
	awaitErr error // resolved into the future
}

func (f *fakeSession) record(call string) (*matrix.Future, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return matrix.NewCompletedFuture(nil, f.awaitErr), nil
}

func (f *fakeSession) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeSession) Snapshot() matrix.Snapshot { return matrix.Snapshot{} }
func (f *fakeSession) Available() bool           { return true }
func (f *fakeSession) State() matrix.SessionState {
	return matrix.StateConnected
}
func (f *fakeSession) Stats() matrix.SessionStats {
	return matrix.SessionStats{State: "connected", Reconnects: 2}
}

func (f *fakeSession) SetRouting(o, i matrix.PortID) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("route %d %d", o, i))
}
func (f *fakeSession) SavePreset(s int) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("save %d", s))
}
func (f *fakeSession) RecallPreset(s int) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("recall %d", s))
}
func (f *fakeSession) ClearPreset(s int) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("clear %d", s))
}
func (f *fakeSession) SetOutputHDCP(o matrix.PortID, m matrix.HDCPMode) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("hdcp %d %s", o, m))
}
func (f *fakeSession) SetOutputScaler(o matrix.PortID, m matrix.ScalerMode) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("scaler %d %s", o, m))
}
func (f *fakeSession) SetOutputHDR(o matrix.PortID, m matrix.HDRMode) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("hdr %d %s", o, m))
}
func (f *fakeSession) SetOutputStream(o matrix.PortID, e bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("stream %d %v", o, e))
}
func (f *fakeSession) SetOutputARC(o matrix.PortID, e bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("arc %d %v", o, e))
}
func (f *fakeSession) SetOutputExtAudio(o matrix.PortID, e bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("exa %d %v", o, e))
}
func (f *fakeSession) SetAudioMode(m matrix.AudioMode) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("audiomode %d", m))
}
func (f *fakeSession) SetOutputAudioSource(o matrix.PortID, src matrix.AudioSource) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("audiosrc %d %d", o, src))
}
func (f *fakeSession) SetInputEDID(i matrix.PortID, p matrix.EDIDPreset) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("edid %d %d", i, p))
}
func (f *fakeSession) CopyEDID(i, o matrix.PortID) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("copyedid %d %d", i, o))
}
func (f *fakeSession) SendCEC(out bool, p matrix.PortID, tok string) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("cec %v %d %s", out, p, tok))
}
func (f *fakeSession) SetInputName(i matrix.PortID, n string) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("iname %d %s", i, n))
}
func (f *fakeSession) SetOutputName(o matrix.PortID, n string) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("oname %d %s", o, n))
}
func (f *fakeSession) SetPower(on bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("power %v", on))
}
func (f *fakeSession) SetBeep(on bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("beep %v", on))
}
func (f *fakeSession) SetPanelLock(on bool) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("lock %v", on))
}
func (f *fakeSession) SetLogo(t string) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("logo %s", t))
}
func (f *fakeSession) SetLCDTimeout(t matrix.LCDTimeout) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("lcd %d", t))
}
func (f *fakeSession) Reboot() (*matrix.Future, error)       { return f.record("reboot") }
func (f *fakeSession) FactoryReset() (*matrix.Future, error) { return f.record("reset") }
func (f *fakeSession) SendRaw(w string) (*matrix.Future, error) {
	return f.record(fmt.Sprintf("raw %s", w))
}

// fakeHistory is an in-memory history.Repository.
type fakeHistory struct {
	entries []history.Entry
}

func (f *fakeHistory) RecordChange(_ context.Context, field, oldValue, newValue, source string) error {
	f.entries = append(f.entries, history.Entry{
		Field: field, OldValue: oldValue, NewValue: newValue, Source: source,
		CreatedAt: time.Now(),
	})
	return nil
}

func (f *fakeHistory) GetHistory(_ context.Context, field string, limit int) ([]history.Entry, error) {
	var out []history.Entry
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if field == "" || f.entries[i].Field == field {
			out = append(out, f.entries[i])
		}
	}
	return out, nil
}

func (f *fakeHistory) Prune(_ context.Context, _ time.Duration) (int64, error) { return 0, nil }

// testServer wires a Server around fakes and exposes it via httptest.
type testServer struct {
	srv     *Server
	session *fakeSession
	http    *httptest.Server
	token   string
}

func newTestServer(t *testing.T, session *fakeSession, repo history.Repository) *testServer {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	srv, err := New(Deps{
		Config: config.APIConfig{
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         "0123456789abcdef0123456789abcdef",
				AccessTokenTTL: 5,
				AdminPassword:  testAdminPassword,
			},
		},
		Logger:  logger,
		Session: session,
		History: repo,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.started = time.Now()
	srv.hub = NewHub(srv.wsCfg, logger)
	go srv.hub.Run(ctx)

	hs := httptest.NewServer(srv.buildRouter())
	t.Cleanup(hs.Close)

	ts := &testServer{srv: srv, session: session, http: hs}
	ts.token = ts.fetchToken(t, testAdminPassword)
	return ts
}

func (ts *testServer) fetchToken(t *testing.T, password string) string {
	t.Helper()
	body := fmt.Sprintf(`{"password":%q}`, password)
	resp, err := http.Post(ts.http.URL+"/api/v1/auth/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("token request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token request status = %d", resp.StatusCode)
	}
	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	return tok.AccessToken
}

// do performs an authenticated request and returns the response.
func (ts *testServer) do(t *testing.T, method, path string, body string) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return doc
}

// TestHealth_NoAuth verifies the health endpoint is reachable without
// a token.
func TestHealth_NoAuth(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp, err := http.Get(ts.http.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["status"] != "ok" {
		t.Errorf("status field = %v", doc["status"])
	}
}

// TestToken_WrongPassword verifies a bad password is rejected.
func TestToken_WrongPassword(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	body := `{"password":"wrong"}`
	resp, err := http.Post(ts.http.URL+"/api/v1/auth/token", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

// TestAuth_MissingToken verifies protected routes reject unauthenticated
// requests.
func TestAuth_MissingToken(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp, err := http.Get(ts.http.URL + "/api/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

// TestAuth_GarbageToken verifies a malformed bearer token is rejected.
func TestAuth_GarbageToken(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.http.URL+"/api/v1/state", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

// TestGetState verifies the snapshot endpoint returns the state document.
func TestGetState(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp := ts.do(t, http.MethodGet, "/api/v1/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["available"] != true {
		t.Errorf("available = %v", doc["available"])
	}
	state, ok := doc["state"].(map[string]any)
	if !ok {
		t.Fatal("state section missing")
	}
	if _, ok := state["routing"]; !ok {
		t.Error("state missing routing section")
	}
}

// TestGetStateField verifies the per-section read and the 404 for an
// unknown section.
func TestGetStateField(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp := ts.do(t, http.MethodGet, "/api/v1/state/power", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["field"] != "power" {
		t.Errorf("field = %v", doc["field"])
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/state/bogus", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown field status = %d, want 404", resp.StatusCode)
	}
}

// TestSetRouting verifies the routing command reaches the session and
// the response carries the refreshed state.
func TestSetRouting(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/routing", `{"output":3,"input":7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := ts.session.lastCall(); got != "route 3 7" {
		t.Errorf("session call = %q", got)
	}
	doc := decodeJSON(t, resp)
	if doc["status"] != "ok" {
		t.Errorf("status field = %v", doc["status"])
	}
	if _, ok := doc["state"]; !ok {
		t.Error("response missing state document")
	}
}

// TestCommand_InvalidArgument verifies validation failures map to 400.
func TestCommand_InvalidArgument(t *testing.T) {
	session := &fakeSession{buildErr: matrix.ErrInvalidArgument}
	ts := newTestServer(t, session, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/routing", `{"output":99,"input":7}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

// TestCommand_NotConnected verifies a disconnected session maps to 503.
func TestCommand_NotConnected(t *testing.T) {
	session := &fakeSession{buildErr: matrix.ErrNotConnected}
	ts := newTestServer(t, session, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/power", `{"on":true}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

// TestCommand_DeviceFailure verifies a command the device rejected maps
// to 502 with the error detail.
func TestCommand_DeviceFailure(t *testing.T) {
	session := &fakeSession{awaitErr: fmt.Errorf("%w: %w", matrix.ErrCommandFailed, matrix.ErrCommandError)}
	ts := newTestServer(t, session, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/outputs/2/hdcp", `{"mode":"hdcp1.4"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

// TestCommand_Timeout verifies an unconfirmed command maps to 504.
func TestCommand_Timeout(t *testing.T) {
	session := &fakeSession{awaitErr: matrix.ErrCommandTimeout}
	ts := newTestServer(t, session, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/presets/3/recall", "")
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
}

// TestCommandEndpoints_Dispatch exercises the remaining command routes
// and checks each reaches the session with the decoded arguments.
func TestCommandEndpoints_Dispatch(t *testing.T) {
	tests := []struct {
		path string
		body string
		call string
	}{
		{"/api/v1/presets/2/save", "", "save 2"},
		{"/api/v1/presets/5/clear", "", "clear 5"},
		{"/api/v1/outputs/1/scaler", `{"mode":"4k->1080p"}`, "scaler 1 4k->1080p"},
		{"/api/v1/outputs/4/hdr", `{"mode":"passthrough"}`, "hdr 4 passthrough"},
		{"/api/v1/outputs/2/stream", `{"enable":true}`, "stream 2 true"},
		{"/api/v1/outputs/6/arc", `{"enable":false}`, "arc 6 false"},
		{"/api/v1/outputs/3/ext-audio", `{"enable":true}`, "exa 3 true"},
		{"/api/v1/outputs/5/audio-source", `{"source":11}`, "audiosrc 5 11"},
		{"/api/v1/outputs/7/name", `{"name":"Lounge TV"}`, "oname 7 Lounge TV"},
		{"/api/v1/inputs/2/edid", `{"preset":22}`, "edid 2 22"},
		{"/api/v1/inputs/4/name", `{"name":"Sky Box"}`, "iname 4 Sky Box"},
		{"/api/v1/edid/copy", `{"input":1,"output":5}`, "copyedid 1 5"},
		{"/api/v1/audio/mode", `{"code":2}`, "audiomode 2"},
		{"/api/v1/cec", `{"target":"output","port":2,"command":"vol+"}`, "cec true 2 vol+"},
		{"/api/v1/beep", `{"on":false}`, "beep false"},
		{"/api/v1/lock", `{"on":true}`, "lock true"},
		{"/api/v1/logo", `{"text":"MATRIX"}`, "logo MATRIX"},
		{"/api/v1/lcd", `{"code":2}`, "lcd 2"},
		{"/api/v1/system/reboot", "", "reboot"},
		{"/api/v1/system/raw", `{"raw":"s output 1 in source 2"}`, "raw s output 1 in source 2"},
	}

	ts := newTestServer(t, &fakeSession{}, nil)
	for _, tt := range tests {
		resp := ts.do(t, http.MethodPost, tt.path, tt.body)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tt.path, resp.StatusCode)
			continue
		}
		resp.Body.Close()
		if got := ts.session.lastCall(); got != tt.call {
			t.Errorf("%s: session call = %q, want %q", tt.path, got, tt.call)
		}
	}
}

// TestFactoryReset_ConfirmGuard verifies the confirmation string is
// required before the reset reaches the device.
func TestFactoryReset_ConfirmGuard(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp := ts.do(t, http.MethodPost, "/api/v1/system/factory-reset", `{"confirm":"yes"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ts.session.lastCall() != "" {
		t.Fatal("reset reached the session without confirmation")
	}

	resp = ts.do(t, http.MethodPost, "/api/v1/system/factory-reset", `{"confirm":"FACTORY RESET"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := ts.session.lastCall(); got != "reset" {
		t.Errorf("session call = %q, want reset", got)
	}
}

// TestGetHistory verifies filtering, the limit guard, and the 503 when
// no repository is wired.
func TestGetHistory(t *testing.T) {
	repo := &fakeHistory{}
	//nolint:errcheck // in-memory fake never fails
	repo.RecordChange(context.Background(), "routing.1", "1", "4", history.SourceDevice)
	//nolint:errcheck // in-memory fake never fails
	repo.RecordChange(context.Background(), "power", "", "true", history.SourceDevice)
	ts := newTestServer(t, &fakeSession{}, repo)

	resp := ts.do(t, http.MethodGet, "/api/v1/history?field=routing.1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["count"] != float64(1) {
		t.Errorf("count = %v, want 1", doc["count"])
	}

	resp = ts.do(t, http.MethodGet, "/api/v1/history?limit=zero", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", resp.StatusCode)
	}

	bare := newTestServer(t, &fakeSession{}, nil)
	resp = bare.do(t, http.MethodGet, "/api/v1/history", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("no repo status = %d, want 503", resp.StatusCode)
	}
}

// TestMetrics_NoAuth verifies the monitoring endpoint is reachable
// without a token and carries the queue counters.
func TestMetrics_NoAuth(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp, err := http.Get(ts.http.URL + "/api/v1/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	if doc["session_state"] != "connected" {
		t.Errorf("session_state = %v", doc["session_state"])
	}
	if doc["reconnects"] != float64(2) {
		t.Errorf("reconnects = %v", doc["reconnects"])
	}
}

// TestSystemStatus verifies the session telemetry endpoint.
func TestSystemStatus(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	resp := ts.do(t, http.MethodGet, "/api/v1/system/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	doc := decodeJSON(t, resp)
	session, ok := doc["session"].(map[string]any)
	if !ok {
		t.Fatal("session section missing")
	}
	if session["state"] != "connected" {
		t.Errorf("state = %v", session["state"])
	}
	if session["reconnects"] != float64(2) {
		t.Errorf("reconnects = %v", session["reconnects"])
	}
}

// TestWebSocket_TicketFlowAndBroadcast verifies the ticket handshake,
// channel subscription, and diff broadcast end to end.
func TestWebSocket_TicketFlowAndBroadcast(t *testing.T) {
	ts := newTestServer(t, &fakeSession{}, nil)

	// Fetch a single-use ticket with the bearer token.
	resp := ts.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ticket status = %d", resp.StatusCode)
	}
	var ticketDoc struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticketDoc); err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/v1/ws?ticket=" + ticketDoc.Ticket
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	// Subscribe to the state channel.
	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"state"}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}
	var ackMsg WSMessage
	if err := conn.ReadJSON(&ackMsg); err != nil {
		t.Fatal(err)
	}
	if ackMsg.Type != WSTypeResponse {
		t.Fatalf("subscribe response type = %q", ackMsg.Type)
	}

	// Broadcast a diff and expect it on the socket.
	ts.srv.BroadcastDiff(matrix.Diff{matrix.FieldPower: true})

	//nolint:errcheck // deadline best-effort; read error reported below
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != "state" {
		t.Fatalf("event = %+v", event)
	}
	payload, ok := event.Payload.(map[string]any)
	if !ok || payload[string(matrix.FieldPower)] != true {
		t.Errorf("payload = %v", event.Payload)
	}

	// The ticket is single-use: a second dial must be rejected.
	if _, resp2, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("reused ticket accepted")
	} else if resp2 != nil && resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket status = %d, want 401", resp2.StatusCode)
	}
}
