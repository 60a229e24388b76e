package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/wifikey/internal/auth"
	"github.com/danmuck/wifikey/internal/feed"
	"github.com/danmuck/wifikey/internal/host"
	"github.com/danmuck/wifikey/internal/protocol/event"
	"github.com/danmuck/wifikey/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

type stubController struct {
	mu           sync.Mutex
	status       host.Status
	discoverErr  error
	submitErr    error
	submitted    []event.Event
	batches      [][]event.Event
	disconnected int
}

func (s *stubController) Status() host.Status { return s.status }
func (s *stubController) Discover() error     { return s.discoverErr }

func (s *stubController) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected++
}

func (s *stubController) SubmitInput(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, ev)
	return nil
}

func (s *stubController) SubmitBatch(events []event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return s.submitErr
	}
	s.batches = append(s.batches, events)
	return nil
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndStatus(t *testing.T) {
	testlog.Start(t)
	ctl := &stubController{status: host.Status{Running: true, Connected: true, DeviceName: "Pixel", TCPPort: 12346}}
	s := New("127.0.0.1:0", ctl, nil, nil)

	rr := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", rr.Code, rr.Body.String())
	}
	var health map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil || health["status"] != "ok" {
		t.Fatalf("unexpected health body: %s", rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/status", "")
	var st host.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if diff := cmp.Diff(ctl.status, st); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	testlog.Start(t)
	s := New("127.0.0.1:0", &stubController{}, nil, nil)
	do(t, s, http.MethodGet, "/health", "")
	rr := do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "wifikey_http_requests_total") {
		t.Fatalf("metrics missing http counter: status=%d", rr.Code)
	}
}

func TestInputSubmitsParsedEvent(t *testing.T) {
	testlog.Start(t)
	ctl := &stubController{}
	s := New("127.0.0.1:0", ctl, nil, nil)

	rr := do(t, s, http.MethodPost, "/input", `{"type":"mouse_click","x":4,"y":5,"button":"right","pressed":true,"timestamp":9}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("input status=%d body=%s", rr.Code, rr.Body.String())
	}
	want := []event.Event{event.MouseClick{X: 4, Y: 5, Button: event.ButtonRight, Pressed: true, Timestamp: 9}}
	if diff := cmp.Diff(want, ctl.submitted); diff != "" {
		t.Fatalf("submitted mismatch (-want +got):\n%s", diff)
	}

	rr = do(t, s, http.MethodPost, "/input/batch", `[{"type":"mouse_move","x":1,"y":2},{"type":"key_release","key_code":65,"key":"a"}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("batch status=%d body=%s", rr.Code, rr.Body.String())
	}
	wantBatch := [][]event.Event{{event.MouseMove{X: 1, Y: 2}, event.Key{KeyCode: 65, Key: "a"}}}
	if diff := cmp.Diff(wantBatch, ctl.batches); diff != "" {
		t.Fatalf("batch mismatch (-want +got):\n%s", diff)
	}
}

func TestInputErrorStatuses(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{name: "malformed json", body: `{"type":`, want: http.StatusBadRequest},
		{name: "not connected", body: `{"type":"mouse_move","x":1,"y":1}`, submitErr: host.ErrNotConnected, want: http.StatusConflict},
		{name: "transport", body: `{"type":"mouse_move","x":1,"y":1}`, submitErr: fmt.Errorf("%w: broken pipe", host.ErrTransport), want: http.StatusBadGateway},
		{name: "invalid event", body: `{"type":"mouse_move","x":1,"y":1}`, submitErr: event.ErrInvalidEvent, want: http.StatusBadRequest},
		{name: "too large", body: `{"type":"x","pad":"` + strings.Repeat("a", maxInputBody) + `"}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New("127.0.0.1:0", &stubController{submitErr: tc.submitErr}, nil, nil)
			rr := do(t, s, http.MethodPost, "/input", tc.body)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestDiscoverAndDisconnect(t *testing.T) {
	testlog.Start(t)
	ctl := &stubController{}
	s := New("127.0.0.1:0", ctl, nil, nil)
	if rr := do(t, s, http.MethodPost, "/discover", ""); rr.Code != http.StatusAccepted {
		t.Fatalf("discover status=%d", rr.Code)
	}
	ctl.discoverErr = host.ErrNotRunning
	if rr := do(t, s, http.MethodPost, "/discover", ""); rr.Code != http.StatusConflict {
		t.Fatalf("discover while stopped status=%d", rr.Code)
	}
	if rr := do(t, s, http.MethodPost, "/disconnect", ""); rr.Code != http.StatusOK {
		t.Fatalf("disconnect status=%d", rr.Code)
	}
	if ctl.disconnected != 1 {
		t.Fatalf("disconnect calls=%d", ctl.disconnected)
	}
}

func TestTokenGuardsAPIButNotHealth(t *testing.T) {
	testlog.Start(t)
	ctl := &stubController{}
	s := New("127.0.0.1:0", ctl, nil, nil)
	s.Auth = auth.StaticToken{Token: "s3cret"}

	if rr := do(t, s, http.MethodGet, "/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}
	if rr := do(t, s, http.MethodGet, "/status", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/disconnect", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/disconnect", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token status=%d body=%s", rr.Code, rr.Body.String())
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.disconnected != 1 {
		t.Fatalf("disconnect calls=%d", ctl.disconnected)
	}
}

func TestCORSPreflight(t *testing.T) {
	testlog.Start(t)
	s := New("127.0.0.1:0", &stubController{}, nil, []string{"http://ui.lan"})
	req := httptest.NewRequest(http.MethodOptions, "/input", nil)
	req.Header.Set("Origin", "http://ui.lan")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://ui.lan" {
		t.Fatalf("allow origin=%q", got)
	}
}

func TestServeListenerShutsDownOnCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fb := feed.NewBroadcaster(nil, 0)
	s := New(ln.Addr().String(), &stubController{}, fb, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server did not shut down")
	}
}
