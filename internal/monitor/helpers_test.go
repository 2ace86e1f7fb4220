package monitor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yzhangec/mavic-qrscan/internal/control"
	"github.com/yzhangec/mavic-qrscan/internal/frameslot"
	"github.com/yzhangec/mavic-qrscan/internal/metrics"
	"github.com/yzhangec/mavic-qrscan/internal/scanner"
)

const defaultRequestTimeout = 2 * time.Second

type testEnv struct {
	slot     *frameslot.Slot
	log      *scanner.ResultLog
	joystick *control.Joystick
	server   *Server
	http     *httptest.Server
	client   *http.Client
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	m := metrics.New()
	env := &testEnv{
		slot:     frameslot.New(m),
		log:      scanner.NewResultLog(),
		joystick: control.NewJoystick(nil, control.DefaultLimits()),
		client:   &http.Client{Timeout: defaultRequestTimeout},
	}
	env.server = NewServer(cfg, Deps{
		SessionID: "test-session",
		Period:    200 * time.Millisecond,
		Frames:    env.slot,
		Results:   env.log,
		Metrics:   m,
		Joystick:  env.joystick,
	})
	env.server.Start()
	env.http = httptest.NewServer(env.server.Handler())

	t.Cleanup(func() {
		env.server.Stop()
		env.http.Close()
	})
	return env
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RenderInterval = 10 * time.Millisecond
	cfg.StatusInterval = 50 * time.Millisecond
	return cfg
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.client.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := e.client.Post(e.http.URL+path, "application/json", body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

// readSSEEvents reads n events (blank-line terminated blocks, comments skipped).
func readSSEEvents(url string, header http.Header, n int, timeout time.Duration) ([]string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var events []string
	var cur []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			if len(cur) > 0 {
				events = append(events, strings.Join(cur, "\n"))
				cur = nil
				if len(events) == n {
					return events, resp.Header, nil
				}
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		cur = append(cur, line)
	}
	if err := sc.Err(); err != nil {
		return events, resp.Header, fmt.Errorf("read sse: %w", err)
	}
	return events, resp.Header, fmt.Errorf("sse stream closed after %d events", len(events))
}

func sseField(t *testing.T, event, field string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, field+":") {
			return strings.TrimSpace(strings.TrimPrefix(line, field+":"))
		}
	}
	t.Fatalf("no %s line in sse event: %q", field, event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireString(t, payload["session_id"], "session_id")
	requireNumber(t, payload["uptime_s"], "uptime_s")
	requireNumber(t, payload["timestamp"], "timestamp")

	frame := requireMap(t, payload["frame"], "frame")
	requireNumber(t, frame["width"], "frame.width")
	requireNumber(t, frame["height"], "frame.height")
	requireNumber(t, frame["seq"], "frame.seq")

	scan := requireMap(t, payload["scan"], "scan")
	requireNumber(t, scan["period_ms"], "scan.period_ms")
	requireNumber(t, scan["cycles"], "scan.cycles")
	requireNumber(t, scan["retries"], "scan.retries")
	requireNumber(t, scan["decode_latency_ms"], "scan.decode_latency_ms")

	results := requireMap(t, payload["results"], "results")
	requireNumber(t, results["count"], "results.count")
	requireSlice(t, results["recent"], "results.recent")

	display := requireMap(t, payload["display"], "display")
	requireNumber(t, display["clients"], "display.clients")
	requireNumber(t, display["current_fps"], "display.current_fps")
}
