package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/config"
	apperrors "github.com/GriffinCanCode/machine-listener/backend/platform/internal/errors"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

const testRate = 16000

func hum(seconds float64, f1, f2 float64, seed uint64) []float32 {
	r := rand.New(rand.NewPCG(seed, seed^0x5eed))
	out := make([]float32, int(seconds*testRate))
	for i := range out {
		t := float64(i) / testRate
		v := 0.4*math.Sin(2*math.Pi*f1*t) + 0.2*math.Sin(2*math.Pi*f2*t)
		v += 0.1 * (r.Float64()*2 - 1)
		out[i] = float32(v)
	}
	return out
}

func wav(t *testing.T, samples []float32) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(samples, testRate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.WarmupMs = 0
	cfg.ReferenceSeconds = 2
	kv := store.NewMemory()
	m := orchestrator.New(cfg, orchestrator.Deps{Models: store.NewModels(kv), Records: store.NewRecords(kv)})
	s := New(m)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
		m.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var eb ErrorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		t.Fatalf("error body %q: %v", body, err)
	}
	return eb.Error.Code
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, DELETE, OPTIONS" {
		t.Errorf("CORS methods = %q", v)
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRateLimiter(t *testing.T) {
	var rl rateLimiter
	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d refused", i+1)
		}
	}
	if rl.allow() {
		t.Error("message over the limit allowed")
	}
}

func TestStatus(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st orchestrator.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Active || st.Phase != "idle" || st.LiveInput {
		t.Errorf("Status = %+v", st)
	}
	if resp.Header.Get("x-trace-id") == "" {
		t.Error("missing trace header")
	}
}

func TestModelLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	base := ts.URL + "/api/machines/pump-1"

	resp, body := do(t, http.MethodPost, base+"/reference", wav(t, hum(10, 120, 1850, 1)))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reference status = %d: %s", resp.StatusCode, body)
	}
	var summary store.ModelSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.MachineID != "pump-1" || summary.SampleRate != testRate {
		t.Errorf("summary = %+v", summary)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/machines", nil)
	var list []store.ModelSummary
	if err := json.Unmarshal(body, &list); err != nil || resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("list = %d %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, base+"/diagnose", wav(t, hum(3, 120, 1850, 2)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("diagnose status = %d: %s", resp.StatusCode, body)
	}
	var d orchestrator.Diagnosis
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Windows == 0 || d.MeanScore <= 0 {
		t.Errorf("diagnosis = %+v", d)
	}

	resp, body = do(t, http.MethodGet, base+"/records?limit=5", nil)
	var recs []store.DiagnosisRecord
	if err := json.Unmarshal(body, &recs); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("records = %d %s", resp.StatusCode, body)
	}
	if len(recs) != min(5, d.Windows) {
		t.Errorf("records = %d", len(recs))
	}

	resp, _ = do(t, http.MethodDelete, base+"/model", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodGet, base+"/model", nil)
	if resp.StatusCode != http.StatusNotFound || errorCode(t, body) != "MODEL_NOT_FOUND" {
		t.Errorf("get after delete = %d %s", resp.StatusCode, body)
	}
}

func TestErrors(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   []byte
		status int
		code   string
	}{
		{"not wav", http.MethodPost, "/api/machines/pump-1/reference", []byte("hello"), http.StatusUnsupportedMediaType, "AUDIO_INVALID_FORMAT"},
		{"bad machine id", http.MethodGet, "/api/machines/..bad/model", nil, http.StatusBadRequest, "INVALID_MACHINE_ID"},
		{"no model", http.MethodPost, "/api/machines/pump-9/diagnose", wav(t, hum(1, 120, 1850, 1)), http.StatusNotFound, "MODEL_NOT_FOUND"},
		{"bad resample", http.MethodPost, "/api/machines/pump-1/reference?resample=x", wav(t, hum(1, 120, 1850, 1)), http.StatusBadRequest, "INFERENCE_INVALID_SAMPLE_RATE"},
		{"too short", http.MethodPost, "/api/machines/pump-1/reference", wav(t, hum(0.01, 120, 1850, 1)), http.StatusUnprocessableEntity, "EXTRACTION_BUFFER_TOO_SHORT"},
		{"bad session body", http.MethodPost, "/api/sessions/reference", []byte("{"), http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"no live input", http.MethodPost, "/api/sessions/reference", []byte(`{"machine_id":"pump-1"}`), http.StatusServiceUnavailable, "AUDIO_NO_INPUT_DEVICE"},
		{"bad limit", http.MethodGet, "/api/machines/pump-1/records?limit=-1", nil, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"bad alerts body", http.MethodPost, "/api/alerts", []byte(`{}`), http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			if code := errorCode(t, body); code != tt.code {
				t.Errorf("code = %q, want %q", code, tt.code)
			}
		})
	}
}

func TestIngestRejectsBadQuery(t *testing.T) {
	s, _ := newTestServer(t)

	for _, q := range []string{"kind=other&rate=16000", "kind=reference&rate=0", "kind=reference"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/ingest?machine_id=pump-1&"+q, http.NoBody))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, rec.Code)
		}
	}
}

func TestIngestWaitsForSlowSession(t *testing.T) {
	pipe := audio.NewPipe(testRate, 1)
	pumped := make(chan int, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		pumped <- (&Server{}).pump(r.Context(), conn, pipe)
	}))
	defer ts.Close()

	var got []float32
	read := make(chan struct{})
	go func() {
		defer close(read)
		for {
			b, err := pipe.ReadBlock()
			if err != nil {
				return
			}
			got = append(got, b...)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	const frames, frameLen = 40, 160
	sent := make([]float32, frames*frameLen)
	for i := range sent {
		sent[i] = float32(i)
	}
	for i := 0; i < len(sent); i += frameLen {
		if err := conn.Write(ctx, websocket.MessageBinary, audio.Float32ToBytes(sent[i:i+frameLen])); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")

	if n := <-pumped; n != frames {
		t.Errorf("pumped %d frames, want %d", n, frames)
	}
	pipe.Close()
	<-read
	if len(got) != len(sent) {
		t.Fatalf("session received %d samples, want %d", len(got), len(sent))
	}
	for i := range sent {
		if got[i] != sent[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], sent[i])
		}
	}
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

// readUntil reads /ws messages until one has type typ.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestWebSocketControl(t *testing.T) {
	_, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL(ts, "/ws"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	readUntil(t, ctx, conn, "status")

	if err := wsjson.Write(ctx, conn, ControlMessage{Type: "start_diagnosis", MachineID: "pump-1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	msg := readUntil(t, ctx, conn, "error")
	if msg["code"] != string(apperrors.CodeAudioNoDevice) {
		t.Errorf("error = %v", msg)
	}

	enabled := false
	if err := wsjson.Write(ctx, conn, ControlMessage{Type: "alerts", Enabled: &enabled}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if ack := readUntil(t, ctx, conn, "ack"); ack["request"] != "alerts" {
		t.Errorf("ack = %v", ack)
	}
}

func TestIngestReferenceBroadcast(t *testing.T) {
	s, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	events, _, err := websocket.Dial(ctx, wsURL(ts, "/ws"), nil)
	if err != nil {
		t.Fatalf("Dial /ws: %v", err)
	}
	defer func() { _ = events.Close(websocket.StatusNormalClosure, "") }()
	readUntil(t, ctx, events, "status")
	for s.Clients() == 0 {
		time.Sleep(time.Millisecond)
	}

	ingest, _, err := websocket.Dial(ctx, wsURL(ts, "/ws/ingest?machine_id=pump-1&kind=reference&rate=16000"), nil)
	if err != nil {
		t.Fatalf("Dial /ws/ingest: %v", err)
	}
	samples := hum(3, 120, 1850, 1)
	for i := 0; i < len(samples); i += 1600 {
		frame := audio.Float32ToBytes(samples[i:min(i+1600, len(samples))])
		if err := ingest.Write(ctx, websocket.MessageBinary, frame); err != nil {
			// the session may end and close the socket once enough signal arrived
			break
		}
	}
	_ = ingest.Close(websocket.StatusNormalClosure, "")

	msg := readUntil(t, ctx, events, string(orchestrator.EventModelTrained))
	if msg["machine_id"] != "pump-1" {
		t.Errorf("model_trained = %v", msg)
	}
	readUntil(t, ctx, events, string(orchestrator.EventSessionEnded))
}
