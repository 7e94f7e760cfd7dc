// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator/history"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// Orchestrator is the manager surface the server drives.
type Orchestrator interface {
	StartReference(ctx context.Context, machineID string) (string, error)
	StartDiagnosis(ctx context.Context, machineID string) (string, error)
	StartReferenceFrom(ctx context.Context, machineID string, src capture.Source) (string, error)
	StartDiagnosisFrom(ctx context.Context, machineID string, src capture.Source) (string, error)
	Stop() error
	Status() orchestrator.Status
	Events() <-chan orchestrator.Event
	SetAlerting(enabled bool)

	TrainFromSamples(ctx context.Context, machineID string, samples []float32, sampleRate int) (*store.ModelSummary, error)
	DiagnoseSamples(ctx context.Context, machineID string, samples []float32, sampleRate int) (*orchestrator.Diagnosis, error)
	ListModels(ctx context.Context) ([]store.ModelSummary, error)
	Model(ctx context.Context, machineID string) (*store.ModelRecord, error)
	ModelHistory(ctx context.Context, machineID string) ([]store.ModelSummary, error)
	DeleteModel(ctx context.Context, machineID string) error
	RecentRecords(ctx context.Context, machineID string, limit int) ([]store.DiagnosisRecord, error)
	RecentScores(machineID string, d time.Duration) []history.Entry
}

// Message is the envelope of client control messages on /ws.
type Message struct {
	Type string `json:"type"`
}

// ControlMessage starts or stops a live session.
// Types: start_reference, start_diagnosis, stop, alerts.
type ControlMessage struct {
	Type      string `json:"type"`
	MachineID string `json:"machine_id,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AckMessage answers a control message.
type AckMessage struct {
	Type      string `json:"type"`
	Request   string `json:"request"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorMessage reports a failed control message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one /ws subscriber with its own outbound queue.
type client struct {
	conn    *websocket.Conn
	out     chan any
	limiter rateLimiter
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch    Orchestrator
	mu      sync.RWMutex
	clients map[*client]struct{}
	dropped atomic.Int64
	done    chan struct{}
}

// New creates a server and starts broadcasting orchestrator events.
func New(orch Orchestrator) *Server {
	s := &Server{
		orch:    orch,
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
	go s.broadcastEvents()
	return s
}

// Close stops the broadcaster. Open connections end with their requests.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoints
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /ws/ingest", s.handleIngest)

	// Live sessions
	mux.HandleFunc("POST /api/sessions/reference", s.handleStartSession(orchestrator.KindReference))
	mux.HandleFunc("POST /api/sessions/diagnosis", s.handleStartSession(orchestrator.KindDiagnosis))
	mux.HandleFunc("POST /api/sessions/stop", s.handleStopSession)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/alerts", s.handleAlerts)

	// Machines and models
	mux.HandleFunc("GET /api/machines", s.handleListModels)
	mux.HandleFunc("POST /api/machines/{id}/reference", s.handleUploadReference)
	mux.HandleFunc("POST /api/machines/{id}/diagnose", s.handleUploadDiagnosis)
	mux.HandleFunc("GET /api/machines/{id}/model", s.handleGetModel)
	mux.HandleFunc("DELETE /api/machines/{id}/model", s.handleDeleteModel)
	mux.HandleFunc("GET /api/machines/{id}/history", s.handleModelHistory)
	mux.HandleFunc("GET /api/machines/{id}/records", s.handleRecords)
	mux.HandleFunc("GET /api/machines/{id}/scores", s.handleScores)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	baseCtx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	c := &client{conn: conn, out: make(chan any, ClientQueueSize)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	go s.writeLoop(baseCtx, cancel, c)

	// greet with the current state so late joiners can render
	c.send(s.statusMessage())

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !c.limiter.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.send(ErrorMessage{Type: "error", Code: "RESOURCE_EXHAUSTED", Message: "rate limit exceeded"})
			continue
		}

		var ctl ControlMessage
		if err := json.Unmarshal(msg, &ctl); err != nil {
			c.send(ErrorMessage{Type: "error", Code: "INVALID_ARGUMENT", Message: "malformed message"})
			continue
		}
		ctx := baseCtx
		if ctl.TraceID != "" {
			ctx = trace.WithContext(ctx, trace.Continue(ctl.TraceID, ""))
		} else {
			ctx, _ = trace.EnsureContext(ctx)
		}
		c.send(s.handleControl(ctx, ctl))
	}
}

func (s *Server) handleControl(ctx context.Context, ctl ControlMessage) any {
	ctx, span := trace.StartSpan(ctx, "handle_control")
	span.SetAttr("type", ctl.Type)

	var (
		id  string
		err error
	)
	switch ctl.Type {
	case "start_reference":
		id, err = s.orch.StartReference(ctx, ctl.MachineID)
	case "start_diagnosis":
		id, err = s.orch.StartDiagnosis(ctx, ctl.MachineID)
	case "stop":
		err = s.orch.Stop()
	case "alerts":
		if ctl.Enabled == nil {
			span.Finish(nil)
			return ErrorMessage{Type: "error", Code: "INVALID_ARGUMENT", Message: "alerts needs enabled"}
		}
		s.orch.SetAlerting(*ctl.Enabled)
	case "status":
		span.Finish(nil)
		return s.statusMessage()
	default:
		span.Finish(nil)
		return ErrorMessage{Type: "error", Code: "INVALID_ARGUMENT", Message: "unknown message type " + ctl.Type}
	}
	span.Finish(err)
	if err != nil {
		appErr := toAppError(err)
		return ErrorMessage{Type: "error", Code: string(appErr.Code), Message: appErr.Message}
	}
	return AckMessage{Type: "ack", Request: ctl.Type, SessionID: id}
}

// StatusMessage carries a status snapshot over /ws.
type StatusMessage struct {
	Type   string              `json:"type"`
	Status orchestrator.Status `json:"status"`
}

func (s *Server) statusMessage() StatusMessage {
	return StatusMessage{Type: "status", Status: s.orch.Status()}
}

// send queues v without blocking; a full queue drops it.
func (c *client) send(v any) bool {
	select {
	case c.out <- v:
		return true
	default:
		return false
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-c.out:
			wctx, wcancel := context.WithTimeout(ctx, WriteTimeout)
			err := wsjson.Write(wctx, c.conn, v)
			wcancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				return
			}
		}
	}
}

func (s *Server) broadcastEvents() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.orch.Events():
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) broadcast(v any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !c.send(v) {
			s.dropped.Add(1)
		}
	}
}

// Clients returns the number of connected /ws subscribers.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
