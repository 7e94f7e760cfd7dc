package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coder/websocket"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	apperrors "github.com/GriffinCanCode/machine-listener/backend/platform/internal/errors"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// handleIngest runs a session fed by binary frames of little-endian
// float32 mono PCM: /ws/ingest?machine_id=ID&kind=reference|diagnosis&rate=HZ.
// Closing the socket ends the input; the session ending closes the socket.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	machineID := q.Get("machine_id")
	kind := orchestrator.Kind(q.Get("kind"))
	if kind != orchestrator.KindReference && kind != orchestrator.KindDiagnosis {
		writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "kind must be %q or %q", orchestrator.KindReference, orchestrator.KindDiagnosis))
		return
	}
	rate, err := strconv.Atoi(q.Get("rate"))
	if err != nil || rate <= 0 {
		writeError(w, r, apperrors.Newf(apperrors.CodeInvalidSampleRate, "invalid rate %q", q.Get("rate")))
		return
	}

	// The session is started before upgrading so start errors are plain HTTP.
	pipe := audio.NewPipe(rate, orchestrator.PipeDepth)
	start := s.orch.StartDiagnosisFrom
	if kind == orchestrator.KindReference {
		start = s.orch.StartReferenceFrom
	}
	sessionID, err := start(r.Context(), machineID, pipe)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer pipe.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(MaxIngestFrameBytes)
	log := trace.Logger(r.Context()).With("session", sessionID, "machine", machineID)
	log.Info("ingest connected", "kind", kind, "sample_rate", rate, "remote", r.RemoteAddr)

	frames := s.pump(r.Context(), conn, pipe)
	log.Info("ingest finished", "frames", frames)
}

// pump copies binary frames into pipe until either side ends. A full pipe
// stalls reading, so a slow session pushes back on the client instead of
// losing audio.
func (s *Server) pump(ctx context.Context, conn *websocket.Conn, pipe *audio.Pipe) (frames int) {
	log := trace.Logger(ctx)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug("ingest read error", "error", err)
			}
			return frames
		}
		if typ != websocket.MessageBinary {
			_ = conn.Close(websocket.StatusUnsupportedData, "expected binary float32 PCM")
			return frames
		}

		switch err := pipe.SendBytes(ctx, data); {
		case err == nil:
			frames++
		case errors.Is(err, audio.ErrPipeClosed):
			_ = conn.Close(websocket.StatusNormalClosure, "session ended")
			return frames
		case ctx.Err() != nil:
			return frames
		default:
			_ = conn.Close(websocket.StatusUnsupportedData, err.Error())
			return frames
		}
	}
}
