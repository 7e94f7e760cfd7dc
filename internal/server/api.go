package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	apperrors "github.com/GriffinCanCode/machine-listener/backend/platform/internal/errors"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/orchestrator"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/trace"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail names the error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionRequest starts a live session.
type SessionRequest struct {
	MachineID string `json:"machine_id"`
}

// SessionResponse identifies a started session.
type SessionResponse struct {
	SessionID string            `json:"session_id"`
	Kind      orchestrator.Kind `json:"kind"`
	MachineID string            `json:"machine_id"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toAppError(err error) *apperrors.AppError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.Wrapf(err, apperrors.CodeResourceExhausted, "body exceeds %d bytes", tooLarge.Limit)
	}
	return apperrors.FromDomain(err)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := toAppError(err)
	status := appErr.HTTPStatus()
	log := trace.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "code", appErr.Code, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "code", appErr.Code, "error", err)
	}
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: string(appErr.Code), Message: appErr.Message}})
}

func (s *Server) handleStartSession(kind orchestrator.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "body must be {\"machine_id\": ...}"))
			return
		}
		start := s.orch.StartDiagnosis
		if kind == orchestrator.KindReference {
			start = s.orch.StartReference
		}
		id, err := start(r.Context(), req.MachineID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, SessionResponse{SessionID: id, Kind: kind, MachineID: req.MachineID})
	}
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Stop(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "body must be {\"enabled\": true|false}"))
		return
	}
	s.orch.SetAlerting(*req.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"alerts_enabled": *req.Enabled})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.ListModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// readWAV decodes the request body. With ?resample=<rate> the audio is
// converted to that rate first.
func readWAV(w http.ResponseWriter, r *http.Request) ([]float32, int, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		return nil, 0, err
	}
	if v := r.URL.Query().Get("resample"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return nil, 0, apperrors.Newf(apperrors.CodeInvalidSampleRate, "invalid resample rate %q", v)
		}
		samples, err := audio.ResampleWAV(data, rate)
		return samples, rate, err
	}
	return audio.DecodeWAV(data)
}

func (s *Server) handleUploadReference(w http.ResponseWriter, r *http.Request) {
	samples, rate, err := readWAV(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.orch.TrainFromSamples(r.Context(), r.PathValue("id"), samples, rate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleUploadDiagnosis(w http.ResponseWriter, r *http.Request) {
	samples, rate, err := readWAV(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.orch.DiagnoseSamples(r.Context(), r.PathValue("id"), samples, rate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Model(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Summary())
}

func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteModel(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModelHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.ModelHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRecordLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v))
			return
		}
		limit = min(n, MaxRecordLimit)
	}
	recs, err := s.orch.RecentRecords(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.RecentScores(r.PathValue("id"), RecentScoresWindow))
}
