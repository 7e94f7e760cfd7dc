// Package errors provides the service-boundary error type.
// Domain packages return sentinel errors; FromDomain classifies them into
// an AppError carrying a stable Code that maps onto HTTP and gRPC statuses.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/audio"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/capture"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/features"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/fingerprint"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/gmia"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/resilience"
	"github.com/GriffinCanCode/machine-listener/backend/platform/internal/store"
)

// Domain is the ErrorInfo domain attached to gRPC statuses.
const Domain = "machine-listener"

// Code identifies an error class across HTTP, gRPC and event payloads.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInternal          Code = "INTERNAL"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeTimeout           Code = "TIMEOUT"
	CodeCancelled         Code = "CANCELLED"
	CodeConflict          Code = "CONFLICT"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"

	CodeBufferTooShort     Code = "EXTRACTION_BUFFER_TOO_SHORT"
	CodeDegenerateSignal   Code = "EXTRACTION_DEGENERATE_SIGNAL"
	CodeEmptyDataset       Code = "TRAINING_EMPTY_DATASET"
	CodeMalformedFeatures  Code = "TRAINING_MALFORMED_FEATURES"
	CodeSingularMatrix     Code = "TRAINING_SINGULAR_MATRIX"
	CodeInsufficientSignal Code = "TRAINING_INSUFFICIENT_SIGNAL_QUALITY"
	CodeSampleRateMismatch Code = "INFERENCE_SAMPLE_RATE_MISMATCH"
	CodeInvalidSampleRate  Code = "INFERENCE_INVALID_SAMPLE_RATE"
	CodeModelNotFound      Code = "MODEL_NOT_FOUND"
	CodeInvalidMachineID   Code = "INVALID_MACHINE_ID"
	CodeAudioInvalidFormat Code = "AUDIO_INVALID_FORMAT"
	CodeAudioNoDevice      Code = "AUDIO_NO_INPUT_DEVICE"
	CodeSessionActive      Code = "SESSION_ACTIVE"
	CodeConfigInvalid      Code = "CONFIG_INVALID"
)

var grpcCodeMap = map[Code]codes.Code{
	CodeUnknown:            codes.Unknown,
	CodeInternal:           codes.Internal,
	CodeInvalidArgument:    codes.InvalidArgument,
	CodeNotFound:           codes.NotFound,
	CodeUnavailable:        codes.Unavailable,
	CodeTimeout:            codes.DeadlineExceeded,
	CodeCancelled:          codes.Canceled,
	CodeConflict:           codes.Aborted,
	CodeResourceExhausted:  codes.ResourceExhausted,
	CodeBufferTooShort:     codes.InvalidArgument,
	CodeDegenerateSignal:   codes.InvalidArgument,
	CodeEmptyDataset:       codes.InvalidArgument,
	CodeMalformedFeatures:  codes.InvalidArgument,
	CodeSingularMatrix:     codes.FailedPrecondition,
	CodeInsufficientSignal: codes.FailedPrecondition,
	CodeSampleRateMismatch: codes.FailedPrecondition,
	CodeInvalidSampleRate:  codes.InvalidArgument,
	CodeModelNotFound:      codes.NotFound,
	CodeInvalidMachineID:   codes.InvalidArgument,
	CodeAudioInvalidFormat: codes.InvalidArgument,
	CodeAudioNoDevice:      codes.Unavailable,
	CodeSessionActive:      codes.FailedPrecondition,
	CodeConfigInvalid:      codes.InvalidArgument,
}

var httpStatusMap = map[Code]int{
	CodeUnknown:            http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
	CodeInvalidArgument:    http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeUnavailable:        http.StatusServiceUnavailable,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeCancelled:          499,
	CodeConflict:           http.StatusConflict,
	CodeResourceExhausted:  http.StatusTooManyRequests,
	CodeBufferTooShort:     http.StatusUnprocessableEntity,
	CodeDegenerateSignal:   http.StatusUnprocessableEntity,
	CodeEmptyDataset:       http.StatusUnprocessableEntity,
	CodeMalformedFeatures:  http.StatusUnprocessableEntity,
	CodeSingularMatrix:     http.StatusUnprocessableEntity,
	CodeInsufficientSignal: http.StatusUnprocessableEntity,
	CodeSampleRateMismatch: http.StatusConflict,
	CodeInvalidSampleRate:  http.StatusBadRequest,
	CodeModelNotFound:      http.StatusNotFound,
	CodeInvalidMachineID:   http.StatusBadRequest,
	CodeAudioInvalidFormat: http.StatusUnsupportedMediaType,
	CodeAudioNoDevice:      http.StatusServiceUnavailable,
	CodeSessionActive:      http.StatusConflict,
	CodeConfigInvalid:      http.StatusBadRequest,
}

// domainCodes is checked in order; the first sentinel matched by errors.Is wins.
var domainCodes = []struct {
	err  error
	code Code
}{
	{features.ErrBufferTooShort, CodeBufferTooShort},
	{features.ErrDegenerateSignal, CodeDegenerateSignal},
	{fingerprint.ErrNoVectors, CodeEmptyDataset},
	{gmia.ErrEmptyDataset, CodeEmptyDataset},
	{gmia.ErrMalformedFeatures, CodeMalformedFeatures},
	{gmia.ErrSingularMatrix, CodeSingularMatrix},
	{gmia.ErrInsufficientSignalQuality, CodeInsufficientSignal},
	{gmia.ErrSampleRateMismatch, CodeSampleRateMismatch},
	{gmia.ErrInvalidSampleRate, CodeInvalidSampleRate},
	{store.ErrNotFound, CodeModelNotFound},
	{store.ErrInvalidMachineID, CodeInvalidMachineID},
	{audio.ErrNotWAV, CodeAudioInvalidFormat},
	{audio.ErrNoInputDevice, CodeAudioNoDevice},
	{audio.ErrPipeClosed, CodeUnavailable},
	{capture.ErrCommandQueueFull, CodeResourceExhausted},
	{resilience.ErrOpen, CodeUnavailable},
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// GRPCCode returns the corresponding gRPC status code.
func (e *AppError) GRPCCode() codes.Code {
	if c, ok := grpcCodeMap[e.Code]; ok {
		return c
	}
	return codes.Unknown
}

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if s, ok := httpStatusMap[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ErrorInfo converts to the google.rpc.ErrorInfo detail message.
func (e *AppError) ErrorInfo() *errdetails.ErrorInfo {
	info := &errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain}
	if len(e.Metadata) > 0 {
		info.Metadata = e.Metadata
	}
	return info
}

// GRPCStatus returns a gRPC status with the ErrorInfo attached.
func (e *AppError) GRPCStatus() *status.Status {
	st := status.New(e.GRPCCode(), e.Message)
	if withDetails, err := st.WithDetails(e.ErrorInfo()); err == nil {
		return withDetails
	}
	return st
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FromDomain classifies err into an AppError. An AppError anywhere in the
// chain is returned as is; known sentinels get their code; context errors
// map to CANCELLED/TIMEOUT; everything else is INTERNAL. nil stays nil.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	for _, dc := range domainCodes {
		if stderrors.Is(err, dc.err) {
			return &AppError{Code: dc.code, Message: err.Error(), Cause: err}
		}
	}
	switch {
	case stderrors.Is(err, context.Canceled):
		return &AppError{Code: CodeCancelled, Message: err.Error(), Cause: err}
	case stderrors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: CodeTimeout, Message: err.Error(), Cause: err}
	case store.IsConflict(err):
		return &AppError{Code: CodeConflict, Message: err.Error(), Cause: err}
	}
	return &AppError{Code: CodeInternal, Message: err.Error(), Cause: err}
}

// FromGRPCError extracts AppError from a gRPC error if present.
func FromGRPCError(err error) *AppError {
	st, ok := status.FromError(err)
	if !ok {
		return &AppError{Code: CodeUnknown, Message: err.Error(), Cause: err}
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.GetDomain() == Domain {
			return &AppError{Code: Code(info.GetReason()), Message: st.Message(), Metadata: info.GetMetadata()}
		}
	}
	return &AppError{Code: grpcToCode(st.Code()), Message: st.Message()}
}

// grpcToCode maps gRPC codes back to our error codes (best effort).
func grpcToCode(c codes.Code) Code {
	switch c {
	case codes.InvalidArgument:
		return CodeInvalidArgument
	case codes.NotFound:
		return CodeNotFound
	case codes.Unavailable:
		return CodeUnavailable
	case codes.DeadlineExceeded:
		return CodeTimeout
	case codes.Canceled:
		return CodeCancelled
	case codes.Internal:
		return CodeInternal
	case codes.Aborted:
		return CodeConflict
	case codes.ResourceExhausted:
		return CodeResourceExhausted
	default:
		return CodeUnknown
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeConflict, CodeResourceExhausted:
		return true
	default:
		return false
	}
}
