package processing

import (
	"errors"
	"fmt"
)

// Kind tags every way Process can fail.
type Kind string

const (
	KindBusy                 Kind = "Busy"
	KindResourceExhausted    Kind = "ResourceExhausted"
	KindNotFound             Kind = "NotFound"
	KindAlreadyExists        Kind = "AlreadyExists"
	KindTranscriptionFailure Kind = "TranscriptionFailure"
	KindAnalysisFailure      Kind = "AnalysisFailure"
	KindPersistenceFailure   Kind = "PersistenceFailure"
)

type kindError Kind

func (k kindError) Error() string { return string(k) }

// Sentinels for errors.Is against a *Error of the same kind.
var (
	ErrBusy                 error = kindError(KindBusy)
	ErrResourceExhausted    error = kindError(KindResourceExhausted)
	ErrNotFound             error = kindError(KindNotFound)
	ErrAlreadyExists        error = kindError(KindAlreadyExists)
	ErrTranscriptionFailure error = kindError(KindTranscriptionFailure)
	ErrAnalysisFailure      error = kindError(KindAnalysisFailure)
	ErrPersistenceFailure   error = kindError(KindPersistenceFailure)
)

// Error is the tagged failure returned by Process.
type Error struct {
	Kind  Kind
	JobID string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: job %s: %s", e.Kind, e.JobID, e.Msg)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && Kind(k) == e.Kind
}

// FailsJob reports whether this kind moves the job to FAILED. Admission
// rejections leave the job untouched.
func (k Kind) FailsJob() bool {
	switch k {
	case KindTranscriptionFailure, KindAnalysisFailure, KindPersistenceFailure:
		return true
	}
	return false
}

// KindOf extracts the Kind of err, or "" when err is not a *Error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func newError(kind Kind, jobID string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, JobID: jobID, Msg: fmt.Sprintf(format, args...), Err: err}
}
