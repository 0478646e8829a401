package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by Status and AwaitCompletion for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrTimeout means AwaitCompletion ran out of attempts while the session was still processing.
	ErrTimeout = errors.New("timed out waiting for session")
	// ErrEmptyAudio rejects a submission with no audio bytes.
	ErrEmptyAudio = errors.New("audio payload is empty")
	// ErrUnsupportedLanguage rejects unknown codes when Options.StrictLanguages is set.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrShuttingDown rejects submissions after Shutdown has been called.
	ErrShuttingDown = errors.New("pipeline is shutting down")

	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAdvisoryFailed      = errors.New("advisory failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")

	// errEmptyResult marks a port that returned success with nothing in it.
	errEmptyResult = errors.New("port returned an empty result")
)

// Stage identifies one step of the background run.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageAdvisory      Stage = "advisory"
	StageSynthesis     Stage = "synthesis"
)

func (s Stage) sentinel() error {
	switch s {
	case StageTranscription:
		return ErrTranscriptionFailed
	case StageAdvisory:
		return ErrAdvisoryFailed
	default:
		return ErrSynthesisFailed
	}
}

// StageError records which stage failed and why. errors.Is matches both the
// stage sentinel (ErrTranscriptionFailed, ...) and the underlying cause.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage.sentinel(), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == e.Stage.sentinel() }
