// Package interaction defines the Interaction record written by the session
// pipeline and the stores that persist it.
//
// An Interaction is created in the processing state and moves exactly once to
// either completed or failed. Stores enforce that: a Patch applied to a
// terminal record is rejected with ErrTerminal, and a stage field that has
// already been populated cannot be overwritten.
package interaction

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/amruthjakku/AgriVoice/internal/language"
)

// Status is the lifecycle state of an Interaction.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("interaction not found")
	// ErrStoreUnavailable wraps backend failures (network, driver, SQL).
	ErrStoreUnavailable = errors.New("interaction store unavailable")
	// ErrTerminal is returned when a Patch targets a completed or failed record.
	ErrTerminal = errors.New("interaction already terminal")
	// ErrFieldSet is returned when a Patch would overwrite a populated stage field.
	ErrFieldSet = errors.New("interaction field already populated")
	// ErrInvalidTransition is returned for a status change other than processing -> terminal.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Interaction is one voice query and its audit record.
type Interaction struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	UserPhone      string    `json:"user_phone,omitempty"`
	Language       string    `json:"language"`
	Transcript     string    `json:"transcript,omitempty"`
	AnswerText     string    `json:"answer_text,omitempty"`
	AnswerAudioURL string    `json:"answer_audio_url,omitempty"`
	Intent         string    `json:"intent,omitempty"`
	Tags           []string  `json:"tags"`
	Status         Status    `json:"status"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	AudioDuration  float64   `json:"audio_duration"`
	ProcessingTime int64     `json:"processing_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	// Language resolves a record submitted as language.Auto.
	Language       *string
	Transcript     *string
	AnswerText     *string
	AnswerAudioURL *string
	Intent         *string
	Tags           []string
	Status         *Status
	FailureReason  *string
	ProcessingTime *time.Duration
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s Status) *Status { return &s }

// Apply validates p against rec and mutates rec in place, stamping UpdatedAt.
func (p Patch) Apply(rec *Interaction, now time.Time) error {
	if rec.Status.Terminal() {
		return errors.Wrapf(ErrTerminal, "session %s is %s", rec.SessionID, rec.Status)
	}
	if p.Status != nil && *p.Status != StatusProcessing && !p.Status.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", rec.Status, *p.Status)
	}
	if p.Language != nil {
		if rec.Language != language.Auto {
			return errors.Wrap(ErrFieldSet, "language")
		}
		rec.Language = *p.Language
	}
	if err := setOnce(&rec.Transcript, p.Transcript, "transcript"); err != nil {
		return err
	}
	if err := setOnce(&rec.AnswerText, p.AnswerText, "answer_text"); err != nil {
		return err
	}
	if err := setOnce(&rec.AnswerAudioURL, p.AnswerAudioURL, "answer_audio_url"); err != nil {
		return err
	}
	if err := setOnce(&rec.Intent, p.Intent, "intent"); err != nil {
		return err
	}
	if p.Tags != nil {
		if len(rec.Tags) > 0 {
			return errors.Wrap(ErrFieldSet, "tags")
		}
		rec.Tags = append([]string{}, p.Tags...)
	}
	if p.FailureReason != nil {
		rec.FailureReason = *p.FailureReason
	}
	if p.ProcessingTime != nil {
		rec.ProcessingTime = p.ProcessingTime.Milliseconds()
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	rec.UpdatedAt = now.UTC()
	return nil
}

func setOnce(dst *string, v *string, name string) error {
	if v == nil {
		return nil
	}
	if *dst != "" {
		return errors.Wrap(ErrFieldSet, name)
	}
	*dst = *v
	return nil
}

// Filter narrows List results. Zero values mean unbounded; Limit defaults to 100.
type Filter struct {
	From  time.Time
	To    time.Time
	Limit int
}

// DefaultListLimit caps List when Filter.Limit is unset.
const DefaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Store persists Interactions.
type Store interface {
	// Create inserts rec and returns it with its store-assigned ID.
	Create(ctx context.Context, rec Interaction) (Interaction, error)
	// Update applies p to the record with the given internal id.
	Update(ctx context.Context, id string, p Patch) (Interaction, error)
	// GetBySessionID returns ErrNotFound when no record matches.
	GetBySessionID(ctx context.Context, sessionID string) (Interaction, error)
	// List returns records newest first.
	List(ctx context.Context, f Filter) ([]Interaction, error)
}

// UserProfile is a caller known by phone number.
type UserProfile struct {
	ID                string    `json:"id"`
	Phone             string    `json:"phone"`
	PreferredLanguage string    `json:"preferred_language"`
	Village           string    `json:"village,omitempty"`
	State             string    `json:"state,omitempty"`
	Crops             []string  `json:"crops"`
	TotalInteractions int       `json:"total_interactions"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ProfileStore persists caller profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, phone string) (UserProfile, error)
	UpsertProfile(ctx context.Context, p UserProfile) (UserProfile, error)
	// IncrementInteractions bumps the lifetime counter. Unknown phones are a no-op.
	IncrementInteractions(ctx context.Context, phone string) error
}

// Backend is a store that holds both interactions and profiles.
type Backend interface {
	Store
	ProfileStore
	Close() error
}

// unavailableError reports ErrStoreUnavailable while keeping the backend cause
// in the chain.
type unavailableError struct {
	op    string
	cause error
}

func (e *unavailableError) Error() string {
	return e.op + ": " + ErrStoreUnavailable.Error() + ": " + e.cause.Error()
}

func (e *unavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *unavailableError) Unwrap() error { return e.cause }

func unavailable(err error, op string) error {
	return &unavailableError{op: op, cause: err}
}
