// Package pipeline runs AgriVoice sessions: a recorded question is accepted
// immediately, then transcribed, answered and synthesized in the background
// while callers poll for the result.
//
// Every session is backed by one interaction.Interaction. The pipeline is its
// only writer: Submit creates it in the processing state and the background
// run persists each stage's output as it arrives, ending with exactly one
// terminal write (completed or failed). Stage failures never surface through
// Submit; they become the record's failed status and failure reason.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/language"
	"github.com/amruthjakku/AgriVoice/internal/llm"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (string, error)
}

// Advisor answers a transcribed question.
type Advisor interface {
	Advise(ctx context.Context, query, lang string) (llm.Advice, error)
}

// Synthesizer renders answer text and returns a playable reference (URL or data URI).
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (string, error)
}

// ProfileCounter bumps a caller's lifetime interaction count.
type ProfileCounter interface {
	IncrementInteractions(ctx context.Context, phone string) error
}

// EventPublisher is told about every persisted transition.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event) error
}

// LanguageDetector is an optional Transcriber capability used for sessions
// submitted with language "auto".
type LanguageDetector interface {
	DetectLanguage(ctx context.Context, audio []byte) (string, error)
}

// Ports bundles the external collaborators of a run.
type Ports struct {
	Transcriber Transcriber
	Advisor     Advisor
	Synthesizer Synthesizer
}

// Options tune a Pipeline. Zero values take the defaults noted per field.
type Options struct {
	// StrictLanguages rejects unsupported language codes at Submit. Off by
	// default: codes pass through and each port falls back on its own.
	StrictLanguages bool
	// StageTimeout bounds one port call. Default 60s.
	StageTimeout time.Duration
	// StageAttempts is how many times a failing port call is tried. Default 1 (no retry).
	StageAttempts int
	// RetryBackoff is multiplied by the attempt number between retries. Default 500ms.
	RetryBackoff time.Duration
	// PollInterval is the AwaitCompletion cadence. Default 1s.
	PollInterval time.Duration
	// MaxAttempts is the AwaitCompletion budget when the caller passes <= 0. Default 30.
	MaxAttempts int
	// WriteTimeout bounds each store write made by a background run. Default 10s.
	WriteTimeout time.Duration

	Profiles ProfileCounter
	Events   EventPublisher
}

func (o Options) withDefaults() Options {
	if o.StageTimeout <= 0 {
		o.StageTimeout = 60 * time.Second
	}
	if o.StageAttempts < 1 {
		o.StageAttempts = 1
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 30
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Request is one recorded question.
type Request struct {
	Audio    []byte
	Language string
	// CallerID is the caller's phone number, if known.
	CallerID      string
	AudioDuration time.Duration
}

// Receipt is returned by Submit before any stage has run.
type Receipt struct {
	SessionID  string             `json:"session_id"`
	Transcript string             `json:"transcript"`
	Status     interaction.Status `json:"status"`
}

// Snapshot is the caller-visible state of a session.
type Snapshot struct {
	SessionID      string             `json:"session_id"`
	Transcript     string             `json:"transcript"`
	AnswerText     string             `json:"answer_text"`
	AnswerAudioURL string             `json:"answer_audio_url"`
	Status         interaction.Status `json:"status"`
	Intent         string             `json:"intent,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	FailureReason  string             `json:"failure_reason,omitempty"`
}

func snapshotOf(rec interaction.Interaction) Snapshot {
	return Snapshot{
		SessionID:      rec.SessionID,
		Transcript:     rec.Transcript,
		AnswerText:     rec.AnswerText,
		AnswerAudioURL: rec.AnswerAudioURL,
		Status:         rec.Status,
		Intent:         rec.Intent,
		Tags:           rec.Tags,
		FailureReason:  rec.FailureReason,
	}
}

type Pipeline struct {
	store interaction.Store
	ports Ports
	opts  Options
	now   func() time.Time

	// runCtx parents every background run; cancelRuns aborts them when a
	// Shutdown deadline passes.
	runCtx     context.Context
	cancelRuns context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{}
	closing  bool
	wg       sync.WaitGroup
}

func New(store interaction.Store, ports Ports, opts Options) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		store:      store,
		ports:      ports,
		opts:       opts.withDefaults(),
		now:        time.Now,
		runCtx:     ctx,
		cancelRuns: cancel,
		inflight:   make(map[string]struct{}),
	}
}

// Submit records a new session and starts its background run. It never waits
// on a port; the only blocking call is the store insert.
func (p *Pipeline) Submit(ctx context.Context, req Request) (Receipt, error) {
	if len(req.Audio) == 0 {
		return Receipt{}, ErrEmptyAudio
	}
	lang := req.Language
	if language.Normalize(lang) == "" {
		lang = language.Default
	}
	if language.Normalize(lang) == language.Auto {
		lang = language.Auto
	} else if p.opts.StrictLanguages {
		if !language.Supported(lang) {
			return Receipt{}, errors.Wrapf(ErrUnsupportedLanguage, "%q", req.Language)
		}
		lang = language.Normalize(lang)
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return Receipt{}, ErrShuttingDown
	}
	// counted before the insert so Shutdown cannot miss a session that is being created
	p.wg.Add(1)
	p.mu.Unlock()

	submitted := p.now()
	rec, err := p.store.Create(ctx, interaction.Interaction{
		SessionID:     uuid.NewString(),
		UserPhone:     req.CallerID,
		Language:      lang,
		Status:        interaction.StatusProcessing,
		AudioDuration: req.AudioDuration.Seconds(),
		CreatedAt:     submitted.UTC(),
	})
	if err != nil {
		p.wg.Done()
		return Receipt{}, errors.Wrap(err, "create interaction")
	}

	p.mu.Lock()
	p.inflight[rec.SessionID] = struct{}{}
	p.mu.Unlock()

	log.Info().Str("session_id", rec.SessionID).Str("lang", lang).Int("audio_bytes", len(req.Audio)).Msg("session submitted")
	p.publish(rec, events.StageSubmitted)

	r := &run{p: p, rec: rec, audio: req.Audio, caller: req.CallerID, submitted: submitted}
	go r.execute(p.runCtx)

	return Receipt{SessionID: rec.SessionID, Transcript: "", Status: interaction.StatusProcessing}, nil
}

// Status reads the session once from the store.
func (p *Pipeline) Status(ctx context.Context, sessionID string) (Snapshot, error) {
	rec, err := p.store.GetBySessionID(ctx, sessionID)
	if errors.Is(err, interaction.ErrNotFound) {
		return Snapshot{}, errors.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(rec), nil
}

// AwaitCompletion polls Status until the session is terminal. maxAttempts <= 0
// uses Options.MaxAttempts. A NotFound poll is retried; ErrNotFound is returned
// only if every attempt missed. Timing out abandons the wait, not the run.
func (p *Pipeline) AwaitCompletion(ctx context.Context, sessionID string, maxAttempts int) (Snapshot, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.opts.MaxAttempts
	}
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	seen := false
	for attempt := 1; ; attempt++ {
		snap, err := p.Status(ctx, sessionID)
		switch {
		case err == nil:
			seen = true
			if snap.Status.Terminal() {
				return snap, nil
			}
		case errors.Is(err, ErrNotFound):
		default:
			return Snapshot{}, err
		}
		if attempt >= maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
	}
	if !seen {
		return Snapshot{}, errors.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	return Snapshot{}, errors.Wrapf(ErrTimeout, "session %s after %d attempts", sessionID, maxAttempts)
}

// InFlight lists sessions whose background run has not finished, sorted.
func (p *Pipeline) InFlight() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.inflight))
	for id := range p.inflight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops accepting submissions and waits for in-flight runs. If ctx
// ends first the remaining runs are cancelled, which records them as failed,
// and ctx's error is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelRuns()
		return nil
	case <-ctx.Done():
		log.Warn().Strs("sessions", p.InFlight()).Msg("shutdown deadline reached, cancelling in-flight sessions")
		p.cancelRuns()
		return ctx.Err()
	}
}

func (p *Pipeline) finish(sessionID string) {
	p.mu.Lock()
	delete(p.inflight, sessionID)
	p.mu.Unlock()
	p.wg.Done()
}

func (p *Pipeline) publish(rec interaction.Interaction, stage string) {
	if p.opts.Events == nil {
		return
	}
	e := events.Event{SessionID: rec.SessionID, Status: string(rec.Status), Stage: stage, At: rec.UpdatedAt}
	if e.At.IsZero() {
		e.At = p.now().UTC()
	}
	if err := p.opts.Events.Publish(context.Background(), e); err != nil {
		log.Warn().Err(err).Str("session_id", rec.SessionID).Str("stage", stage).Msg("publish session event")
	}
}
