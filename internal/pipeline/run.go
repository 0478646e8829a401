package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/language"
	"github.com/amruthjakku/AgriVoice/internal/llm"
)

// run is the background half of one session.
type run struct {
	p         *Pipeline
	rec       interaction.Interaction
	audio     []byte
	caller    string
	submitted time.Time
	logger    zerolog.Logger
}

func (r *run) execute(ctx context.Context) {
	defer r.p.finish(r.rec.SessionID)
	r.logger = log.With().Str("session_id", r.rec.SessionID).Logger()
	lang := r.rec.Language
	var detected *string
	if lang == language.Auto {
		lang = r.detectLanguage(ctx)
		detected = &lang
	}

	transcript, err := attempt(ctx, r, StageTranscription, func(ctx context.Context) (string, error) {
		return r.p.ports.Transcriber.Transcribe(ctx, r.audio, lang)
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}
	if !r.persist(ctx, interaction.Patch{Transcript: &transcript, Language: detected}, events.StageTranscribed) {
		return
	}

	advice, err := attempt(ctx, r, StageAdvisory, func(ctx context.Context) (llm.Advice, error) {
		return r.p.ports.Advisor.Advise(ctx, transcript, lang)
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}
	tags := advice.Tags
	if tags == nil {
		tags = []string{}
	}
	if !r.persist(ctx, interaction.Patch{AnswerText: &advice.Answer, Intent: &advice.Intent, Tags: tags}, events.StageAdvised) {
		return
	}

	audioURL, err := attempt(ctx, r, StageSynthesis, func(ctx context.Context) (string, error) {
		return r.p.ports.Synthesizer.Synthesize(ctx, advice.Answer, lang)
	})
	if err != nil {
		r.fail(ctx, err)
		return
	}
	elapsed := r.p.now().Sub(r.submitted)
	done := interaction.Patch{
		AnswerAudioURL: &audioURL,
		ProcessingTime: &elapsed,
		Status:         interaction.StatusPtr(interaction.StatusCompleted),
	}
	if !r.persist(ctx, done, events.StageSynthesized) {
		return
	}
	r.logger.Info().Dur("processing_time", elapsed).Msg("session completed")

	if r.caller != "" && r.p.opts.Profiles != nil {
		wctx, cancel := r.writeContext(ctx)
		defer cancel()
		if err := r.p.opts.Profiles.IncrementInteractions(wctx, r.caller); err != nil {
			r.logger.Warn().Err(err).Str("caller", r.caller).Msg("increment caller interactions")
		}
	}
}

// detectLanguage resolves an auto session's language. Transcribers without
// detection, failures and unsupported answers all yield the default.
func (r *run) detectLanguage(ctx context.Context) string {
	d, ok := r.p.ports.Transcriber.(LanguageDetector)
	if !ok {
		return language.Default
	}
	code, err := call(ctx, r.p.opts.StageTimeout, func(ctx context.Context) (string, error) {
		return d.DetectLanguage(ctx, r.audio)
	})
	if err != nil || !language.Supported(code) {
		r.logger.Warn().Err(err).Str("detected", code).Msg("language detection failed, using default")
		return language.Default
	}
	r.logger.Debug().Str("lang", code).Msg("language detected")
	return language.Normalize(code)
}

// attempt calls fn up to StageAttempts times, each bounded by StageTimeout.
// Panics and empty results count as failures. The returned error is a *StageError.
func attempt[T any](ctx context.Context, r *run, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	opts := r.p.opts
	for n := 1; n <= opts.StageAttempts; n++ {
		if n > 1 {
			select {
			case <-ctx.Done():
				return zero, &StageError{Stage: stage, Err: ctx.Err()}
			case <-time.After(time.Duration(n-1) * opts.RetryBackoff):
			}
		}
		start := time.Now()
		v, err := call(ctx, opts.StageTimeout, fn)
		if err == nil && isEmpty(v) {
			err = errEmptyResult
		}
		ev := r.logger.Debug()
		if err != nil {
			ev = r.logger.Warn().Err(err)
		}
		ev.Str("stage", string(stage)).Int("attempt", n).Dur("duration", time.Since(start)).Msg("stage finished")
		if err == nil {
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return zero, &StageError{Stage: stage, Err: lastErr}
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (v T, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x) == ""
	case llm.Advice:
		return strings.TrimSpace(x.Answer) == ""
	}
	return false
}

func (r *run) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// writes outlive a cancelled run so that the terminal state still lands
	return context.WithTimeout(context.WithoutCancel(ctx), r.p.opts.WriteTimeout)
}

// persist applies patch. A failed write turns the session into failed.
func (r *run) persist(ctx context.Context, patch interaction.Patch, stage string) bool {
	wctx, cancel := r.writeContext(ctx)
	defer cancel()
	rec, err := r.p.store.Update(wctx, r.rec.ID, patch)
	if err != nil {
		r.logger.Error().Err(err).Str("stage", stage).Msg("persist stage result")
		r.fail(ctx, errors.Wrapf(err, "persist %s", stage))
		return false
	}
	r.rec = rec
	r.p.publish(rec, stage)
	return true
}

// fail records the terminal failed status. If that write fails too the session
// is abandoned in whatever state the store holds.
func (r *run) fail(ctx context.Context, cause error) {
	wctx, cancel := r.writeContext(ctx)
	defer cancel()
	reason := cause.Error()
	rec, err := r.p.store.Update(wctx, r.rec.ID, interaction.Patch{
		Status:        interaction.StatusPtr(interaction.StatusFailed),
		FailureReason: &reason,
	})
	if err != nil {
		r.logger.Error().Err(err).AnErr("cause", cause).Msg("could not record failed status, abandoning session")
		return
	}
	r.rec = rec
	r.logger.Warn().Str("reason", reason).Msg("session failed")
	r.p.publish(rec, events.StageFailed)
}
