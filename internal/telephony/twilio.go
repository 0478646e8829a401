// Package telephony puts the session pipeline behind a Twilio phone number.
//
// A call is answered with a recording prompt. When the recording lands it is
// downloaded, submitted as a new session with the caller's number as identity,
// and the call is parked on /twilio/session-status, which redirects to itself
// until the answer is ready and then plays or reads it.
package telephony

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"

	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/language"
	"github.com/amruthjakku/AgriVoice/internal/middleware"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
)

// Sessions is the part of the pipeline a phone call drives.
type Sessions interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Receipt, error)
	Status(ctx context.Context, sessionID string) (pipeline.Snapshot, error)
}

type Config struct {
	AccountSID string
	AuthToken  string
	// MaxRecordSeconds caps the caller's question. Default 60.
	MaxRecordSeconds int
	// MaxStatusPolls bounds how many times a call is parked on session-status. Default 30.
	MaxStatusPolls int
	// PauseSeconds is the hold between status polls. Default 2.
	PauseSeconds int
}

type Service struct {
	cfg        Config
	sessions   Sessions
	HTTPClient *http.Client
}

func New(cfg Config, sessions Sessions) *Service {
	if cfg.MaxRecordSeconds <= 0 {
		cfg.MaxRecordSeconds = 60
	}
	if cfg.MaxStatusPolls <= 0 {
		cfg.MaxStatusPolls = 30
	}
	if cfg.PauseSeconds <= 0 {
		cfg.PauseSeconds = 2
	}
	return &Service{
		cfg:        cfg,
		sessions:   sessions,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register mounts the webhooks under /twilio behind signature verification.
func (s *Service) Register(e *echo.Echo) {
	g := e.Group("/twilio", middleware.TwilioAuth(func() string { return s.cfg.AuthToken }))
	g.POST("/voice", s.voice)
	g.POST("/recording-complete", s.recordingComplete)
	g.POST("/session-status", s.sessionStatus)
}

func (s *Service) voice(c echo.Context) error {
	params := middleware.Params(c)
	lang := callLanguage(c)
	log.Info().Str("from", params["From"]).Str("call_sid", params["CallSid"]).Str("lang", lang).Msg("incoming call")

	record := &twiml.VoiceRecord{
		Action:      "/twilio/recording-complete?lang=" + url.QueryEscape(lang),
		Method:      http.MethodPost,
		Timeout:     "5",
		MaxLength:   strconv.Itoa(s.cfg.MaxRecordSeconds),
		FinishOnKey: "any",
		PlayBeep:    "true",
	}
	return respond(c, say(greeting, lang), record, say(noRecording, lang), &twiml.VoiceHangup{})
}

func (s *Service) recordingComplete(c echo.Context) error {
	params := middleware.Params(c)
	lang := callLanguage(c)
	recordingURL := params["RecordingUrl"]
	from := params["From"]
	logger := log.With().Str("from", from).Str("recording_sid", params["RecordingSid"]).Logger()

	if recordingURL == "" {
		logger.Warn().Msg("recording callback without RecordingUrl")
		return respond(c, say(noRecording, lang), &twiml.VoiceHangup{})
	}

	ctx := c.Request().Context()
	audio, err := s.downloadRecording(ctx, recordingURL)
	if err != nil {
		logger.Error().Err(err).Msg("download recording")
		return respond(c, say(unavailable, lang), &twiml.VoiceHangup{})
	}

	req := pipeline.Request{Audio: audio, Language: lang, CallerID: from}
	if secs, err := strconv.Atoi(params["RecordingDuration"]); err == nil {
		req.AudioDuration = time.Duration(secs) * time.Second
	}
	receipt, err := s.sessions.Submit(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("submit recorded question")
		return respond(c, say(unavailable, lang), &twiml.VoiceHangup{})
	}
	logger.Info().Str("session_id", receipt.SessionID).Int("audio_bytes", len(audio)).Msg("call question submitted")

	return respond(c, say(received, lang), s.statusRedirect(receipt.SessionID, lang, 1))
}

// sessionStatus plays the answer once the session is terminal, otherwise holds
// the call and redirects back here.
func (s *Service) sessionStatus(c echo.Context) error {
	lang := callLanguage(c)
	id := c.QueryParam("session_id")
	poll, _ := strconv.Atoi(c.QueryParam("poll"))

	snap, err := s.sessions.Status(c.Request().Context(), id)
	switch {
	case errors.Is(err, pipeline.ErrNotFound) && poll < s.cfg.MaxStatusPolls:
	case err != nil:
		log.Error().Err(err).Str("session_id", id).Msg("session status for call")
		return respond(c, say(unavailable, lang), &twiml.VoiceHangup{})
	case snap.Status == interaction.StatusCompleted:
		return respond(c, answer(snap, lang), say(goodbye, lang), &twiml.VoiceHangup{})
	case snap.Status == interaction.StatusFailed:
		log.Warn().Str("session_id", id).Str("reason", snap.FailureReason).Msg("call session failed")
		return respond(c, say(unavailable, lang), &twiml.VoiceHangup{})
	}

	if poll >= s.cfg.MaxStatusPolls {
		log.Warn().Str("session_id", id).Int("polls", poll).Msg("call gave up waiting for answer")
		return respond(c, say(unavailable, lang), &twiml.VoiceHangup{})
	}
	pause := &twiml.VoicePause{Length: strconv.Itoa(s.cfg.PauseSeconds)}
	return respond(c, pause, s.statusRedirect(id, lang, poll+1))
}

func (s *Service) statusRedirect(id, lang string, poll int) *twiml.VoiceRedirect {
	q := url.Values{"session_id": {id}, "lang": {lang}, "poll": {strconv.Itoa(poll)}}
	return &twiml.VoiceRedirect{Url: "/twilio/session-status?" + q.Encode(), Method: http.MethodPost}
}

// answer plays a hosted answer clip, or reads the answer text when the audio
// was only published inline.
func answer(snap pipeline.Snapshot, lang string) twiml.Element {
	if strings.HasPrefix(snap.AnswerAudioURL, "http://") || strings.HasPrefix(snap.AnswerAudioURL, "https://") {
		return &twiml.VoicePlay{Url: snap.AnswerAudioURL}
	}
	return &twiml.VoiceSay{Message: snap.AnswerText, Language: language.Pick(sayLanguage, lang)}
}

func (s *Service) downloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if s.cfg.AccountSID == "" || s.cfg.AuthToken == "" {
		return nil, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required to download recordings")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build recording request")
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "download recording")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("download recording: status %d: %s", resp.StatusCode, string(preview))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read recording")
	}
	return data, nil
}

func callLanguage(c echo.Context) string {
	lang := language.Normalize(c.QueryParam("lang"))
	if !language.Supported(lang) {
		return language.Default
	}
	return lang
}

func say(messages map[language.Code]string, lang string) *twiml.VoiceSay {
	return &twiml.VoiceSay{
		Message:  language.Pick(messages, lang),
		Language: language.Pick(sayLanguage, lang),
	}
}

func respond(c echo.Context, verbs ...twiml.Element) error {
	response, err := twiml.Voice(verbs)
	if err != nil {
		return c.String(http.StatusInternalServerError, fmt.Sprintf("failed to build TwiML: %v", err))
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}
