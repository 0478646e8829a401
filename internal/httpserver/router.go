package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/amruthjakku/AgriVoice/internal/analytics"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
)

// MaxUploadSize bounds request bodies; Whisper rejects files above 25MB.
const MaxUploadSize = "25M"

// NewEcho creates a configured Echo instance.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(MaxUploadSize))
	return e
}

// httpError maps pipeline and store errors onto status codes. Unrecognised
// errors get fallback.
func httpError(err error, fallback int) *echo.HTTPError {
	code := fallback
	switch {
	case errors.Is(err, pipeline.ErrEmptyAudio), errors.Is(err, pipeline.ErrUnsupportedLanguage),
		errors.Is(err, analytics.ErrOutOfRange):
		code = http.StatusBadRequest
	case errors.Is(err, pipeline.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, pipeline.ErrTimeout):
		code = http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrShuttingDown), errors.Is(err, interaction.ErrStoreUnavailable):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("code", code).Msg("request failed")
	}
	return echo.NewHTTPError(code, err.Error())
}
