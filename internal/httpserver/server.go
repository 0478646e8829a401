// Package httpserver exposes the session pipeline and analytics over HTTP.
package httpserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/amruthjakku/AgriVoice/internal/analytics"
	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
)

// Sessions is the part of the pipeline the HTTP layer drives.
type Sessions interface {
	Submit(ctx context.Context, req pipeline.Request) (pipeline.Receipt, error)
	Status(ctx context.Context, sessionID string) (pipeline.Snapshot, error)
	AwaitCompletion(ctx context.Context, sessionID string, maxAttempts int) (pipeline.Snapshot, error)
}

// Subscriber streams session lifecycle events.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

type Deps struct {
	Sessions  Sessions
	Analytics *analytics.Service
	// Events is optional; without it websocket watchers fall back to polling.
	Events Subscriber
	// WatchInterval is how often a websocket watcher re-reads the session. Default 1s.
	WatchInterval time.Duration
	// Mount registers extra routes, such as the telephony webhooks.
	Mount []func(*echo.Echo)
}

// Server bundles the HTTP router and its dependencies.
type Server struct {
	Router *echo.Echo

	sessions      Sessions
	analytics     *analytics.Service
	events        Subscriber
	watchInterval time.Duration
	upgrader      websocket.Upgrader
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	s := &Server{
		Router:        NewEcho(),
		sessions:      deps.Sessions,
		analytics:     deps.Analytics,
		events:        deps.Events,
		watchInterval: deps.WatchInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if s.watchInterval <= 0 {
		s.watchInterval = time.Second
	}

	e := s.Router
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.POST("/audio", s.submitAudio)
	api.GET("/session/:id", s.sessionStatus)
	api.GET("/session/:id/wait", s.awaitSession)
	api.GET("/session/:id/ws", s.watchSession)

	if s.analytics != nil {
		a := api.Group("/analytics")
		a.GET("/interactions", s.listInteractions)
		a.GET("/top-queries", s.topQueries)
		a.GET("/languages", s.languages)
		a.GET("/daily", s.daily)
		a.GET("/intents", s.intents)
	}

	for _, mount := range deps.Mount {
		mount(e)
	}
	return s
}

// submitAudio accepts a multipart "audio" file or a raw audio body.
func (s *Server) submitAudio(c echo.Context) error {
	audio, err := readAudio(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := pipeline.Request{
		Audio:    audio,
		Language: formOrQuery(c, "language"),
		CallerID: formOrQuery(c, "user_phone"),
	}
	if v := formOrQuery(c, "audio_duration"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "audio_duration must be seconds")
		}
		req.AudioDuration = time.Duration(secs * float64(time.Second))
	}

	receipt, err := s.sessions.Submit(c.Request().Context(), req)
	if err != nil {
		// anything past validation is the session record failing to land
		return httpError(err, http.StatusServiceUnavailable)
	}
	return c.JSON(http.StatusAccepted, receipt)
}

func (s *Server) sessionStatus(c echo.Context) error {
	snap, err := s.sessions.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) awaitSession(c echo.Context) error {
	maxAttempts := 0
	if v := c.QueryParam("max_attempts"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "max_attempts must be a positive integer")
		}
		maxAttempts = n
	}
	snap, err := s.sessions.AwaitCompletion(c.Request().Context(), c.Param("id"), maxAttempts)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, snap)
}

func readAudio(c echo.Context) ([]byte, error) {
	req := c.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("audio")
		if err != nil {
			return nil, errors.Wrap(err, "multipart field \"audio\"")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, errors.Wrap(err, "open upload")
		}
		defer f.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, f); err != nil {
			return nil, errors.Wrap(err, "read upload")
		}
		return buf.Bytes(), nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// formOrQuery reads a multipart field, falling back to the query string.
func formOrQuery(c echo.Context, name string) string {
	if form := c.Request().MultipartForm; form != nil {
		if v := form.Value[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return strings.TrimSpace(c.QueryParam(name))
}
