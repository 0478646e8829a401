package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amruthjakku/AgriVoice/internal/analytics"
	"github.com/amruthjakku/AgriVoice/internal/events"
	"github.com/amruthjakku/AgriVoice/internal/interaction"
	"github.com/amruthjakku/AgriVoice/internal/llm"
	"github.com/amruthjakku/AgriVoice/internal/pipeline"
	"github.com/amruthjakku/AgriVoice/internal/transcript"
	"github.com/amruthjakku/AgriVoice/internal/tts"
)

// fakeSessions lets a test pin what each pipeline call returns.
type fakeSessions struct {
	submitErr error
	statusErr error
	awaitErr  error
	last      pipeline.Request
	snap      pipeline.Snapshot
}

func (f *fakeSessions) Submit(_ context.Context, req pipeline.Request) (pipeline.Receipt, error) {
	f.last = req
	if f.submitErr != nil {
		return pipeline.Receipt{}, f.submitErr
	}
	return pipeline.Receipt{SessionID: "s-1", Status: interaction.StatusProcessing}, nil
}

func (f *fakeSessions) Status(context.Context, string) (pipeline.Snapshot, error) {
	return f.snap, f.statusErr
}

func (f *fakeSessions) AwaitCompletion(context.Context, string, int) (pipeline.Snapshot, error) {
	return f.snap, f.awaitErr
}

func mockPipeline(t *testing.T, store interaction.Store, bus *events.Bus) *pipeline.Pipeline {
	t.Helper()
	opts := pipeline.Options{PollInterval: 5 * time.Millisecond, MaxAttempts: 400}
	if bus != nil {
		opts.Events = bus
	}
	p := pipeline.New(store, pipeline.Ports{
		Transcriber: transcript.MockTranscriber{Latency: 20 * time.Millisecond},
		Advisor:     llm.NewAdvisor(llm.MockGenerator{}),
		Synthesizer: tts.MockSynthesizer{},
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

func multipartAudio(t *testing.T, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if audio != nil {
		part, err := w.CreateFormFile("audio", "question.webm")
		require.NoError(t, err)
		_, err = part.Write(audio)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	srv := New(Deps{Sessions: &fakeSessions{}})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestSubmitAudio_MultipartThenWait(t *testing.T) {
	store := interaction.NewMemoryStore()
	srv := New(Deps{Sessions: mockPipeline(t, store, nil)})

	body, ct := multipartAudio(t, []byte("webm"), map[string]string{"language": "hi", "user_phone": "+911111111111"})
	req := httptest.NewRequest(http.MethodPost, "/api/audio", body)
	req.Header.Set(echo.HeaderContentType, ct)
	rec := serve(srv, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var receipt map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, "", receipt["transcript"])
	assert.Equal(t, "processing", receipt["status"])
	id, _ := receipt["session_id"].(string)
	require.NotEmpty(t, id)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/session/"+id+"/wait", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, interaction.StatusCompleted, snap.Status)
	assert.NotEmpty(t, snap.Transcript)
	assert.NotEmpty(t, snap.AnswerText)
	assert.Equal(t, "data:audio/mp3;base64,mock_audio_hi", snap.AnswerAudioURL)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/session/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)
}

func TestSubmitAudio_RawBody(t *testing.T) {
	f := &fakeSessions{}
	srv := New(Deps{Sessions: f})
	req := httptest.NewRequest(http.MethodPost, "/api/audio?language=te&audio_duration=2.5", strings.NewReader("raw-audio"))
	req.Header.Set(echo.HeaderContentType, "audio/webm")
	rec := serve(srv, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []byte("raw-audio"), f.last.Audio)
	assert.Equal(t, "te", f.last.Language)
	assert.Equal(t, 2500*time.Millisecond, f.last.AudioDuration)
}

func TestSubmitAudio_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"empty audio", pipeline.ErrEmptyAudio, http.StatusBadRequest},
		{"unsupported language", errors.Wrap(pipeline.ErrUnsupportedLanguage, `"fr"`), http.StatusBadRequest},
		{"store down", errors.Wrap(interaction.ErrStoreUnavailable, "create"), http.StatusServiceUnavailable},
		{"other store failure", errors.New("disk full"), http.StatusServiceUnavailable},
		{"shutting down", pipeline.ErrShuttingDown, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(Deps{Sessions: &fakeSessions{submitErr: tc.err}})
			req := httptest.NewRequest(http.MethodPost, "/api/audio", strings.NewReader("x"))
			rec := serve(srv, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestSubmitAudio_EmptyMultipartRejectedByPipeline(t *testing.T) {
	srv := New(Deps{Sessions: mockPipeline(t, interaction.NewMemoryStore(), nil)})
	body, ct := multipartAudio(t, []byte{}, map[string]string{"language": "en"})
	req := httptest.NewRequest(http.MethodPost, "/api/audio", body)
	req.Header.Set(echo.HeaderContentType, ct)
	assert.Equal(t, http.StatusBadRequest, serve(srv, req).Code)
}

func TestSubmitAudio_MissingField(t *testing.T) {
	srv := New(Deps{Sessions: &fakeSessions{}})
	body, ct := multipartAudio(t, nil, map[string]string{"language": "en"})
	req := httptest.NewRequest(http.MethodPost, "/api/audio", body)
	req.Header.Set(echo.HeaderContentType, ct)
	assert.Equal(t, http.StatusBadRequest, serve(srv, req).Code)
}

func TestSessionStatus_NotFound(t *testing.T) {
	srv := New(Deps{Sessions: mockPipeline(t, interaction.NewMemoryStore(), nil)})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/session/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAwaitSession_Errors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		code   int
	}{
		{"timeout", "/api/session/s-1/wait?max_attempts=2", errors.Wrap(pipeline.ErrTimeout, "s-1"), http.StatusGatewayTimeout},
		{"unknown", "/api/session/s-1/wait", errors.Wrap(pipeline.ErrNotFound, "s-1"), http.StatusNotFound},
		{"bad attempts", "/api/session/s-1/wait?max_attempts=zero", nil, http.StatusBadRequest},
		{"store down", "/api/session/s-1/wait", interaction.ErrStoreUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(Deps{Sessions: &fakeSessions{awaitErr: tc.err}})
			assert.Equal(t, tc.code, serve(srv, httptest.NewRequest(http.MethodGet, tc.target, nil)).Code)
		})
	}
}

func TestWatchSession_PushesUntilTerminal(t *testing.T) {
	bus := events.NewGoChannel()
	t.Cleanup(func() { _ = bus.Close() })
	p := mockPipeline(t, interaction.NewMemoryStore(), bus)
	srv := New(Deps{Sessions: p, Events: bus, WatchInterval: 10 * time.Millisecond})
	ts := httptest.NewServer(srv.Router)
	defer ts.Close()

	receipt, err := p.Submit(context.Background(), pipeline.Request{Audio: []byte("a"), Language: "en"})
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/" + receipt.SessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snaps []pipeline.Snapshot
	for {
		var snap pipeline.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		snaps = append(snaps, snap)
	}
	require.NotEmpty(t, snaps)
	assert.Equal(t, interaction.StatusCompleted, snaps[len(snaps)-1].Status)
	for _, s := range snaps[:len(snaps)-1] {
		assert.Equal(t, interaction.StatusProcessing, s.Status)
	}
}

func TestWatchSession_UnknownIs404(t *testing.T) {
	srv := New(Deps{Sessions: mockPipeline(t, interaction.NewMemoryStore(), nil)})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/session/nope/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyticsRoutes(t *testing.T) {
	store := interaction.NewMemoryStore()
	ctx := context.Background()
	for i, lang := range []string{"hi", "hi", "en"} {
		_, err := store.Create(ctx, interaction.Interaction{
			SessionID: string(rune('a' + i)),
			Language:  lang,
			Intent:    "irrigation",
			Status:    interaction.StatusCompleted,
		})
		require.NoError(t, err)
	}
	srv := New(Deps{Sessions: &fakeSessions{}, Analytics: analytics.NewService(store)})

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/languages", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var langs []analytics.LanguageShare
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &langs))
	assert.Equal(t, []analytics.LanguageShare{
		{Language: "Hindi", Count: 2, Percentage: 67},
		{Language: "English", Count: 1, Percentage: 33},
	}, langs)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/top-queries?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"query":"irrigation","count":3}]`, rec.Body.String())

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/daily?days=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var daily []analytics.DailyCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	require.Len(t, daily, 3)
	assert.Equal(t, 3, daily[2].Count)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/interactions?from=2000-01-01", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []interaction.Interaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 3)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/intents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"intent":"irrigation","count":3}]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/daily?days=-1", nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/interactions?from=yesterday", nil)).Code)
}

func TestAnalyticsRoutes_Oversized(t *testing.T) {
	srv := New(Deps{Sessions: &fakeSessions{}, Analytics: analytics.NewService(interaction.NewMemoryStore())})
	for _, target := range []string{
		"/api/analytics/daily?days=5000000000000",
		"/api/analytics/daily?days=367",
		"/api/analytics/top-queries?limit=10001",
		"/api/analytics/interactions?limit=99999999",
	} {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/analytics/daily?days=366", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var daily []analytics.DailyCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &daily))
	assert.Len(t, daily, analytics.MaxDailyWindow)
}

func TestMount(t *testing.T) {
	srv := New(Deps{Sessions: &fakeSessions{}, Mount: []func(*echo.Echo){
		func(e *echo.Echo) {
			e.GET("/extra", func(c echo.Context) error { return c.String(http.StatusOK, "mounted") })
		},
	}})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/extra", nil))
	assert.Equal(t, "mounted", rec.Body.String())
}
