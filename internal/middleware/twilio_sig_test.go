package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "secret-token"

func newEcho(t *testing.T, tok string) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.Use(TwilioAuth(func() string { return tok }))
	e.POST("/twilio/voice", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		require.NoError(t, err)
		return c.String(http.StatusOK, Params(c)["From"]+"|"+string(body))
	})
	e.POST("/api/open", func(c echo.Context) error { return c.String(http.StatusOK, "open") })
	return e
}

func signedRequest(target string, form url.Values, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Host = "voice.example.com"
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	return req
}

func TestTwilioAuth_ValidSignature(t *testing.T) {
	form := url.Values{"From": {"+911234567890"}, "CallSid": {"CA1"}}
	sig := Sign(token, "https://voice.example.com/twilio/voice?lang=hi", map[string]string{
		"From": "+911234567890", "CallSid": "CA1",
	})

	rec := httptest.NewRecorder()
	newEcho(t, token).ServeHTTP(rec, signedRequest("/twilio/voice?lang=hi", form, sig))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "+911234567890|"+form.Encode(), rec.Body.String())
}

func TestTwilioAuth_Rejects(t *testing.T) {
	form := url.Values{"From": {"+911234567890"}}
	good := Sign(token, "https://voice.example.com/twilio/voice", map[string]string{"From": "+911234567890"})

	cases := []struct {
		name   string
		tok    string
		target string
		sig    string
		code   int
	}{
		{"missing signature", token, "/twilio/voice", "", http.StatusUnauthorized},
		{"wrong signature", token, "/twilio/voice", "bm9wZQ==", http.StatusUnauthorized},
		{"query tampered", token, "/twilio/voice?lang=te", good, http.StatusUnauthorized},
		{"token not configured", "", "/twilio/voice", good, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newEcho(t, tc.tok).ServeHTTP(rec, signedRequest(tc.target, form, tc.sig))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestTwilioAuth_SkipsOtherPaths(t *testing.T) {
	rec := httptest.NewRecorder()
	newEcho(t, token).ServeHTTP(rec, signedRequest("/api/open", url.Values{}, ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "open", rec.Body.String())
}

func TestBaseURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Host = "localhost:8080"
	assert.Equal(t, "http://localhost:8080", BaseURL(r))

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "agri.example.org")
	assert.Equal(t, "https://agri.example.org", BaseURL(r))
}
