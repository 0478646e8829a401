// Package middleware holds echo middleware shared by the HTTP front ends.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/client"
)

// ParamsKey is the echo context key holding the verified webhook form values.
const ParamsKey = "twilioParams"

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Sign computes the signature Twilio sends for a POST to fullURL with params.
// Webhook tests use it to forge requests.
func Sign(authToken, fullURL string, params map[string]string) string {
	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func validSignature(authToken, signature, fullURL string, params map[string]string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	validator := client.NewRequestValidator(authToken)
	return validator.Validate(fullURL, params, signature)
}

// TwilioAuth rejects requests under /twilio/ whose signature does not match.
// Verified form values are stored under ParamsKey and the body is restored for
// downstream binders.
func TwilioAuth(getAuthToken func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/twilio/") {
				return next(c)
			}

			authToken := getAuthToken()
			if authToken == "" {
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			body, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(body))

			form, err := url.ParseQuery(string(body))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(form))
			for key, values := range form {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			fullURL := RequestURL(req)
			if !validSignature(authToken, req.Header.Get(SignatureHeader), fullURL, params) {
				log.Warn().Str("url", fullURL).Msg("rejected twilio webhook with bad signature")
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(ParamsKey, params)
			return next(c)
		}
	}
}

// Params returns the verified webhook values, or nil outside TwilioAuth.
func Params(c echo.Context) map[string]string {
	params, _ := c.Get(ParamsKey).(map[string]string)
	return params
}

// RequestURL rebuilds the public URL Twilio called, query included.
// X-Forwarded-Proto and X-Forwarded-Host win over the request's own host.
func RequestURL(r *http.Request) string {
	return BaseURL(r) + r.URL.RequestURI()
}

// BaseURL is the public scheme and host of r.
func BaseURL(r *http.Request) string {
	proto := r.Header.Get("X-Forwarded-Proto")
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	if proto == "" {
		proto = "https"
		if strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1") {
			proto = "http"
		}
	}
	return proto + "://" + host
}
