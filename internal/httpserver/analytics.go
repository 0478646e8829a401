package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) listInteractions(c echo.Context) error {
	from, err := timeParam(c, "from")
	if err != nil {
		return err
	}
	to, err := timeParam(c, "to")
	if err != nil {
		return err
	}
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	recs, err := s.analytics.Interactions(c.Request().Context(), from, to, limit)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) topQueries(c echo.Context) error {
	limit, err := intParam(c, "limit")
	if err != nil {
		return err
	}
	out, err := s.analytics.TopQueries(c.Request().Context(), limit)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) languages(c echo.Context) error {
	out, err := s.analytics.LanguageDistribution(c.Request().Context())
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) daily(c echo.Context) error {
	days, err := intParam(c, "days")
	if err != nil {
		return err
	}
	out, err := s.analytics.DailyInteractions(c.Request().Context(), days)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) intents(c echo.Context) error {
	out, err := s.analytics.IntentDistribution(c.Request().Context())
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, out)
}

// timeParam accepts RFC 3339 timestamps or bare dates. A bare "to" date
// covers the whole day.
func timeParam(c echo.Context, name string) (time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if name == "to" {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC 3339 or YYYY-MM-DD")
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
