package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/boom", func(echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error {
		return Fail(c, NotFound("no snapshot"))
	})
	e.GET("/ok", func(c echo.Context) error {
		return OK(c, map[string]int{"n": 1})
	})
}

func TestServerRoutes(t *testing.T) {
	s := NewServer([]Handler{routes{}, nil, RoutesFunc(func(e *echo.Echo) {
		e.GET("/fn", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	})})

	cases := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/ok", http.StatusOK},
		{"/missing", http.StatusNotFound},
		{"/boom", http.StatusInternalServerError},
		{"/metrics", http.StatusOK},
		{"/fn", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "BTC" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"weighted_score":0.4}`))
	}))
	defer srv.Close()

	var out struct {
		WeightedScore float64 `json:"weighted_score"`
	}
	c := NewClient()
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, map[string][]string{"query": {"BTC"}}, &out))
	assert.Equal(t, 0.4, out.WeightedScore)

	err := c.GetJSON(context.Background(), srv.URL, nil, &out)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.False(t, se.Retryable())
}
