package http

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("days"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"value": 3.5}`))
	}))
	defer srv.Close()

	var out struct {
		Value float64 `json:"value"`
	}
	c := NewClient(WithTimeout(time.Second), WithUserAgent("test-agent"))
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, url.Values{"days": {"7"}}, &out))
	assert.Equal(t, 3.5, out.Value)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	err := NewClient().GetJSON(context.Background(), srv.URL, nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "down", se.Body)
	assert.True(t, se.Temporary())
	assert.False(t, (&StatusError{Code: http.StatusNotFound}).Temporary())
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	appErr := ServiceUnavailableError("not loaded").WithError(errors.New("disk")).WithParam("retry", 5)
	require.NoError(t, AppErrorResponse(c, appErr))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t,
		`{"status":503,"message":"Service Unavailable","data":[{"code":"ERR_UNAVAILABLE","message":"not loaded","params":{"retry":5}}]}`,
		rec.Body.String())

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, errors.New("plain")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestValidateRequest(t *testing.T) {
	type req struct {
		Limit int    `query:"limit" validate:"gte=0,lte=10"`
		Mode  string `default:"full" validate:"oneof=full sample"`
	}
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	ok := &req{Limit: 3}
	assert.Nil(t, ValidateRequest(c, ok))
	assert.Equal(t, "full", ok.Mode)

	errs, isList := ValidateRequest(c, &req{Limit: 11}).([]ValidationError)
	require.True(t, isList)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
	assert.Equal(t, "limit", errs[0].Field)
	assert.Equal(t, "limit must be less than or equal to 10", errs[0].Message)
	assert.Equal(t, "10", errs[0].Params["max"])

	errs, isList = ValidateRequest(c, &req{Mode: "partial"}).([]ValidationError)
	require.True(t, isList)
	require.Len(t, errs, 1)
	assert.Equal(t, "Mode", errs[0].Field)
	assert.Equal(t, []string{"full", "sample"}, errs[0].Params["options"])
}

type testHandler struct{}

func (testHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, "fine") })
	e.GET("/boom", func(echo.Context) error { panic("kaboom") })
}

func TestServerRoutesAndMiddleware(t *testing.T) {
	s := NewServer(testHandler{}, WithMetricsPath("/metrics"))

	serve := func(method, target string, hdr map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, req)
		return rec
	}

	rec := serve(http.MethodGet, "/ok", map[string]string{echo.HeaderOrigin: "http://dash.local"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = serve(http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")

	rec = serve(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerStartBindsAndStops(t *testing.T) {
	s := NewServer(testHandler{}, WithHost("127.0.0.1"), WithPort(0), WithMetricsPath(""))
	require.NoError(t, s.Start())
	addr := s.Addr()
	require.NotEmpty(t, addr)

	var body string
	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + addr + "/ok")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		b, _ := io.ReadAll(res.Body)
		body = string(b)
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "fine")

	// The port is taken now.
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	p, _ := strconv.Atoi(port)
	busy := NewServer(testHandler{}, WithHost("127.0.0.1"), WithPort(p), WithMetricsPath(""))
	require.Error(t, busy.Start())

	require.NoError(t, s.Stop(context.Background()))
}
