package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"DeskCast/internal/domain/models"
	domrepo "DeskCast/internal/domain/repository"
	"DeskCast/internal/service/ratelimit"
	"DeskCast/internal/usecase"
	xhttp "DeskCast/pkg/http"
	xlogger "DeskCast/pkg/logger"
)

// ForecastHandlerOption configures ForecastHandler.
type ForecastHandlerOption func(*ForecastHandler)

// WithRateLimiter limits data routes per client IP.
func WithRateLimiter(rl *ratelimit.Limiter) ForecastHandlerOption {
	return func(h *ForecastHandler) { h.rl = rl }
}

// WithUpdates exposes the websocket reload feed.
func WithUpdates(hub *UpdatesHub) ForecastHandlerOption {
	return func(h *ForecastHandler) { h.hub = hub }
}

// WithRunLedger exposes recent runs.
func WithRunLedger(l domrepo.RunLedger) ForecastHandlerOption {
	return func(h *ForecastHandler) { h.ledger = l }
}

// WithSampleSize sets how many rows /forecast/sample returns.
func WithSampleSize(n int) ForecastHandlerOption {
	return func(h *ForecastHandler) {
		if n > 0 {
			h.sampleSize = n
		}
	}
}

// ForecastHandler serves the forecast artifact to dashboards.
type ForecastHandler struct {
	logger     *xlogger.Logger
	dataset    *usecase.Dataset
	rl         *ratelimit.Limiter
	hub        *UpdatesHub
	ledger     domrepo.RunLedger
	sampleSize int
}

func NewForecastHandler(logger *xlogger.Logger, dataset *usecase.Dataset, opts ...ForecastHandlerOption) *ForecastHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &ForecastHandler{logger: logger, dataset: dataset, sampleSize: 5}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *ForecastHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/status", h.Status, h.limit)
	e.GET("/forecast", h.Forecast, h.limit)
	e.GET("/forecast/sample", h.Sample, h.limit)
	e.GET("/kpis", h.KPIs, h.limit)
	if h.ledger != nil {
		e.GET("/runs", h.Runs, h.limit)
	}
	if h.hub != nil {
		e.GET("/ws/updates", h.hub.Serve)
	}
}

func (h *ForecastHandler) Root(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"message": "DeskCast forecast API online"})
}

func (h *ForecastHandler) Status(c echo.Context) error {
	res, err := h.dataset.Status(c.Request().Context())
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastHandler) Forecast(c echo.Context) error {
	req, perr := parseForecastQuery(c)
	if perr != nil {
		return xhttp.AppErrorResponse(c, perr)
	}
	if verr := xhttp.ValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.dataset.Query(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastHandler) Sample(c echo.Context) error {
	res, err := h.dataset.Sample(c.Request().Context(), h.sampleSize)
	if err != nil {
		return h.fail(c, "sample", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastHandler) KPIs(c echo.Context) error {
	res, err := h.dataset.KPIs(c.Request().Context())
	if err != nil {
		return h.fail(c, "kpis", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *ForecastHandler) Runs(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 20)
	if limit <= 0 || limit > 500 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("limit must be between 1 and 500").WithParam("limit", limit))
	}
	runs, err := h.ledger.RecentRuns(c.Request().Context(), limit)
	if err != nil {
		return h.fail(c, "runs", err)
	}
	return xhttp.ListResponse(c, runs, int64(len(runs)))
}

func (h *ForecastHandler) limit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.rl != nil && !h.rl.Allow(c.RealIP()) {
			h.logger.Warn("rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests"))
		}
		return next(c)
	}
}

func (h *ForecastHandler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, usecase.ErrDatasetNotLoaded) {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("forecast data not loaded").WithError(err))
	}
	h.logger.Error(op+" handler error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.InternalError("internal error").WithError(err))
}

func parseForecastQuery(c echo.Context) (*models.ForecastQuery, *xhttp.AppError) {
	q := &models.ForecastQuery{Category: c.QueryParam("category")}
	if s := c.QueryParam("entity_id"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, invalidParam("entity_id", s)
		}
		q.EntityID = &v
	}
	if s := c.QueryParam("horizon"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, invalidParam("horizon", s)
		}
		q.Horizon = &v
	}
	if s := c.QueryParam("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, invalidParam("limit", s)
		}
		q.Limit = v
	}
	return q, nil
}

func invalidParam(name, value string) *xhttp.AppError {
	e := xhttp.NewAppError("ERR_INVALID_PARAM", name, name+" must be an integer", http.StatusBadRequest)
	return e.WithParam("value", value)
}
