// Package api exposes the trading engine over HTTP: signal inspection,
// aggregate statistics and tenant administration.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"VolBot/internal/domain/models"
	domrepo "VolBot/internal/domain/repository"
	"VolBot/internal/orchestrator"
	xhttp "VolBot/pkg/http"
	xlogger "VolBot/pkg/logger"
	xutil "VolBot/pkg/util"
)

// TradingHandler implements the Echo routes over the signal store and the
// orchestrator's user registry.
type TradingHandler struct {
	logger  *xlogger.Logger
	store   domrepo.SignalStore
	orch    *orchestrator.Orchestrator
	stream  domrepo.MarketStream
	archive domrepo.CandleArchive
}

func NewTradingHandler(logger *xlogger.Logger, store domrepo.SignalStore, orch *orchestrator.Orchestrator, stream domrepo.MarketStream, archive domrepo.CandleArchive) *TradingHandler {
	return &TradingHandler{logger: logger, store: store, orch: orch, stream: stream, archive: archive}
}

func (h *TradingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/signals/active", h.ActiveSignals)
	g.GET("/signals/history", h.History)
	g.GET("/signals/stats", h.Statistics)
	g.GET("/signals/:id", h.Signal)
	g.GET("/candles", h.Candles)
	g.POST("/users", h.AddUser)
	g.DELETE("/users/:id", h.RemoveUser)
}

type activeSignalsRequest struct {
	UserID string `query:"userId" validate:"required"`
}

func (h *TradingHandler) ActiveSignals(c echo.Context) error {
	req := &activeSignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	signals, err := h.store.ActiveSignals(c.Request().Context(), req.UserID)
	if err != nil {
		h.logger.Error("active signals query error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, signals, int64(len(signals)))
}

func (h *TradingHandler) Signal(c echo.Context) error {
	sig, err := h.store.GetSignal(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domrepo.ErrNotFound) {
			return xhttp.NotFoundResponse(c, "signal not found")
		}
		h.logger.Error("signal query error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *TradingHandler) History(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 50)
	signals, err := h.store.SignalHistory(c.Request().Context(), limit)
	if err != nil {
		h.logger.Error("signal history query error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, signals, int64(len(signals)))
}

func (h *TradingHandler) Statistics(c echo.Context) error {
	stats, err := h.store.Statistics(c.Request().Context())
	if err != nil {
		h.logger.Error("statistics query error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, stats)
}

type candlesRequest struct {
	Symbol   string `query:"symbol" validate:"required"`
	From     string `query:"from"`
	To       string `query:"to"`
	Interval string `query:"interval" default:"1m"`
	Limit    int    `query:"limit" validate:"gte=0" default:"500"`
}

// Candles serves archived candles from ClickHouse. Absent when the archive
// is disabled.
func (h *TradingHandler) Candles(c echo.Context) error {
	if h.archive == nil {
		return xhttp.NotFoundResponse(c, "candle archive disabled")
	}

	req := &candlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	now := time.Now()
	from := xutil.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xutil.ParseTimeDefault(req.To, now)
	from, to = xutil.AlignFromTo(from, to, req.Interval)

	candles, err := h.archive.Query(c.Request().Context(), req.Symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("candle archive query error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, candles, int64(len(candles)))
}

type addUserRequest struct {
	UserID           string  `json:"userId" validate:"required"`
	Email            string  `json:"email" validate:"omitempty,email"`
	CapitalPerTrade  float64 `json:"capitalPerTrade" validate:"required,gt=0"`
	ProfitMargin     float64 `json:"profitMargin" validate:"gte=0,lte=1" default:"0.004"`
	SellMargin       float64 `json:"sellMargin" validate:"gte=0,lte=1" default:"0.004"`
	MaxActiveSignals int     `json:"maxActiveSignals" validate:"gte=1" default:"1"`
	MaxDailySignals  int     `json:"maxDailySignals" validate:"gte=1" default:"300"`
}

func (h *TradingHandler) AddUser(c echo.Context) error {
	req := &addUserRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	user := &models.UserConfig{
		UserID:           req.UserID,
		Email:            req.Email,
		CapitalPerTrade:  req.CapitalPerTrade,
		ProfitMargin:     req.ProfitMargin,
		SellMargin:       req.SellMargin,
		MaxActiveSignals: req.MaxActiveSignals,
		MaxDailySignals:  req.MaxDailySignals,
		LastResetDate:    time.Now().Format("2006-01-02"),
	}
	h.orch.AddUser(user)
	return xhttp.CreatedResponse(c, user)
}

func (h *TradingHandler) RemoveUser(c echo.Context) error {
	h.orch.RemoveUser(c.Param("id"))
	return xhttp.NoContentResponse(c)
}

// Health reports stream connectivity and storage reachability.
func (h *TradingHandler) Health(c echo.Context) error {
	status := map[string]interface{}{
		"stream_connected": h.stream != nil && h.stream.IsConnected(),
		"users":            h.orch.UserCount(),
	}
	code := http.StatusOK
	if h.archive != nil {
		if err := h.archive.Health(c.Request().Context()); err != nil {
			status["archive"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			status["archive"] = "ok"
		}
	}
	return c.JSON(code, status)
}
