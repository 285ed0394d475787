package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/pipeline"
)

// Config wires a Server. Workbench and Results are required.
type Config struct {
	Workbench *pipeline.Workbench
	Results   ledger.Reader
	Hub       *Hub
	// Gatherer backs /metrics; the endpoint is omitted when nil.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the HTTP surface standing in for the browser UI.
type Server struct {
	echo    *echo.Echo
	wb      *pipeline.Workbench
	results ledger.Reader
	hub     *Hub
	log     *zap.Logger
}

// New builds the echo instance and registers every route.
func New(cfg Config) (*Server, error) {
	if cfg.Workbench == nil || cfg.Results == nil {
		return nil, errors.New("server needs a workbench and a result reader")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	s := &Server{echo: e, wb: cfg.Workbench, results: cfg.Results, hub: cfg.Hub, log: log}
	api := e.Group("/api")
	api.GET("/columns", s.getColumns)
	api.GET("/runs", s.getRuns)
	api.POST("/analyses/:kind", s.runAnalysis)
	if s.hub != nil {
		e.GET("/ws", func(c echo.Context) error {
			return s.hub.ServeWS(c.Response(), c.Request())
		})
	}
	if cfg.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	return s, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- s.echo.Start(addr) }()
	s.log.Info("listening", zap.String("addr", addr))
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type columnsResponse struct {
	Name    string                     `json:"name,omitempty"`
	Rows    int                        `json:"rows"`
	Columns []dataset.ColumnDescriptor `json:"columns"`
}

func (s *Server) getColumns(c echo.Context) error {
	ds := s.wb.Dataset()
	return c.JSON(http.StatusOK, columnsResponse{Name: ds.Name, Rows: ds.RowCount(), Columns: ds.LiveColumns()})
}

func (s *Server) getRuns(c echo.Context) error {
	tree, err := ledger.BuildTree(c.Request().Context(), s.results, ledger.RunID(c.QueryParam("run")))
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownRun) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, tree)
}

type analysisRequest struct {
	Selection pipeline.Selection `json:"selection"`
	Options   pipeline.Options   `json:"options"`
	// Wait holds the response until every task of the run persisted.
	Wait bool `json:"wait,omitempty"`
}

type analysisResponse struct {
	RunID   ledger.RunID     `json:"run_id"`
	Text    string           `json:"text"`
	Columns []string         `json:"columns,omitempty"`
	Report  *pipeline.Report `json:"report,omitempty"`
	Errors  []string         `json:"errors,omitempty"`
}

type errorResponse struct {
	Category pipeline.Category `json:"category"`
	Message  string            `json:"message"`
}

func statusFor(cat pipeline.Category) int {
	switch cat {
	case pipeline.CategorySelection, pipeline.CategoryInvalidInput, pipeline.CategoryValidation:
		return http.StatusUnprocessableEntity
	case pipeline.CategoryCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) runAnalysis(c echo.Context) error {
	var req analysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind := pipeline.Kind(c.Param("kind"))
	out, err := s.wb.Run(c.Request().Context(), kind, req.Selection, req.Options)
	if err != nil {
		cat := pipeline.Classify(err)
		if cat == pipeline.CategoryPersistence || cat == pipeline.CategoryInternal {
			s.log.Error("analysis failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		return c.JSON(statusFor(cat), errorResponse{Category: cat, Message: pipeline.UserMessage(err)})
	}
	resp := analysisResponse{RunID: out.RunID, Text: out.Text}
	for _, col := range out.Columns {
		resp.Columns = append(resp.Columns, col.Name)
	}
	if req.Wait {
		rep := out.Wait()
		resp.Report = rep
		resp.Errors = rep.Messages()
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusAccepted, resp)
}
