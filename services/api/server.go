// Package api exposes the simulation runner over HTTP (gin) and gRPC.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"backtest-sandbox/proto"
	"backtest-sandbox/services/config"
	"backtest-sandbox/services/engine"
)

// Simulator is the runner surface the handlers depend on.
type Simulator interface {
	Simulate(ctx context.Context, req *proto.SimulateRequest) (*proto.SimulateResponse, error)
	Sweep(ctx context.Context, req *proto.SweepRequest) (*proto.SweepResponse, error)
	Export(ctx context.Context, req *proto.SimulateRequest) ([]byte, error)
}

const arrowContentType = "application/vnd.apache.arrow.stream"

type Server struct {
	sim       Simulator
	engineCfg config.EngineConfig
	metrics   http.Handler
	logger    *zap.Logger
	started   time.Time
}

// NewServer wires the handlers. metrics may be nil to leave /metrics unmounted.
func NewServer(sim Simulator, engineCfg config.EngineConfig, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{sim: sim, engineCfg: engineCfg, metrics: metrics, logger: logger, started: time.Now()}
}

// Router builds a gin engine with the full route table.
func (s *Server) Router(metricsPath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.SetupRoutes(r, metricsPath)
	return r
}

func (s *Server) SetupRoutes(r *gin.Engine, metricsPath string) {
	api := r.Group("/api/v1")
	{
		api.POST("/simulate", s.handleSimulate)
		api.POST("/simulate/sweep", s.handleSweep)
		api.POST("/simulate/arrow", s.handleArrow)
		api.GET("/signals", s.handleSignals)
		api.GET("/health", s.handleHealthCheck)
	}
	if s.metrics != nil && metricsPath != "" {
		r.GET(metricsPath, gin.WrapH(s.metrics))
	}
}

// HTTPStatus maps an error code onto a response status.
func HTTPStatus(code string) int {
	switch code {
	case engine.ErrCodeConfig.Code, engine.ErrCodeUnknownSignal.Code, engine.ErrCodeInvalidRequest.Code:
		return http.StatusBadRequest
	case engine.ErrCodeMissingSignal.Code:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	resp := proto.ErrorResponse(err)
	status := HTTPStatus(resp.Error.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Simulation request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, resp)
}

// bind decodes the body with the same strict policy as the CLI and gRPC codec.
func (s *Server) bind(c *gin.Context, v any) bool {
	if err := proto.Decode(c.Request.Body, v); err != nil {
		apiErr := engine.ErrCodeInvalidRequest
		apiErr.Details = err.Error()
		c.JSON(http.StatusBadRequest, &proto.SimulateResponse{Error: &apiErr})
		return false
	}
	return true
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req proto.SimulateRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.sim.Simulate(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSweep(c *gin.Context) {
	var req proto.SweepRequest
	if !s.bind(c, &req) {
		return
	}
	resp, err := s.sim.Sweep(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleArrow(c *gin.Context) {
	var req proto.SimulateRequest
	if !s.bind(c, &req) {
		return
	}
	data, err := s.sim.Export(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, arrowContentType, data)
}

type signalInfo struct {
	ID     engine.SignalID `json:"id"`
	Window int             `json:"window,omitempty"`
	Source engine.SignalID `json:"source,omitempty"`
}

func (s *Server) handleSignals(c *gin.Context) {
	spec := s.engineCfg.CatalogSpec()
	windows := map[engine.SignalID]int{
		engine.SignalShortMA:      spec.ShortMA,
		engine.SignalLongMA:       spec.LongMA,
		engine.SignalRSI:          spec.RSIPeriod,
		engine.SignalVolatility:   spec.VolatilityWindow,
		engine.SignalVolatilityMA: spec.VolatilityMAWindow,
	}
	out := make([]signalInfo, 0, len(windows)+1)
	for _, id := range engine.KnownSignals() {
		info := signalInfo{ID: id}
		if id != engine.SignalPrice {
			info.Window = windows[id]
			if info.Window == 0 {
				continue
			}
			info.Source = engine.SignalPrice
			if id == engine.SignalVolatilityMA {
				info.Source = engine.SignalVolatility
			}
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{
		"signals":        out,
		"equality":       s.engineCfg.EnableEquality,
		"strategy_types": []string{proto.StrategyRules, proto.StrategyCrossover},
		"default_warmup": engine.DefaultWarmup,
		"engine_version": s.engineCfg.Version,
	})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).String(),
		"version":   s.engineCfg.Version,
	})
}
