// Package statsapi exposes dispatcher introspection over HTTP and a
// per-consumer websocket bridge for demo clients. It has no effect on
// core dispatch semantics; it is an outside-the-core collaborator, same
// as the network ingress listener.
package statsapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ringcast/internal/dispatcher"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application serving dispatcher stats and the
// consumer websocket bridge.
type Server struct {
	echo *echo.Echo
	disp *dispatcher.Dispatcher
	ws   *wsBridge
}

// New constructs an Echo app bound to disp.
func New(disp *dispatcher.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, disp: disp, ws: newWSBridge(disp)}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if path == "/ws" || path == "/health" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/stats", s.handleStats)
	s.echo.GET("/ws", s.ws.handle)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down stats api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("stats api stopped")
		return nil
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	AttachedCount int    `json:"attached_count"`
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.disp.Snapshot()
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		AttachedCount: snap.AttachedCount,
	})
}

type statsResponse struct {
	RingDepth       int    `json:"ring_depth"`
	AttachedCount   int    `json:"attached_count"`
	KeyFrameCount   int    `json:"key_frame_count"`
	WaitingKeyFrame bool   `json:"waiting_key_frame"`
	ReadFlag        uint16 `json:"read_flag"`
	DataRef         uint32 `json:"data_ref"`
	RecvRef         uint32 `json:"recv_ref"`
}

func (s *Server) handleStats(c echo.Context) error {
	snap := s.disp.Snapshot()
	return c.JSON(http.StatusOK, statsResponse{
		RingDepth:       snap.RingDepth,
		AttachedCount:   snap.AttachedCount,
		KeyFrameCount:   snap.KeyFrameCount,
		WaitingKeyFrame: snap.WaitingKeyFrame,
		ReadFlag:        snap.ReadFlag,
		DataRef:         snap.DataRef,
		RecvRef:         snap.RecvRef,
	})
}
