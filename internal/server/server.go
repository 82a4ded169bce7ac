package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/autospook/internal/queue/streams"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LagFunc reports the backlog of the request stream.
type LagFunc func(ctx context.Context) (streams.LagMetrics, error)

// Options configure the ops server. Metrics defaults to the default Prometheus registry.
type Options struct {
	Service string
	Version string
	Metrics http.Handler
	Lag     LagFunc
	Logger  *log.Logger
}

type health struct {
	Status  string              `json:"status"`
	Service string              `json:"service"`
	Version string              `json:"version,omitempty"`
	Queue   *streams.LagMetrics `json:"queue,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// New builds the echo instance serving /healthz and /metrics.
func New(opts Options) *echo.Echo {
	if opts.Service == "" {
		opts.Service = "autospook"
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[OPS] ", log.LstdFlags)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		opts.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		body := health{Status: "ok", Service: opts.Service, Version: opts.Version}
		if opts.Lag == nil {
			return c.JSON(http.StatusOK, body)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		lag, err := opts.Lag(ctx)
		if err != nil {
			body.Status = "degraded"
			body.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body.Queue = &lag
		return c.JSON(http.StatusOK, body)
	})
	e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	return e
}

// Run serves the ops endpoints on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, opts Options) error {
	e := New(opts)
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if opts.Logger != nil {
		opts.Logger.Printf("ops server listening on %s", addr)
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
