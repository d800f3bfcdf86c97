package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/airlookjs/mediainfo/internal/api/analysis"
	"github.com/airlookjs/mediainfo/internal/api/status"
	"github.com/airlookjs/mediainfo/internal/metrics"
	"github.com/airlookjs/mediainfo/internal/share"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

const shutdownTimeout = 10 * time.Second

type (
	RestConfig struct {
		HostAddr       string   `yaml:"host" env:"HOST_ADDR" env-default:"0.0.0.0" validate:"required"`
		Port           int      `yaml:"port" env:"PORT" env-default:"3000" validate:"min=0,max=65535"`
		Route          string   `yaml:"route" env:"ROUTE" env-default:"/api/mediainfo" validate:"required,startswith=/"`
		MetricsEnabled bool     `yaml:"metrics_enabled" env:"METRICS_ENABLED" env-default:"false"`
		CORSOrigins    []string `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"*"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It owns
	// the route table and the middleware stack, while the controllers own the
	// handlers themselves.
	RestGateway struct {
		config             *RestConfig
		ec                 *echo.Echo
		analysisController controller
		statusController   controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// analysis routes (beneath the configured route prefix), the share status
// route and, if enabled, the Prometheus metrics route.
func NewRestGateway(config *RestConfig, resolver analysis.Resolver, shares []*share.Share) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = newHTTPErrorHandler()

	gateway := &RestGateway{
		config:             config,
		ec:                 ec,
		analysisController: analysis.New(resolver),
		statusController:   status.New(shares),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: config.CORSOrigins}))
	ec.Use(middleware.RequestID())
	if config.MetricsEnabled {
		ec.Use(metrics.Middleware())
		ec.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	ec.GET("/", func(ec echo.Context) error {
		return ec.String(http.StatusOK, "MediaInfo is running")
	})

	gateway.statusController.SetRoutes(ec.Group("/status"))
	gateway.analysisController.SetRoutes(ec.Group(config.Route))

	return gateway
}

// Addr is the host:port the gateway binds to when run.
func (gateway *RestGateway) Addr() string {
	return net.JoinHostPort(gateway.config.HostAddr, strconv.Itoa(gateway.config.Port))
}

// Listen binds the gateway's address ahead of Run, so that a failure to bind
// is reported to the caller directly. Run binds on its own if Listen was
// not called.
func (gateway *RestGateway) Listen() error {
	if gateway.ec.Listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", gateway.Addr())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", gateway.Addr(), err)
	}

	gateway.ec.Listener = listener
	return nil
}

// ListenerAddr returns the address the gateway is listening on, or nil if
// it has not yet started.
func (gateway *RestGateway) ListenerAddr() net.Addr {
	return gateway.ec.ListenerAddr()
}

func (gateway *RestGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gateway.ec.ServeHTTP(w, r)
}

// Run starts the HTTP server and blocks until the context provided is
// cancelled, at which point in-flight requests are given a short window
// to complete before the server is closed.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	defer ctxCancel(nil)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	wg.Add(1)
	go func(ec *echo.Echo) {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := ec.Shutdown(shutdownCtx); err != nil {
			log.Emit(logger.WARNING, "Graceful shutdown failed, closing: %s\n", err)
			ec.Close()
		}
	}(gateway.ec)

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
