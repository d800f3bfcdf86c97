package analysis

import (
	"context"
	"net/http"
	"net/url"

	"github.com/airlookjs/mediainfo/internal/format"
	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/labstack/echo/v4"
)

const OutputFormatParam = "outputFormat"

type (
	Resolver interface {
		Resolve(context.Context, resolver.Request) (*resolver.Response, error)
	}

	// Controller is the struct which is responsible for defining the
	// analysis routes, and for shaping the resolver's responses for
	// the client.
	Controller struct {
		resolver Resolver
	}
)

var controllerLogger = logger.Get("AnalysisController")

func New(resolver Resolver) *Controller {
	return &Controller{resolver: resolver}
}

// SetRoutes accepts the Echo group for the route prefix and sets
// the routes on it. The bare prefix is routed too, so that a request
// without a path reaches the handler and is rejected there.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.get)
	eg.GET("/*", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	path := logicalPath(ec)
	controllerLogger.Debugf("Processing request %s -> %s\n", ec.Request().URL, path)

	resp, err := controller.resolver.Resolve(ec.Request().Context(), resolver.Request{
		ID:           ec.Response().Header().Get(echo.HeaderXRequestID),
		Path:         path,
		OutputFormat: ec.QueryParam(OutputFormatParam),
	})
	if err != nil {
		return err
	}

	switch resp.Format.Kind {
	case format.JSON:
		return ec.JSON(http.StatusOK, resp.Document)
	case format.XML:
		return ec.Blob(http.StatusOK, echo.MIMETextXMLCharsetUTF8, []byte(resp.Text))
	default:
		return ec.HTML(http.StatusOK, resp.Text)
	}
}

// logicalPath extracts the path following the route prefix. Echo
// matches against the raw path whenever the request path contains
// escapes which do not round trip (e.g. an encoded slash), in which
// case the parameter must be unescaped here.
func logicalPath(ec echo.Context) string {
	param := ec.Param("*")
	if ec.Request().URL.RawPath == "" {
		return param
	}

	if unescaped, err := url.PathUnescape(param); err == nil {
		return unescaped
	}

	return param
}
