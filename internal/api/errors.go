package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/airlookjs/mediainfo/internal/resolver"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// newHTTPErrorHandler returns an echo HTTP error handler which renders all
// errors as an ErrorResponse. Resolver errors carry their own status, echo's
// own errors (unknown route, wrong method) keep theirs, and anything else
// is a 500.
func newHTTPErrorHandler() echo.HTTPErrorHandler {
	return func(err error, ec echo.Context) {
		if ec.Response().Committed {
			return
		}

		status, message := http.StatusInternalServerError, err.Error()

		var resolveErr *resolver.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &resolveErr):
			status, message = resolveErr.StatusCode(), resolveErr.Message
			if resolveErr.Err != nil {
				log.Errorf("%s request to %s failed (%s): %s\n", ec.Request().Method, ec.Request().RequestURI, resolveErr.Kind, resolveErr.Err)
			}
		case errors.As(err, &httpErr):
			status, message = httpErr.Code, fmt.Sprint(httpErr.Message)
		default:
			log.Errorf("%s request to %s caused unexpected error: %s\n", ec.Request().Method, ec.Request().RequestURI, err)
		}

		if ec.Request().Method == http.MethodHead {
			err = ec.NoContent(status)
		} else {
			err = ec.JSON(status, ErrorResponse{Error: message})
		}
		if err != nil {
			log.Warnf("Failed to write error response: %s\n", err)
		}
	}
}
