package status

import (
	"net/http"

	"github.com/airlookjs/mediainfo/internal/metrics"
	"github.com/airlookjs/mediainfo/internal/share"
	"github.com/airlookjs/mediainfo/pkg/logger"
	"github.com/labstack/echo/v4"
)

type (
	// ShareStatusDto reports whether the mount of a single share could
	// be accessed.
	ShareStatusDto struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Mount       string `json:"mount"`
		Cached      bool   `json:"cached"`
		Available   bool   `json:"available"`
		Error       string `json:"error,omitempty"`
	}

	StatusDto struct {
		Healthy bool             `json:"healthy"`
		Shares  []ShareStatusDto `json:"shares"`
	}

	Controller struct {
		shares []*share.Share
	}
)

var controllerLogger = logger.Get("StatusController")

func New(shares []*share.Share) *Controller {
	return &Controller{shares: shares}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.get)
}

// get checks every share mount, responding 200 when all are
// available and 503 otherwise.
func (controller *Controller) get(ec echo.Context) error {
	dto := StatusDto{Healthy: true, Shares: make([]ShareStatusDto, 0, len(controller.shares))}
	for _, s := range controller.shares {
		shareStatus := ShareStatusDto{
			Name:        s.Name,
			Description: "Connection to " + s.Name + " storage",
			Mount:       s.Mount,
			Cached:      s.Cached,
			Available:   true,
		}

		if err := s.Available(); err != nil {
			controllerLogger.Warnf("%s\n", err)
			shareStatus.Available = false
			shareStatus.Error = err.Error()
			dto.Healthy = false
		}

		metrics.SetShareAvailable(s.Name, shareStatus.Available)
		dto.Shares = append(dto.Shares, shareStatus)
	}

	if !dto.Healthy {
		return ec.JSON(http.StatusServiceUnavailable, dto)
	}

	return ec.JSON(http.StatusOK, dto)
}
