package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"github.com/open-teleop/pointcloud-server/services"
)

// Error kinds reported in the JSON body of failed point cloud requests.
const (
	KindUnavailable        = "unavailable"
	KindMalformed          = "malformed"
	KindInsufficientFields = "insufficient_fields"
	KindInternal           = "internal"
)

// PointCloudHandler holds dependencies for the point cloud endpoints.
type PointCloudHandler struct {
	service        services.PointCloudService
	logger         customlog.Logger
	requestTimeout time.Duration
}

// NewPointCloudHandler creates a new handler for point cloud endpoints.
func NewPointCloudHandler(service services.PointCloudService, logger customlog.Logger, requestTimeout time.Duration) *PointCloudHandler {
	if service == nil {
		panic("PointCloudService cannot be nil in NewPointCloudHandler")
	}
	if logger == nil {
		panic("Logger cannot be nil in NewPointCloudHandler")
	}
	return &PointCloudHandler{
		service:        service,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

// RegisterPointCloudRoutes registers the point cloud endpoints with the Fiber app.
func RegisterPointCloudRoutes(app *fiber.App, h *PointCloudHandler) {
	app.Get("/pcd", h.handleGetPointCloud)
	app.Get("/pcd/info", h.handleGetPointCloudInfo)

	h.logger.Infof("Registered point cloud endpoints /pcd and /pcd/info")
}

// handleGetPointCloud returns the coordinates of every point as [[x,y,z],...].
func (h *PointCloudHandler) handleGetPointCloud(c *fiber.Ctx) error {
	ctx, cancel := h.context(c)
	defer cancel()

	xyz, err := h.service.GetPointCloud(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	h.logger.Debugf("Serving %d points from %s", len(xyz), h.service.Path())
	return c.JSON(xyz)
}

// handleGetPointCloudInfo returns the header and bounds of the served file.
func (h *PointCloudHandler) handleGetPointCloudInfo(c *fiber.Ctx) error {
	ctx, cancel := h.context(c)
	defer cancel()

	summary, err := h.service.Describe(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(summary)
}

func (h *PointCloudHandler) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if h.requestTimeout > 0 {
		return context.WithTimeout(c.UserContext(), h.requestTimeout)
	}
	return context.WithCancel(c.UserContext())
}

func (h *PointCloudHandler) fail(c *fiber.Ctx, err error) error {
	status, kind := classify(err)
	h.logger.WithField("kind", kind).Errorf("Failed to serve point cloud: %v", err)
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  kind,
	})
}

// classify maps service errors to a server-error status and kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrCloudUnavailable):
		return http.StatusServiceUnavailable, KindUnavailable
	case errors.Is(err, pcd.ErrInsufficientFields):
		return http.StatusInternalServerError, KindInsufficientFields
	case errors.Is(err, pcd.ErrMalformed):
		return http.StatusInternalServerError, KindMalformed
	}
	return http.StatusInternalServerError, KindInternal
}
