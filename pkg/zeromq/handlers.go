package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"github.com/open-teleop/pointcloud-server/services"
)

// kindError tags a handler failure with the same kind string the HTTP API
// reports, so clients of both transports can branch on it.
type kindError struct {
	kind string
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func classify(err error) error {
	kind := "internal"
	switch {
	case errors.Is(err, services.ErrCloudUnavailable):
		kind = "unavailable"
	case errors.Is(err, pcd.ErrInsufficientFields):
		kind = "insufficient_fields"
	case errors.Is(err, pcd.ErrMalformed):
		kind = "malformed"
	}
	return &kindError{kind: kind, err: err}
}

// CloudHandler answers CLOUD_REQUEST and CLOUD_INFO_REQUEST messages
type CloudHandler struct {
	service services.PointCloudService
	logger  customlog.Logger
	timeout time.Duration
}

// NewCloudHandler creates a new handler for point cloud requests
func NewCloudHandler(service services.PointCloudService, logger customlog.Logger, timeout time.Duration) *CloudHandler {
	return &CloudHandler{
		service: service,
		logger:  logger,
		timeout: timeout,
	}
}

// RegisterCloudHandlers wires the point cloud message types into svc
func RegisterCloudHandlers(svc *ZeroMQService, h *CloudHandler) {
	svc.RegisterHandlerFunc(MsgTypeCloudRequest, h.handleCloudRequest)
	svc.RegisterHandlerFunc(MsgTypeCloudInfoRequest, h.handleCloudInfoRequest)
}

func (h *CloudHandler) context() (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(context.Background(), h.timeout)
	}
	return context.WithCancel(context.Background())
}

func (h *CloudHandler) handleCloudRequest(data []byte) ([]byte, error) {
	ctx, cancel := h.context()
	defer cancel()

	xyz, err := h.service.GetPointCloud(ctx)
	if err != nil {
		h.logger.Errorf("Error serving cloud request: %v", err)
		return nil, classify(err)
	}

	h.logger.WithField("points", len(xyz)).Debugf("Sending cloud response")
	return marshalEnvelope(MsgTypeCloudResponse, xyz)
}

func (h *CloudHandler) handleCloudInfoRequest(data []byte) ([]byte, error) {
	ctx, cancel := h.context()
	defer cancel()

	summary, err := h.service.Describe(ctx)
	if err != nil {
		h.logger.Errorf("Error serving cloud info request: %v", err)
		return nil, classify(err)
	}
	return marshalEnvelope(MsgTypeCloudInfoResponse, summary)
}

func marshalEnvelope(msgType string, data interface{}) ([]byte, error) {
	b, err := json.Marshal(newEnvelope(msgType, data))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", msgType, err)
	}
	return b, nil
}
