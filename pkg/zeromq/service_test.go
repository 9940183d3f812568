package zeromq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/open-teleop/pointcloud-server/pkg/pcd"
	"github.com/open-teleop/pointcloud-server/services"
	"github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	xyz pcd.Coordinates
	err error
}

func (f *fakeService) GetPointCloud(context.Context) (pcd.Coordinates, error) {
	return f.xyz, f.err
}

func (f *fakeService) Describe(context.Context) (*services.CloudSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.CloudSummary{Path: "/test/merged_0.pcd", Format: "ascii", Points: len(f.xyz)}, nil
}

func (f *fakeService) Path() string {
	return "/test/merged_0.pcd"
}

type envelope struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func newTestDispatcher(svc services.PointCloudService) *MessageDispatcher {
	logger := customlog.NewLogrusLoggerWithOutput("debug", io.Discard)
	d := NewMessageDispatcher(logger)
	h := NewCloudHandler(svc, logger, time.Second)
	d.RegisterHandler(MsgTypeCloudRequest, HandlerFunc(h.handleCloudRequest))
	d.RegisterHandler(MsgTypeCloudInfoRequest, HandlerFunc(h.handleCloudInfoRequest))
	return d
}

func reply(t *testing.T, d *MessageDispatcher, request string) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(d.Reply([]byte(request)), &out))
	return out
}

func TestCloudRequest(t *testing.T) {
	d := newTestDispatcher(&fakeService{xyz: pcd.Coordinates{{1.5, -2, 0}, {4.5, 6.25, 0}}})

	out := reply(t, d, `{"type":"CLOUD_REQUEST","timestamp":1}`)
	assert.Equal(t, MsgTypeCloudResponse, out.Type)
	assert.Greater(t, out.Timestamp, float64(0))
	assert.JSONEq(t, `[[1.5,-2,0],[4.5,6.25,0]]`, string(out.Data))
}

func TestCloudRequestEmpty(t *testing.T) {
	d := newTestDispatcher(&fakeService{xyz: pcd.Coordinates{}})

	out := reply(t, d, `{"type":"CLOUD_REQUEST"}`)
	assert.Equal(t, MsgTypeCloudResponse, out.Type)
	assert.Equal(t, `[]`, string(out.Data))
}

func TestCloudInfoRequest(t *testing.T) {
	d := newTestDispatcher(&fakeService{xyz: pcd.Coordinates{{1, 2, 3}}})

	out := reply(t, d, `{"type":"CLOUD_INFO_REQUEST"}`)
	assert.Equal(t, MsgTypeCloudInfoResponse, out.Type)

	var summary services.CloudSummary
	require.NoError(t, json.Unmarshal(out.Data, &summary))
	assert.Equal(t, "/test/merged_0.pcd", summary.Path)
	assert.Equal(t, 1, summary.Points)
}

func TestDispatchErrors(t *testing.T) {
	testCases := map[string]struct {
		svc     *fakeService
		request string
		code    int
		kind    string
	}{
		"NotJSON": {
			svc:     &fakeService{},
			request: `not json`,
			code:    400,
		},
		"MissingType": {
			svc:     &fakeService{},
			request: `{"timestamp":1}`,
			code:    400,
		},
		"UnknownType": {
			svc:     &fakeService{},
			request: `{"type":"CONFIG_REQUEST"}`,
			code:    400,
		},
		"Unavailable": {
			svc:     &fakeService{err: fmt.Errorf("%w: %w", services.ErrCloudUnavailable, os.ErrNotExist)},
			request: `{"type":"CLOUD_REQUEST"}`,
			code:    500,
			kind:    "unavailable",
		},
		"Malformed": {
			svc:     &fakeService{err: fmt.Errorf("decoding: %w", pcd.ErrMalformed)},
			request: `{"type":"CLOUD_INFO_REQUEST"}`,
			code:    500,
			kind:    "malformed",
		},
		"InsufficientFields": {
			svc:     &fakeService{err: pcd.ErrInsufficientFields},
			request: `{"type":"CLOUD_REQUEST"}`,
			code:    500,
			kind:    "insufficient_fields",
		},
		"Other": {
			svc:     &fakeService{err: errors.New("boom")},
			request: `{"type":"CLOUD_REQUEST"}`,
			code:    500,
			kind:    "internal",
		},
	}

	for name, tt := range testCases {
		tt := tt
		t.Run(name, func(t *testing.T) {
			out := reply(t, newTestDispatcher(tt.svc), tt.request)
			assert.Equal(t, MsgTypeError, out.Type)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(out.Data, &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestZeroMQServiceRoundTrip(t *testing.T) {
	logger := customlog.NewLogrusLoggerWithOutput("debug", io.Discard)
	svc, err := NewZeroMQService("tcp://127.0.0.1:*", logger)
	require.NoError(t, err)
	defer svc.Stop()

	RegisterCloudHandlers(svc, NewCloudHandler(&fakeService{xyz: pcd.Coordinates{{1, 2, 3}}}, logger, time.Second))
	require.NoError(t, svc.Start())

	client, err := zmq4.NewSocket(zmq4.REQ)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.SetLinger(0))
	require.NoError(t, client.SetRcvtimeo(5*time.Second))
	require.NoError(t, client.Connect(svc.Endpoint()))

	for _, tc := range []struct{ request, expectedType string }{
		{`{"type":"CLOUD_REQUEST"}`, MsgTypeCloudResponse},
		{`{"type":"BOGUS"}`, MsgTypeError},
		{`{"type":"CLOUD_INFO_REQUEST"}`, MsgTypeCloudInfoResponse},
	} {
		_, err = client.SendBytes([]byte(tc.request), 0)
		require.NoError(t, err)
		raw, err := client.RecvBytes(0)
		require.NoError(t, err)

		var out envelope
		require.NoError(t, json.Unmarshal(raw, &out))
		assert.Equal(t, tc.expectedType, out.Type)
	}
}

func TestZeroMQServiceStopIsIdempotent(t *testing.T) {
	svc, err := NewZeroMQService("tcp://127.0.0.1:*", customlog.NewLogrusLoggerWithOutput("info", io.Discard))
	require.NoError(t, err)

	svc.Stop()
	svc.Stop()
	assert.ErrorIs(t, svc.Start(), ErrServiceClosed)
}
