package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	customlog "github.com/open-teleop/pointcloud-server/pkg/log"
	"github.com/pebbe/zmq4"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Message types
const (
	MsgTypeCloudRequest      = "CLOUD_REQUEST"
	MsgTypeCloudResponse     = "CLOUD_RESPONSE"
	MsgTypeCloudInfoRequest  = "CLOUD_INFO_REQUEST"
	MsgTypeCloudInfoResponse = "CLOUD_INFO_RESPONSE"
	MsgTypeError             = "ERROR"
)

const pollInterval = 100 * time.Millisecond

// ZeroMQMessage represents a generic message structure for ZeroMQ communication
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitempty"`
}

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data []byte) ([]byte, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data []byte) ([]byte, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data []byte) ([]byte, error) {
	return f(data)
}

func newEnvelope(msgType string, data interface{}) ZeroMQMessage {
	return ZeroMQMessage{
		Type:      msgType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
}

// MessageDispatcher routes messages to the appropriate handlers
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// Dispatch processes a message and routes it to the appropriate handler.
// Failures are returned as errors; Reply turns them into ERROR envelopes.
func (d *MessageDispatcher) Dispatch(data []byte) ([]byte, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	d.logger.Debugf("Dispatching message of type: %s", msg.Type)
	d.mu.RLock()
	handler, exists := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}
	return handler.HandleMessage(data)
}

// Reply dispatches data and always produces a response frame, so the REP
// socket never stays waiting for a send.
func (d *MessageDispatcher) Reply(data []byte) []byte {
	response, err := d.Dispatch(data)
	if err == nil {
		return response
	}
	d.logger.Warnf("Error dispatching message: %v", err)

	resp := ErrorResponse{Message: err.Error(), Code: 500}
	if errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownMessageType) {
		resp.Code = 400
	}
	var kerr *kindError
	if errors.As(err, &kerr) {
		resp.Kind = kerr.kind
	}

	errData, merr := json.Marshal(newEnvelope(MsgTypeError, resp))
	if merr != nil {
		return []byte(`{"type":"ERROR","data":{"message":"internal error","code":500}}`)
	}
	return errData
}

// MessageReceiver handles receiving messages from a ZeroMQ REP socket
type MessageReceiver struct {
	socket     *zmq4.Socket
	poller     *zmq4.Poller
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	endpoint   string
	done       chan struct{}
	wg         sync.WaitGroup
}

// newMessageReceiver creates a new MessageReceiver bound to address
func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}

	// Configure socket options
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	// Send timeout keeps a vanished requester from blocking shutdown
	if err := socket.SetSndtimeo(time.Second); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = address
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("MessageReceiver initialized on %s", endpoint)

	return &MessageReceiver{
		socket:     socket,
		poller:     poller,
		dispatcher: dispatcher,
		logger:     logger,
		endpoint:   endpoint,
		done:       make(chan struct{}),
	}, nil
}

// Start begins the message receiving loop. The socket is owned by the loop
// goroutine and closed by it when Stop is called.
func (r *MessageReceiver) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.socket.Close()
		r.logger.Infof("MessageReceiver started")

		for {
			select {
			case <-r.done:
				return
			default:
			}

			// Poll with timeout to allow for clean shutdown
			sockets, err := r.poller.Poll(pollInterval)
			if err != nil {
				r.logger.Warnf("Error polling socket: %v", err)
				continue
			}
			if len(sockets) == 0 {
				continue
			}

			msg, err := r.socket.RecvBytes(0)
			if err != nil {
				r.logger.Warnf("Error receiving message: %v", err)
				continue
			}
			r.logger.Debugf("Received message (%d bytes)", len(msg))

			response := r.dispatcher.Reply(msg)
			if _, err := r.socket.SendBytes(response, 0); err != nil {
				r.logger.Errorf("Error sending response: %v", err)
			}
		}
	}()
}

// Stop halts the receiving loop and waits for it to exit
func (r *MessageReceiver) Stop() {
	close(r.done)
	r.wg.Wait()
}

// ZeroMQService answers point cloud requests on a REP socket
type ZeroMQService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	mu         sync.Mutex
	running    bool
	stopped    bool
}

// NewZeroMQService creates a new ZeroMQ service bound to address
func NewZeroMQService(address string, logger customlog.Logger) (*ZeroMQService, error) {
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	dispatcher := NewMessageDispatcher(logger)
	receiver, err := newMessageReceiver(ctx, address, dispatcher, logger)
	if err != nil {
		ctx.Term()
		return nil, err
	}

	return &ZeroMQService{
		ctx:        ctx,
		receiver:   receiver,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// Endpoint is the address the REP socket is bound to, with any wildcard
// port resolved.
func (s *ZeroMQService) Endpoint() string {
	return s.receiver.endpoint
}

// RegisterHandler adds a handler for a specific message type
func (s *ZeroMQService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *ZeroMQService) RegisterHandlerFunc(messageType string, handler func([]byte) ([]byte, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// Start begins the ZeroMQ service
func (s *ZeroMQService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrServiceClosed
	}
	if s.running {
		return nil
	}

	s.running = true
	s.logger.Infof("Starting ZeroMQ service")
	s.receiver.Start()
	return nil
}

// Stop halts the ZeroMQ service and releases the context
func (s *ZeroMQService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true

	s.logger.Infof("Stopping ZeroMQ service")
	if s.running {
		s.receiver.Stop()
	} else {
		s.receiver.socket.Close()
	}
	s.running = false

	if err := s.ctx.Term(); err != nil {
		s.logger.Warnf("Error terminating ZMQ context: %v", err)
	}
	s.logger.Infof("ZeroMQ service stopped")
}
