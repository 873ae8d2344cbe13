package fsmcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	ProtocolVersion   = "2024-11-05"
	defaultServerName = "fsmcp"
	serverVersion     = "0.1.0"

	// DefaultResponseLimit is the largest serialized tools/call result sent
	// as-is. Larger results are replaced by an advisory.
	DefaultResponseLimit = 50 << 20
	// DefaultShutdownTimeout bounds in-flight work and shutdown hooks.
	DefaultShutdownTimeout = 5 * time.Second

	toolsPageSize = 100
)

// CallOutcome classifies a finished tools/call for observers.
type CallOutcome string

const (
	OutcomeOK               CallOutcome = "ok"
	OutcomeToolError        CallOutcome = "tool_error"
	OutcomeInvalidArguments CallOutcome = "invalid_arguments"
	OutcomeUnknownTool      CallOutcome = "unknown_tool"
	OutcomePanic            CallOutcome = "panic"
	OutcomeOversized        CallOutcome = "oversized"
)

// CallObserver is notified after every tools/call.
type CallObserver func(tool string, outcome CallOutcome, elapsed time.Duration)

// ShutdownHook releases a resource when the server stops. Hooks run in
// registration order.
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ServerConfig holds all configuration for BaseServer
type ServerConfig struct {
	logger          Logger
	protocolVersion string
	serverName      string
	serverVersion   string
	capabilities    Capabilities
	registry        *ToolRegistry
	responseLimit   int
	shutdownTimeout time.Duration
	shutdownHooks   []ShutdownHook
	observer        CallObserver
}

// ServerConfigOption is a function that modifies ServerConfig
type ServerConfigOption func(*ServerConfig)

// UseLogger sets a custom logger
func UseLogger(logger Logger) ServerConfigOption {
	return func(c *ServerConfig) {
		c.logger = logger
	}
}

// UseServerInfo sets server name and version
func UseServerInfo(name, version string) ServerConfigOption {
	return func(c *ServerConfig) {
		c.serverName = name
		c.serverVersion = version
	}
}

func UseCapabilities(capabilities Capabilities) ServerConfigOption {
	return func(c *ServerConfig) {
		c.capabilities = capabilities
	}
}

// UseToolRegistry serves tools from registry instead of an empty one.
func UseToolRegistry(registry *ToolRegistry) ServerConfigOption {
	return func(c *ServerConfig) {
		c.registry = registry
	}
}

// UseResponseLimit sets the serialized tools/call result ceiling in bytes.
func UseResponseLimit(limit int) ServerConfigOption {
	return func(c *ServerConfig) {
		c.responseLimit = limit
	}
}

// UseShutdownTimeout bounds how long in-flight work and shutdown hooks may run.
func UseShutdownTimeout(d time.Duration) ServerConfigOption {
	return func(c *ServerConfig) {
		c.shutdownTimeout = d
	}
}

// UseShutdownHook appends a hook run once during shutdown.
func UseShutdownHook(name string, fn func(ctx context.Context) error) ServerConfigOption {
	return func(c *ServerConfig) {
		c.shutdownHooks = append(c.shutdownHooks, ShutdownHook{Name: name, Fn: fn})
	}
}

// UseCallObserver registers a callback for tools/call outcomes.
func UseCallObserver(observer CallObserver) ServerConfigOption {
	return func(c *ServerConfig) {
		c.observer = observer
	}
}

func defaultConfig() *ServerConfig {
	return &ServerConfig{
		logger:          NewNullLogger(),
		protocolVersion: ProtocolVersion,
		serverName:      defaultServerName,
		serverVersion:   serverVersion,
		responseLimit:   DefaultResponseLimit,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// BaseServer is the transport-independent protocol engine. A transport sets
// sendResp and sendErr and feeds it one message at a time.
type BaseServer struct {
	protocolVersion string
	logger          Logger
	ServerInfo      ServerInfo
	capabilities    Capabilities
	registry        *ToolRegistry
	responseLimit   int
	shutdownTimeout time.Duration
	shutdownHooks   []ShutdownHook
	observer        CallObserver

	mu         sync.Mutex
	state      LifecycleState
	clientInfo ClientInfo

	shutdownOnce sync.Once
	shutdownErr  error

	sendResp func(id *json.RawMessage, result interface{})
	sendErr  func(id *json.RawMessage, code int, message string, data interface{})
}

// NewBaseServer creates a new BaseServer instance with the given options
func NewBaseServer(opts ...ServerConfigOption) (*BaseServer, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = NewNullLogger()
	}
	if cfg.responseLimit <= 0 {
		return nil, fmt.Errorf("response limit must be positive, got %d", cfg.responseLimit)
	}
	if cfg.shutdownTimeout <= 0 {
		return nil, fmt.Errorf("shutdown timeout must be positive, got %s", cfg.shutdownTimeout)
	}
	if cfg.registry == nil {
		cfg.registry = NewToolRegistry(cfg.logger)
	}

	return &BaseServer{
		protocolVersion: cfg.protocolVersion,
		logger:          cfg.logger,
		ServerInfo: ServerInfo{
			Name:    cfg.serverName,
			Version: cfg.serverVersion,
		},
		capabilities:    cfg.capabilities,
		registry:        cfg.registry,
		responseLimit:   cfg.responseLimit,
		shutdownTimeout: cfg.shutdownTimeout,
		shutdownHooks:   cfg.shutdownHooks,
		observer:        cfg.observer,
		state:           StateUninitialized,
		sendResp:        func(*json.RawMessage, interface{}) {},
		sendErr:         func(*json.RawMessage, int, string, interface{}) {},
	}, nil
}

// AddTools registers tools with the server's registry.
func (s *BaseServer) AddTools(tools ...Tool) error {
	return s.registry.Register(tools...)
}

// State returns the current lifecycle state.
func (s *BaseServer) State() LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *BaseServer) setState(to LifecycleState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from != to {
		s.logger.WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}).Debug("Lifecycle state changed")
	}
}

// handleMessage routes one raw line. It never panics and answers every
// message that carries a non-null id exactly once.
func (s *BaseServer) handleMessage(ctx context.Context, raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return
	}

	logger := s.logger.WithFields(map[string]interface{}{"correlation_id": uuid.NewString()})

	kind, req := classify(trimmed)
	switch kind {
	case kindInvalidJSON:
		logger.WithFields(map[string]interface{}{"bytes": len(trimmed)}).Warn("Failed to parse message")
		s.sendErr(nil, ErrorCodeParseError, "Parse error", nil)
	case kindInvalidRequest:
		var id *json.RawMessage
		if req != nil {
			id = req.ID
		}
		logger.Warn("Received invalid request")
		s.sendErr(id, ErrorCodeInvalidRequest, "Invalid Request", nil)
	case kindUnroutable:
		logger.Debug("Dropping message without method or id")
	case kindNotification:
		s.handleNotification(ctx, logger, req)
	case kindRequest:
		s.handleRequest(ctx, logger, req)
	}
}

// handleRequest handles incoming requests.
func (s *BaseServer) handleRequest(ctx context.Context, logger Logger, request *Request) {
	logger = logger.WithFields(map[string]interface{}{
		"method": request.Method,
		"id":     string(*request.ID),
	})

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("Recovered from panic while handling request")
			s.sendErr(request.ID, ErrorCodeInternalError, "Internal error", nil)
		}
	}()

	logger.Debug("Received request from client")

	if st := s.State(); st == StateShuttingDown || st == StateStopped {
		s.sendErr(request.ID, ErrorCodeServerShuttingDown, "Server is shutting down", nil)
		return
	}

	switch request.Method {
	case "initialize":
		s.handleInitialize(ctx, logger, request)
	case "ping":
		s.sendResp(request.ID, struct{}{})
	case "tools/list":
		s.handleToolsList(ctx, logger, request)
	case "tools/call":
		s.handleToolsCall(ctx, logger, request)
	case "resources/list":
		s.sendResp(request.ID, ListResourcesResult{Resources: []json.RawMessage{}})
	case "prompts/list":
		s.sendResp(request.ID, ListPromptsResult{Prompts: []json.RawMessage{}})
	default:
		logger.Warn("Method not found. Unhandled request from client")
		s.sendErr(request.ID, ErrorCodeMethodNotFound, "Method not found",
			map[string]string{"method": request.Method})
	}
}

func (s *BaseServer) handleInitialize(ctx context.Context, logger Logger, request *Request) {
	_, span := StartSpan(ctx, "BaseServer.handleInitialize")
	defer span.End()

	var params InitializeParams
	if err := decodeParams(request.Params, &params); err != nil {
		logger.WithErr(err).Warn("Ignoring malformed initialize params")
	}

	if params.ProtocolVersion != "" && params.ProtocolVersion != s.protocolVersion {
		logger.WithFields(map[string]interface{}{
			"client_version": params.ProtocolVersion,
			"server_version": s.protocolVersion,
		}).Info("Client requested a different protocol version")
	}

	s.mu.Lock()
	s.clientInfo = params.ClientInfo
	first := s.state == StateUninitialized
	s.mu.Unlock()

	if first {
		s.setState(StateInitializing)
	} else {
		logger.Warn("Repeated initialize request")
	}

	span.SetAttributes(
		attribute.String("client_name", params.ClientInfo.Name),
		attribute.String("client_version", params.ClientInfo.Version),
	)

	logger.WithFields(map[string]interface{}{
		"client": params.ClientInfo.Name,
	}).Info("Client initialized session")

	s.sendResp(request.ID, InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.ServerInfo,
	})
}

// handleNotification handles incoming notifications. Notifications are never
// answered.
func (s *BaseServer) handleNotification(ctx context.Context, logger Logger, notification *Request) {
	_, span := StartSpan(ctx, "BaseServer.handleNotification")
	defer span.End()

	logger = logger.WithFields(map[string]interface{}{"method": notification.Method})
	logger.Debug("Received notification from client")

	switch notification.Method {
	case "notifications/initialized", "initialized":
		if s.State() == StateUninitialized {
			logger.Warn("Received initialized before initialize")
		}
		s.setState(StateReady)
	case "notifications/cancelled":
		var cancelParams struct {
			RequestID json.RawMessage `json:"requestId"`
			Reason    string          `json:"reason"`
		}
		if err := decodeParams(notification.Params, &cancelParams); err == nil {
			logger.WithFields(map[string]interface{}{
				"requestID": string(cancelParams.RequestID),
				"reason":    cancelParams.Reason,
			}).Debug("Cancellation requested; requests run to completion")
		}
	default:
		logger.Debug("Ignoring unhandled notification")
	}
}

func (s *BaseServer) handleToolsList(ctx context.Context, logger Logger, request *Request) {
	ctx, span := StartSpan(ctx, "BaseServer.handleToolsList")
	defer span.End()

	var params ListParams
	if err := decodeParams(request.Params, &params); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WithErr(err).Error("Failed to parse list tools params")
		s.sendErr(request.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.sendResp(request.ID, s.ListTools(ctx, params.Cursor, toolsPageSize))
}

// ListTools returns the registered tools sorted by name, one page at a time.
// The cursor is the name of the last tool of the previous page.
func (s *BaseServer) ListTools(ctx context.Context, cursor string, limit int) ListToolsResult {
	_, span := StartSpan(ctx, "BaseServer.ListTools")
	defer span.End()

	if limit <= 0 {
		limit = toolsPageSize
	}

	all := s.registry.List()

	startIdx := 0
	if cursor != "" {
		for i, t := range all {
			if t.Name == cursor {
				startIdx = i + 1
				break
			}
		}
	}

	endIdx := min(startIdx+limit, len(all))
	page := make([]Tool, 0, endIdx-startIdx)
	page = append(page, all[startIdx:endIdx]...)

	var nextCursor string
	if endIdx < len(all) && len(page) > 0 {
		nextCursor = page[len(page)-1].Name
	}

	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.String("cursor", cursor),
		attribute.Int("num_tools", len(page)),
	)

	return ListToolsResult{Tools: page, NextCursor: nextCursor}
}

func (s *BaseServer) handleToolsCall(ctx context.Context, logger Logger, request *Request) {
	ctx, span := StartSpan(ctx, "BaseServer.handleToolsCall")
	defer span.End()

	var params CallToolParams
	if err := decodeParams(request.Params, &params); err != nil {
		logger.WithErr(err).Error("Failed to parse call tool params")
		s.sendErr(request.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}
	if params.Name == "" {
		logger.Warn("tools/call without a tool name")
		s.sendErr(request.ID, ErrorCodeInvalidParams, "Invalid params: missing tool name", nil)
		return
	}

	logger = logger.WithFields(map[string]interface{}{"tool": params.Name})
	span.SetAttributes(attribute.String("tool", params.Name))
	start := time.Now()

	result, outcome, err := s.callTool(ctx, logger, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.observe(params.Name, outcome, time.Since(start))

		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: ErrorCodeInternalError, Message: "Internal error"}
		}
		s.sendErr(request.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		logger.WithErr(err).Error("Failed to encode tool result")
		s.observe(params.Name, OutcomePanic, time.Since(start))
		s.sendErr(request.ID, ErrorCodeInternalError, "Internal error: failed to encode tool result", nil)
		return
	}

	if len(payload) > s.responseLimit {
		logger.WithFields(map[string]interface{}{
			"bytes": len(payload),
			"limit": s.responseLimit,
		}).Warn("Tool result exceeds response limit; replacing with advisory")
		outcome = OutcomeOversized
		payload, _ = json.Marshal(oversizedResult(len(payload), s.responseLimit))
	}

	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("response_bytes", len(payload)),
	)
	s.observe(params.Name, outcome, time.Since(start))

	logger.WithFields(map[string]interface{}{
		"outcome":    outcome,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("Tool call finished")

	s.sendResp(request.ID, json.RawMessage(payload))
}

// CallTool validates arguments and runs the named tool. Unknown tools and
// handler panics are reported as *Error; everything else, including handler
// errors and schema violations, becomes a result flagged IsError.
func (s *BaseServer) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	result, _, err := s.callTool(ctx, s.logger.WithFields(map[string]interface{}{"tool": params.Name}), params)
	return result, err
}

func (s *BaseServer) callTool(ctx context.Context, logger Logger, params CallToolParams) (CallToolResult, CallOutcome, error) {
	ctx, span := StartSpan(ctx, "BaseServer.CallTool")
	defer span.End()

	tool, ok := s.registry.lookup(params.Name)
	if !ok {
		logger.Warn("Tool not found")
		return CallToolResult{}, OutcomeUnknownTool, &Error{
			Code:    ErrorCodeInvalidParams,
			Message: fmt.Sprintf("Unknown tool: %s", params.Name),
			Data:    map[string]string{"tool": params.Name},
		}
	}

	args := bytes.TrimSpace(params.Arguments)
	if len(args) == 0 || bytes.Equal(args, []byte("null")) {
		args = []byte("{}")
	}
	params.Arguments = json.RawMessage(args)

	violations, err := tool.validateArguments(params.Arguments)
	if err != nil {
		logger.WithErr(err).Warn("Tool arguments could not be validated")
		return ErrorResult(fmt.Sprintf("Invalid arguments for %s: %v", params.Name, err)), OutcomeInvalidArguments, nil
	}
	if len(violations) > 0 {
		logger.WithFields(map[string]interface{}{"errors": violations}).Warn("Schema validation failed")
		return ErrorResult(fmt.Sprintf("Invalid arguments for %s: %s", params.Name, strings.Join(violations, "; "))), OutcomeInvalidArguments, nil
	}

	result, err := invokeHandler(ctx, tool.Handler, params)
	if err != nil {
		var p *toolPanic
		if errors.As(err, &p) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(p.value),
				"stack": string(p.stack),
			}).Error("Tool handler panicked")
			return CallToolResult{}, OutcomePanic, &Error{
				Code:    ErrorCodeInternalError,
				Message: fmt.Sprintf("Internal error while running %s", params.Name),
				Data:    map[string]string{"tool": params.Name},
			}
		}

		logger.WithErr(err).Warn("Tool handler failed with an error")
		return ErrorResult(err.Error()), OutcomeToolError, nil
	}

	if result.Content == nil {
		result.Content = []ToolResultContent{}
	}
	span.SetAttributes(attribute.Int("contents_length", len(result.Content)))

	if result.IsError {
		return result, OutcomeToolError, nil
	}
	return result, OutcomeOK, nil
}

type toolPanic struct {
	value interface{}
	stack []byte
}

func (p *toolPanic) Error() string {
	return fmt.Sprintf("tool panicked: %v", p.value)
}

func invokeHandler(ctx context.Context, h ToolHandler, params CallToolParams) (result CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &toolPanic{value: r, stack: debug.Stack()}
		}
	}()
	return h(ctx, params)
}

func (s *BaseServer) observe(tool string, outcome CallOutcome, elapsed time.Duration) {
	if s.observer != nil {
		s.observer(tool, outcome, elapsed)
	}
}

func oversizedResult(size, limit int) CallToolResult {
	return ErrorResult(fmt.Sprintf(
		"Response too large: the result is %.1f MB, which exceeds the %.1f MB response limit. "+
			"Narrow the request (a more specific path or pattern, a lower max_results, or max_lines for read_file) and try again.",
		float64(size)/(1<<20), float64(limit)/(1<<20)))
}

// ShutdownTimeout returns the configured grace period.
func (s *BaseServer) ShutdownTimeout() time.Duration {
	return s.shutdownTimeout
}

// Shutdown moves the server to ShuttingDown, runs every hook within the
// shutdown timeout and finishes in Stopped. Only the first call does work.
func (s *BaseServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.setState(StateShuttingDown)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		var errs []error
		for _, hook := range s.shutdownHooks {
			if err := hook.Fn(ctx); err != nil {
				s.logger.WithFields(map[string]interface{}{"hook": hook.Name}).WithErr(err).Error("Shutdown hook failed")
				errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			}
		}
		s.shutdownErr = errors.Join(errs...)

		s.setState(StateStopped)
		s.logger.Info("Server stopped")
	})
	return s.shutdownErr
}
