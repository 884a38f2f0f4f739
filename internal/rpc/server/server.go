// Package server exposes the runtime as a JSON-RPC 2.0 stdio server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"automatosx/internal/rpc/protocol"
	"automatosx/internal/rpc/transport"
	"automatosx/internal/tools"
)

// Bootstrap constructs the tool registry on first initialize. Heavy
// service construction (database, providers, watchers) belongs here, not
// in server construction, so a client that never initializes pays nothing.
type Bootstrap func(ctx context.Context) (*tools.Registry, error)

// Server is the JSON-RPC stdio server. Requests are read serially,
// dispatched concurrently, and responses serialize through the transport
// write lock.
type Server struct {
	name      string
	version   string
	bootstrap Bootstrap
	logger    zerolog.Logger

	mu       sync.Mutex
	initDone chan struct{} // non-nil once an initialize is in flight
	initErr  error
	registry *tools.Registry

	inflight sync.WaitGroup
}

// New creates a server. The bootstrap runs once, on the first initialize;
// concurrent initializes await the same result.
func New(name, version string, bootstrap Bootstrap, logger zerolog.Logger) *Server {
	return &Server{name: name, version: version, bootstrap: bootstrap, logger: logger}
}

// Serve reads frames until the context is cancelled or stdin closes, then
// drains in-flight calls.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	defer s.inflight.Wait()

	for {
		data, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				s.logger.Info().Msg("rpc server shutting down")
				return nil
			}
			s.send(ctx, t, protocol.NewErrorResponse(nil, protocol.NewParseError(err.Error())))
			continue
		}

		msg, err := protocol.Parse(data)
		if err != nil {
			s.send(ctx, t, protocol.NewErrorResponse(nil, protocol.NewParseError(err.Error())))
			continue
		}

		switch {
		case msg.IsNotification():
			s.handleNotification(msg.Method)
		case msg.IsRequest():
			req := msg.ToRequest()
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.send(ctx, t, s.handleRequest(ctx, req))
			}()
		default:
			s.send(ctx, t, protocol.NewErrorResponse(msg.ID, protocol.NewInvalidRequestError("expected a request or notification")))
		}
	}
}

func (s *Server) send(ctx context.Context, t transport.Transport, resp *protocol.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("encoding rpc response failed")
		return
	}
	if err := t.Send(ctx, data); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("sending rpc response failed")
	}
}

func (s *Server) handleNotification(method string) {
	switch method {
	case protocol.MethodInitialized, protocol.MethodCancelled:
		// Acknowledged; nothing to do.
	default:
		s.logger.Debug().Str("method", method).Msg("ignoring unknown notification")
	}
}

func (s *Server) handleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.Method != protocol.MethodInitialize && !s.isInitialized() {
		return protocol.NewErrorResponse(req.ID, protocol.NewNotInitializedError())
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case protocol.MethodInitialize:
		result, err = s.handleInitialize(ctx, req.Params)
	case protocol.MethodToolsList:
		result, err = s.handleToolsList()
	case protocol.MethodToolsCall:
		result, err = s.handleToolsCall(ctx, req.Params)
	case protocol.MethodPing:
		result = struct{}{}
	default:
		return protocol.NewErrorResponse(req.ID, protocol.NewMethodNotFoundError(req.Method))
	}

	if err != nil {
		var rpcErr *protocol.RPCError
		if errors.As(err, &rpcErr) {
			return protocol.NewErrorResponse(req.ID, rpcErr)
		}
		return protocol.NewErrorResponse(req.ID, protocol.NewInternalError(err.Error()))
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, protocol.NewInternalError(err.Error()))
	}
	return resp
}

func (s *Server) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry != nil
}

// handleInitialize performs the heavy one-time construction with
// single-flight semantics: the first caller runs the bootstrap, concurrent
// callers await the same outcome.
func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, protocol.NewInvalidParamsError(err.Error())
		}
	}
	if initParams.ProtocolVersion != "" && initParams.ProtocolVersion != protocol.ProtocolVersion {
		return nil, protocol.NewInvalidParamsError(
			fmt.Sprintf("unsupported protocol version %q, expected %q",
				initParams.ProtocolVersion, protocol.ProtocolVersion))
	}

	s.mu.Lock()
	done := s.initDone
	if done == nil {
		done = make(chan struct{})
		s.initDone = done
		s.mu.Unlock()

		registry, err := s.bootstrap(ctx)

		s.mu.Lock()
		if err != nil {
			s.initErr = err
			s.initDone = nil // allow a retry after a failed bootstrap
		} else {
			s.registry = registry
			s.initErr = nil
		}
		s.mu.Unlock()
		close(done)
	} else {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
	}

	s.mu.Lock()
	err := s.initErr
	initialized := s.registry != nil
	s.mu.Unlock()

	if !initialized {
		if err == nil {
			err = errors.New("bootstrap produced no registry")
		}
		return nil, protocol.NewInternalError("initialization failed: " + err.Error())
	}

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    protocol.Capabilities{Tools: &protocol.ToolsCapability{}},
		ServerInfo:      protocol.PeerInfo{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleToolsList() (any, error) {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()

	list := registry.List()
	out := make([]protocol.Tool, 0, len(list))
	for _, tool := range list {
		schema, err := json.Marshal(tool.Parameters())
		if err != nil {
			return nil, fmt.Errorf("marshal schema of %s: %w", tool.Name(), err)
		}
		out = append(out, protocol.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schema,
		})
	}
	return protocol.ListToolsResult{Tools: out}, nil
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var callParams protocol.CallToolParams
	if err := json.Unmarshal(params, &callParams); err != nil {
		return nil, protocol.NewInvalidParamsError(err.Error())
	}
	if callParams.Name == "" {
		return nil, protocol.NewInvalidParamsError("tool name is required")
	}

	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()

	tool, ok := registry.Get(callParams.Name)
	if !ok {
		return nil, protocol.NewToolNotFoundError(callParams.Name)
	}

	result, err := tool.Execute(ctx, callParams.Arguments)
	if err != nil {
		return nil, protocol.FromError(callParams.Name, err)
	}

	return protocol.CallToolResult{
		Content: []protocol.Content{protocol.NewTextContent(result.Content)},
		IsError: result.IsError,
	}, nil
}
