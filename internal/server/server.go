// Package server exposes a tools.Registry as a line-delimited JSON-RPC 2.0
// tool server, one request or notification per line.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"agentledger/internal/ledger"
	"agentledger/internal/tools"
)

const (
	ProtocolVersion = "2024-11-05"

	maxLineBytes = 16 * 1024 * 1024
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Approver decides whether a tool call that asked for approval may run.
type Approver func(ctx context.Context, req tools.ApprovalRequest) bool

type Options struct {
	Name    string
	Version string
	// Approver is consulted for approval-aware tools; nil approves everything.
	Approver Approver
	Logger   *zerolog.Logger
}

type Server struct {
	reg  *tools.Registry
	opts Options
	log  zerolog.Logger
}

func New(reg *tools.Registry, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "agentledger"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{reg: reg, opts: opts, log: log.Logger}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	return s
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the tools/call result payload.
type CallResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError"`
}

var nullID = json.RawMessage("null")

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is cancelled. Requests are handled in arrival order. A
// read blocked on r is not interrupted by cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	out := make(chan response, 16)

	g.Go(func() error {
		defer close(out)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			resp, ok := s.handleLine(gctx, []byte(line))
			if !ok {
				continue
			}
			select {
			case out <- resp:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read request: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		enc := json.NewEncoder(w)
		for {
			select {
			case resp, ok := <-out:
				if !ok {
					return nil
				}
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// handleLine processes one raw request. ok is false for notifications,
// which get no response.
func (s *Server) handleLine(ctx context.Context, line []byte) (response, bool) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.log.Warn().Err(err).Msg("unparseable request")
		return errorResponse(nullID, CodeParseError, "parse error: "+err.Error()), true
	}
	notification := len(req.ID) == 0
	if req.Method == "" {
		if notification {
			return response{}, false
		}
		return errorResponse(req.ID, CodeInvalidRequest, "missing method"), true
	}

	result, rerr := s.dispatch(ctx, req)
	if notification {
		return response{}, false
	}
	if rerr != nil {
		return errorResponse(req.ID, rerr.Code, rerr.Message), true
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: result}, true
}

func (s *Server) dispatch(ctx context.Context, req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": s.opts.Name, "version": s.opts.Version},
		}, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return map[string]any{"tools": s.reg.Definitions()}, nil
	case "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				return nil, &rpcError{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
			}
		}
		if strings.TrimSpace(p.Name) == "" {
			return nil, &rpcError{Code: CodeInvalidParams, Message: "missing tool name"}
		}
		return s.Call(ctx, p.Name, p.Arguments), nil
	default:
		if strings.HasPrefix(req.Method, "notifications/") {
			return map[string]any{}, nil
		}
		return nil, &rpcError{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

// Call runs one tool and wraps its output or error as a CallResult.
func (s *Server) Call(ctx context.Context, name string, args json.RawMessage) CallResult {
	start := time.Now()
	logger := s.log.With().Str("tool", name).Logger()

	if s.opts.Approver != nil && s.reg.Has(name) {
		approval, err := s.reg.ApprovalRequest(name, args)
		if err != nil {
			return errorResult(err)
		}
		if approval != nil && !s.opts.Approver(ctx, *approval) {
			logger.Info().Str("reason", approval.Reason).Msg("tool call denied")
			return errorResult(&ledger.Error{Kind: ledger.KindState, Op: name, Message: "denied: " + approval.Reason})
		}
	}

	text, err := s.reg.Execute(ctx, name, args)
	if err != nil {
		logger.Debug().Err(err).Dur("took", time.Since(start)).Msg("tool call failed")
		return errorResult(err)
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("tool call")
	return CallResult{Content: []content{{Type: "text", Text: text}}}
}

func errorResult(err error) CallResult {
	return CallResult{Content: []content{{Type: "text", Text: tools.ErrorJSON(err)}}, IsError: true}
}

func errorResponse(id json.RawMessage, code int, msg string) response {
	if len(id) == 0 {
		id = nullID
	}
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
