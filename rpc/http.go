package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"microbounty/core/state"
	"microbounty/native/bounty"
	"microbounty/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeBountyInvalidParams = -32021
	codeBountyNotFound      = -32022
	codeBountyForbidden     = -32023
	codeBountyConflict      = -32024
	codeBountyInternal      = -32025
)

type Server struct {
	engine    *bounty.Engine
	manager   *state.Manager
	authToken string
	logger    *slog.Logger
	metrics   *observability.BountyMetrics
}

func NewServer(engine *bounty.Engine, manager *state.Manager, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("MICROBOUNTY_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		manager:   manager,
		authToken: token,
		logger:    logger,
		metrics:   observability.Bounty(),
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler exposes the RPC entry point for mounting on an external router.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	started := time.Now()
	defer func() {
		s.metrics.ObserveLatency(req.Method, time.Since(started).Seconds())
	}()

	switch req.Method {
	case "bounty_create":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBountyCreate(w, r, req)
	case "bounty_submitWork":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBountySubmitWork(w, r, req)
	case "bounty_approve":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBountyApprove(w, r, req)
	case "bounty_cancel":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleBountyCancel(w, r, req)
	case "token_approve":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleTokenApprove(w, r, req)
	case "bounty_get":
		s.handleBountyGet(w, r, req)
	case "bounty_list":
		s.handleBountyList(w, r, req)
	case "bounty_count":
		s.handleBountyCount(w, r, req)
	case "bounty_platformStats":
		s.handleBountyPlatformStats(w, r, req)
	case "bounty_participantStats":
		s.handleBountyParticipantStats(w, r, req)
	case "bounty_supportedTokens":
		s.handleBountySupportedTokens(w, r, req)
	case "bounty_isTokenSupported":
		s.handleBountyIsTokenSupported(w, r, req)
	case "account_get":
		s.handleAccountGet(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// writeBountyError maps engine errors to JSON-RPC error codes using the
// engine's error classification.
func (s *Server) writeBountyError(w http.ResponseWriter, id interface{}, method string, err error) {
	kind := bounty.Kind(err)
	s.metrics.ObserveRejection(method, kind.String())

	status := http.StatusBadRequest
	code := codeBountyInvalidParams
	switch kind {
	case bounty.KindNotFound:
		status, code = http.StatusNotFound, codeBountyNotFound
	case bounty.KindAuthorization:
		status, code = http.StatusForbidden, codeBountyForbidden
	case bounty.KindState:
		status, code = http.StatusConflict, codeBountyConflict
	case bounty.KindValidation, bounty.KindValueMismatch:
		status, code = http.StatusBadRequest, codeBountyInvalidParams
	case bounty.KindTransfer:
		status, code = http.StatusUnprocessableEntity, codeBountyConflict
	default:
		status, code = http.StatusInternalServerError, codeBountyInternal
	}
	writeError(w, status, id, code, kind.String(), err.Error())
}
