package rpcserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"uro-core/chaincfg"
	"uro-core/network"
	"uro-core/wire"
)

// PeerManager is the view of the peer pool the RPC methods need.
type PeerManager interface {
	GetPeerInfo() []network.PeerInfo
	ConnectionCount() int
	AddNode(addr string) error
	DisconnectNode(target string) error
	NodeAddresses(count int) []*wire.AddressRecord
	ChainTip() (chainhash.Hash, error)
}

// Server is the JSON-RPC server of the node.
type Server struct {
	peers  PeerManager
	params *chaincfg.Params
	addr   string
	log    *logrus.Entry
	server *http.Server

	// Rate limiting
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rateLimit rate.Limit
	burst     int
}

// NewServer creates an RPC server on addr. Each client IP may issue
// ratePerSec requests per second.
func NewServer(peers PeerManager, params *chaincfg.Params, addr string, ratePerSec float64, logger *logrus.Logger) *Server {
	burst := int(ratePerSec * 2)
	if burst < 1 {
		burst = 1
	}
	return &Server{
		peers:     peers,
		params:    params,
		addr:      addr,
		log:       logger.WithField("component", "rpcserver"),
		limiters:  make(map[string]*rate.Limiter),
		rateLimit: rate.Limit(ratePerSec),
		burst:     burst,
	}
}

// Handler returns the HTTP handler serving RPC, health and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// RPC methods
	mux.HandleFunc("/", s.handleRequest)

	// Health check
	mux.HandleFunc("/health", s.healthHandler)

	// Metrics
	mux.HandleFunc("/metrics", s.metricsHandler)

	return s.enableCORS(mux)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("RPC server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	timestamp := time.Now().Format(time.RFC3339)
	w.Write([]byte(fmt.Sprintf(`{"status":"ok","timestamp":"%s"}`, timestamp)))
}

// metricsHandler handles metrics requests
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	peerCount := s.peers.ConnectionCount()
	known := len(s.peers.NodeAddresses(0))

	jsonStr := `{"peers":` + strconv.Itoa(peerCount) + `,"addresses":` + strconv.Itoa(known) + `}`
	w.Write([]byte(jsonStr))
}

// Stop stops the RPC server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// enableCORS adds CORS headers to allow browser access.
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow applies the per client rate limit.
func (s *Server) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	s.mu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(s.rateLimit, s.burst)
		s.limiters[host] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

// handleRequest handles JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.allow(r.RemoteAddr) {
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	// Validate content type
	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	// Limit request body size (1MB)
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, nil, codeParseError, "Parse error", nil)
		return
	}

	// Validate JSON-RPC version
	if req.JSONRPC != "2.0" {
		sendError(w, req.ID, codeInvalidRequest, "Invalid JSON-RPC version", nil)
		return
	}

	result, err := s.handleMethod(&req)
	if err != nil {
		var rpcErr *JSONRPCError
		if errors.As(err, &rpcErr) {
			sendError(w, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		sendError(w, req.ID, codeInternalError, err.Error(), nil)
		return
	}

	sendResponse(w, req.ID, result)
}

func (s *Server) handleMethod(req *JSONRPCRequest) (interface{}, error) {
	switch req.Method {
	case "getpeerinfo":
		return s.getPeerInfo(req.Params)
	case "getconnectioncount":
		return s.getConnectionCount(req.Params)
	case "getnetworkinfo":
		return s.getNetworkInfo(req.Params)
	case "getbestblockhash":
		return s.getBestBlockHash(req.Params)
	case "addnode":
		return s.addNode(req.Params)
	case "disconnectnode":
		return s.disconnectNode(req.Params)
	case "getnodeaddresses":
		return s.getNodeAddresses(req.Params)

	default:
		return nil, &JSONRPCError{Code: codeMethodNotFound, Message: "Method not found: " + req.Method}
	}
}

// sendResponse sends a successful JSON-RPC response.
func sendResponse(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// sendError sends an error JSON-RPC response.
func sendError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
