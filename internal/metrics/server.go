package metrics

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omochice/roomchat/internal/session"
)

// StatusFunc returns the current session state.
type StatusFunc func() session.Snapshot

type statusResponse struct {
	ClientID    string `json:"clientId"`
	Status      string `json:"status"`
	DisplayName string `json:"displayName,omitempty"`
	RoomID      int64  `json:"roomId,omitempty"`
	InRoom      bool   `json:"inRoom"`
	RoomCount   int    `json:"roomCount"`
	PeerIP      string `json:"peerIp"`
	FloodCount  int    `json:"floodCount"`
}

// Handler serves /metrics, /healthz and /status.
func Handler(gatherer prometheus.Gatherer, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		s := status()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			ClientID:    s.ClientID,
			Status:      s.Status.String(),
			DisplayName: s.DisplayName,
			RoomID:      s.RoomID,
			InRoom:      s.InRoom,
			RoomCount:   s.RoomCount,
			PeerIP:      s.PeerIP,
			FloodCount:  s.Flood.Count,
		})
	})

	return r
}

// Server serves the debug endpoints in the background.
type Server struct {
	address  string
	handler  http.Handler
	log      *zap.Logger
	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// NewServer creates a Server listening on address once started.
func NewServer(address string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		address: address,
		handler: handler,
		log:     log.Named("metrics"),
		done:    make(chan struct{}),
	}
}

// Start binds the listener and serves in a goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrap(err, "failed to start metrics server")
	}
	s.listener = listener
	s.server = &http.Server{Handler: s.handler}

	s.log.Info("metrics server started", zap.String("addr", listener.Addr().String()))

	go func() {
		defer close(s.done)
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the server and waits for it to exit.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	s.server.Close()
	<-s.done
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
