// Package server implements the HTTP surface of the ratlocker file repository.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ratlocker/ratlocker/internal/config"
	"github.com/ratlocker/ratlocker/internal/keystore"
	"github.com/ratlocker/ratlocker/internal/metrics"
	"github.com/ratlocker/ratlocker/internal/store"
)

// UploadKeyHeader carries the bearer upload key.
const UploadKeyHeader = "Upload-Key"

// ctxKey is the context key type for request-scoped values.
type ctxKey int

// ownerKey carries the owner of the consumed upload key through the request.
const ownerKey ctxKey = iota

// Server is the HTTP file server. All persistent-state mutation is delegated
// to the file store and the key store; handlers only translate between HTTP
// and the store contracts.
type Server struct {
	cfg     *config.ServerConfig
	files   *store.Store
	keys    *keystore.Store
	metrics *metrics.ServerMetrics
	mux     *http.ServeMux
	httpSrv *http.Server
}

// New creates a server around the given stores and registers all routes.
func New(cfg *config.ServerConfig, files *store.Store, keys *keystore.Store, m *metrics.ServerMetrics) *Server {
	s := &Server{
		cfg:     cfg,
		files:   files,
		keys:    keys,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/files", s.handleFiles)
	s.mux.HandleFunc("/upload", s.withUploadKey(s.handleUpload))
	s.mux.HandleFunc("/download", s.handleDownload)
	s.mux.HandleFunc("/info", s.handleInfo)
	if cfg.MetricsEnabled() {
		s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	if m != nil {
		m.FilesRegistered.Set(float64(files.Count()))
		m.KeysConfigured.Set(float64(keys.Count()))
	}

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.metrics != nil {
		s.metrics.RequestsInFlight.Inc()
		defer s.metrics.RequestsInFlight.Dec()
	}
	s.mux.ServeHTTP(w, r)
}

// Start begins serving on the configured listen address and blocks until
// the server is shut down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	log.Info().Str("listen", s.cfg.Listen).Str("data_dir", s.cfg.DataDir).Msg("file server starting")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// withUploadKey consumes one use of the upload key before the handler runs.
// The consumed use is not refunded if the upload later fails. The method is
// checked first: only an actual upload attempt may spend a use.
func (s *Server) withUploadKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		token := r.Header.Get(UploadKeyHeader)
		owner, err := s.keys.Consume(token)
		if err != nil {
			if errors.Is(err, keystore.ErrUnauthorized) {
				if s.metrics != nil {
					s.metrics.KeyDenials.Inc()
				}
				log.Info().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("upload key rejected")
				s.jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			log.Error().Err(err).Msg("key consumption failed")
			s.jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	}
}

// requireReadKey validates (without consuming) a key supplied via header or
// the "key" query parameter. Used for /info, and for /download when public
// downloads are disabled.
func (s *Server) requireReadKey(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get(UploadKeyHeader)
	if token == "" {
		token = r.URL.Query().Get("key")
	}

	if _, err := s.keys.Authorize(token); err != nil {
		if s.metrics != nil {
			s.metrics.KeyDenials.Inc()
		}
		s.jsonError(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// jsonError writes an error response as JSON.
func (s *Server) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
