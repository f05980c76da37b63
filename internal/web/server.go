package web

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, deps Deps) (*Server, error) {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, errors.Wrap(err, "web: static files")
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(deps, subFS),
	}, nil
}

// Router returns an http.Handler with all routes registered.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/config", h.HandleConfig).Methods(http.MethodGet)
	api.HandleFunc("/config", h.HandleUpdateConfig).Methods(http.MethodPost)
	api.HandleFunc("/connect", h.HandleConnect).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", h.HandleDisconnect).Methods(http.MethodPost)
	api.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/align", h.HandleAlignState).Methods(http.MethodGet)
	api.HandleFunc("/align/start", h.HandleAlignStart).Methods(http.MethodPost)
	api.HandleFunc("/align/stop", h.HandleAlignStop).Methods(http.MethodPost)
	api.HandleFunc("/slew", h.HandleSlew).Methods(http.MethodPost)
	api.HandleFunc("/slew-rate", h.HandleSlewRate).Methods(http.MethodPost)
	api.HandleFunc("/move-az", h.HandleMoveAzimuth).Methods(http.MethodPost)
	api.HandleFunc("/move-alt", h.HandleMoveAltitude).Methods(http.MethodPost)
	api.HandleFunc("/tracking", h.HandleTracking).Methods(http.MethodPost)
	api.HandleFunc("/home", h.HandleHome).Methods(http.MethodPost)
	api.HandleFunc("/capture", h.HandleCapture).Methods(http.MethodPost)
	api.HandleFunc("/solve", h.HandleSolve).Methods(http.MethodPost)

	r.HandleFunc("/status/stream", h.HandleStatusStream).Methods(http.MethodGet)
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.HandleFunc("/", h.ServeIndex).Methods(http.MethodGet)

	return r
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Alignment runs started over HTTP are bound to ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.runCtx = ctx
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "web server")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
