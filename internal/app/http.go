package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/utils"
)

// DebugServer serves metrics and read-only views of the merged state on
// the configured debug address. Local tooling only, never user-facing.
type DebugServer struct {
	srv *http.Server
}

func (a *App) NewDebugServer() *DebugServer {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/debug/messages", a.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/debug/timeline", a.handleTimeline).Methods(http.MethodGet)
	r.HandleFunc("/debug/calls", a.handleCalls).Methods(http.MethodGet)
	r.HandleFunc("/debug/blocks", a.handleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return &DebugServer{srv: &http.Server{
		Addr:         a.cfg.Debug.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}}
}

// Start serves until Shutdown. It blocks; run it in a goroutine.
func (s *DebugServer) Start() error {
	logger.Info("debug_server_listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *DebugServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, a.conv.Messages())
}

func (a *App) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("conversation")
	_ = utils.JSONWrite(w, http.StatusOK, a.tl.Events(filter))
}

func (a *App) handleCalls(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, a.snaps.Calls())
}

func (a *App) handleBlocks(w http.ResponseWriter, r *http.Request) {
	_ = utils.JSONWrite(w, http.StatusOK, a.snaps.Blocks())
}
