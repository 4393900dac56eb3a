// Package health serves connection status and metrics over HTTP.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"skstream/internal/ingest"
)

// Report is the /healthz body.
type Report struct {
	State          string          `json:"state"`
	Health         string          `json:"health"`
	SessionID      string          `json:"sessionId,omitempty"`
	LastFrameAgeMs *int64          `json:"lastFrameAgeMs,omitempty"`
	LinkAttempt    uint32          `json:"linkAttempt"`
	AppAttempt     uint32          `json:"appAttempt"`
	LinkRetryMs    int64           `json:"linkRetryMs"`
	AppRetryMs     int64           `json:"appRetryMs"`
	Monitors       map[string]bool `json:"monitors"`
	// MonitorAgeMs holds the time since each monitored value last changed.
	MonitorAgeMs map[string]int64 `json:"monitorAgeMs"`
	Unconfirmed  []string         `json:"unconfirmed"`
}

// NewReport renders a status snapshot.
func NewReport(st ingest.Status, now time.Time) Report {
	r := Report{
		State:        st.State.String(),
		Health:       st.Health.String(),
		SessionID:    st.SessionID,
		LinkAttempt:  st.LinkAttempt,
		AppAttempt:   st.AppAttempt,
		LinkRetryMs:  st.LinkRetry.Milliseconds(),
		AppRetryMs:   st.AppRetry.Milliseconds(),
		Monitors:     make(map[string]bool, len(st.Signals)),
		MonitorAgeMs: make(map[string]int64, len(st.Signals)),
		Unconfirmed:  st.Unconfirmed,
	}
	if r.Unconfirmed == nil {
		r.Unconfirmed = []string{}
	}
	if !st.LastFrame.IsZero() {
		age := now.Sub(st.LastFrame).Milliseconds()
		r.LastFrameAgeMs = &age
	}
	for _, s := range st.Signals {
		r.Monitors[s.Path] = s.Fresh
		if !s.LastChange.IsZero() {
			r.MonitorAgeMs[s.Path] = now.Sub(s.LastChange).Milliseconds()
		}
	}
	return r
}

// NewRouter mounts /healthz and, when gatherer is set, /metrics.
func NewRouter(src ingest.StatusSource, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		st := src.Snapshot()
		body, err := sonic.ConfigDefault.Marshal(NewReport(st, time.Now()))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		code := http.StatusOK
		if st.State != ingest.StateOpen {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(body)
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	return r
}

// Server runs the health router until its context ends.
type Server struct {
	srv *http.Server
}

// NewServer listens on addr once Run is called.
func NewServer(addr string, h http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logs.Infof("health endpoint listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return ctx.Err()
}
