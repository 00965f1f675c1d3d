package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/emissions-network/submitx/pkg/audit"
	"github.com/emissions-network/submitx/pkg/endpoints"
	"github.com/emissions-network/submitx/pkg/supervisor"
)

// statusResponse is the /statusz payload.
type statusResponse struct {
	Daemon    supervisor.DaemonState `json:"daemon"`
	Endpoints []endpoints.Endpoint   `json:"endpoints"`
	Audit     audit.Stats            `json:"audit"`
}

// SetupServer builds the status/admin HTTP server.
func (a *App) SetupServer() {
	r := mux.NewRouter()

	r.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).Methods("GET")
	r.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Ready as long as at least one endpoint is not down.
		for _, ep := range a.Pool.Snapshot() {
			if ep.Status != endpoints.StatusDown {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})).Methods("GET")

	r.Handle("/statusz", http.HandlerFunc(a.handleStatus)).Methods("GET")

	r.Handle("/pausez", a.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		a.Supervisor().Pause()
		w.WriteHeader(http.StatusOK)
	}))).Methods("POST")
	r.Handle("/resumez", a.requireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		a.Supervisor().Resume()
		w.WriteHeader(http.StatusOK)
	}))).Methods("POST")

	a.Server = &http.Server{Addr: a.Cfg.ListenAddress, Handler: r}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats, err := a.Audit.Stats(audit.Filter{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := statusResponse{
		Daemon:    a.Supervisor().State(),
		Endpoints: a.Pool.Snapshot(),
		Audit:     stats,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
