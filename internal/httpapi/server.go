// Package httpapi exposes the controller's operator-facing HTTP surface
// (A3): health, loop status, device listing, and a per-device management
// toggle. The Server lifecycle (NewServer/Start/Stop) is grounded on
// services/mape/internal/httpapi/server.go; routing is grounded on
// aggregator/internal/api/router.go's gorilla/mux style, the domain-stack
// choice over the plain http.ServeMux the mape server uses.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nickw444/da-automation-nk-sub000/internal/config"
	"github.com/nickw444/da-automation-nk-sub000/internal/device"
	"github.com/nickw444/da-automation-nk-sub000/internal/loadmanager"
)

// Toggler is anything with a management on/off switch. ManagementToggle,
// ClimateControls, and DehumidifierControls all implement it.
type Toggler interface {
	SetManagementEnabled(v bool)
}

// Manager is the subset of DeviceLoadManager the API reads from.
type Manager interface {
	Stats() loadmanager.Snapshot
}

// MetricsHandler is the subset of *metrics.Metrics the API exposes at
// /metrics; kept as an interface here so httpapi doesn't import metrics.
type MetricsHandler interface {
	Handler() http.Handler
}

// Server is the controller's HTTP front door.
type Server struct {
	cfg     *config.AppConfig
	logger  *slog.Logger
	manager Manager
	devices []device.Device
	toggles map[string]Toggler

	http *http.Server
}

// NewServer builds the router and binds it to cfg.HTTPBind. toggles maps a
// device's Name() to the Toggler the POST handler should flip; devices not
// present in the map report a 404 on toggle, even if they exist in devices.
// metricsHandler may be nil, in which case /metrics is not registered.
func NewServer(cfg *config.AppConfig, logger *slog.Logger, manager Manager, devices []device.Device, toggles map[string]Toggler, metricsHandler MetricsHandler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, manager: manager, devices: devices, toggles: toggles}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/devices", s.getDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{name}/management", s.postManagement).Methods(http.MethodPost)
	r.HandleFunc("/config/reload", s.postReload).Methods(http.MethodPost)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler.Handler()).Methods(http.MethodGet)
	}

	s.http = &http.Server{Addr: cfg.HTTPBind, Handler: r}
	return s
}

// Start blocks serving HTTP until the listener is closed.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "bind", s.cfg.HTTPBind)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.manager.Stats())
}

type deviceView struct {
	Name               string `json:"name"`
	Priority           int    `json:"priority"`
	ManagementEnabled  bool   `json:"management_enabled"`
	CurrentConsumption float64 `json:"current_consumption_w"`
	ChangeState        string `json:"change_state"`
}

func changeStateString(cs device.ChangeState) string {
	switch cs.Kind {
	case device.PendingIncrease:
		return "pending_increase"
	case device.PendingDecrease:
		return "pending_decrease"
	case device.InDebounce:
		return "in_debounce"
	default:
		return "none"
	}
}

func (s *Server) getDevices(w http.ResponseWriter, r *http.Request) {
	views := make([]deviceView, 0, len(s.devices))
	for _, d := range s.devices {
		views = append(views, deviceView{
			Name:               d.Name(),
			Priority:           d.Priority(),
			ManagementEnabled:  d.ManagementEnabled(),
			CurrentConsumption: d.CurrentConsumptionW(),
			ChangeState:        changeStateString(d.ChangeState()),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

type managementRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) postManagement(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	toggle, ok := s.toggles[name]
	if !ok {
		http.Error(w, "unknown device: "+name, http.StatusNotFound)
		return
	}
	var req managementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	toggle.SetManagementEnabled(req.Enabled)
	s.logger.Info("device management toggled", "device", name, "enabled", req.Enabled)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) postReload(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.ReloadProperties(); err != nil {
		s.logger.Error("properties reload failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("properties reloaded")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("reloaded"))
}
