// Package httpapi exposes the motion core over HTTP: per-axis position
// endpoints in the generichttp/motion shape, a raw G-code submission
// endpoint, the polled status document, and a websocket hub that pushes
// status updates to subscribers the way a Moonraker client expects
// notify_status_update pushes.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	"motioncore/standalone"
)

// Server routes HTTP requests onto a standalone.Manager.
type Server struct {
	mgr *standalone.Manager
	hub *StatusHub
}

func NewServer(mgr *standalone.Manager) *Server {
	return &Server{mgr: mgr, hub: NewStatusHub(mgr)}
}

// Hub returns the websocket status hub, so the owner can run its
// broadcast loop.
func (s *Server) Hub() *StatusHub { return s.hub }

// Routes builds the chi router: axis position get/set, homing, status,
// raw G-code, and the websocket upgrade.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", s.getStatus)
	r.Post("/gcode", s.postGCode)
	r.Get("/axis/{axis}/pos", s.getPos)
	r.Post("/axis/{axis}/pos", s.setPos)
	r.Post("/axis/{axis}/home", s.home)
	r.Get("/ws", s.hub.Upgrade)
	return r
}

// Run serves the API on addr until ctx is cancelled, running the status
// broadcast loop alongside.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	srv := &http.Server{Addr: addr, Handler: s.Routes()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return srv.ListenAndServe()
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.mgr.Status())
}

type gcodeRequest struct {
	Script string `json:"script"`
}

type gcodeResponse struct {
	Output string `json:"output"`
}

func (s *Server) postGCode(w http.ResponseWriter, r *http.Request) {
	var req gcodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var out []string
	for _, line := range strings.Split(req.Script, "\n") {
		reply, err := s.mgr.ProcessLine(strings.TrimSpace(line))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if reply != "" {
			out = append(out, reply)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(gcodeResponse{Output: strings.Join(out, "\n")})
}

func (s *Server) axisIndex(r *http.Request) (byte, int, error) {
	axis := strings.ToUpper(chi.URLParam(r, "axis"))
	if len(axis) != 1 {
		return 0, 0, fmt.Errorf("invalid axis %q", axis)
	}
	letter := axis[0]
	idx, ok := s.mgr.AxisMap()[letter]
	if !ok {
		return 0, 0, fmt.Errorf("axis %q not configured", axis)
	}
	return letter, idx, nil
}

func (s *Server) getPos(w http.ResponseWriter, r *http.Request) {
	_, idx, err := s.axisIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"pos": s.mgr.Position()[idx]})
}

type floatPayload struct {
	F64 float64 `json:"f64"`
}

// setPos issues an absolute (or, with ?relative=true, relative) single
// axis move through the G-code frontend, so offsets and coordinate modes
// apply exactly as they would to a typed command.
func (s *Server) setPos(w http.ResponseWriter, r *http.Request) {
	letter, _, err := s.axisIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	relative := false
	if q := r.URL.Query().Get("relative"); q != "" {
		relative, err = strconv.ParseBool(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	var f floatPayload
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	lines := []string{fmt.Sprintf("G1 %c%g", letter, f.F64)}
	if relative {
		lines = []string{"G91", lines[0], "G90"}
	}
	for _, line := range lines {
		if _, err := s.mgr.ProcessLine(line); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	letter, _, err := s.axisIndex(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := s.mgr.ProcessLine(fmt.Sprintf("G28 %c0", letter)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
