package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"motioncore/standalone"
	"motioncore/standalone/config"
)

func newTestServer(t *testing.T) (*Server, *standalone.Manager) {
	t.Helper()
	mgr, err := standalone.NewManagerWithConfig(config.DefaultCartesianConfig())
	if err != nil {
		t.Fatalf("NewManagerWithConfig: %v", err)
	}
	if err := mgr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return NewServer(mgr), mgr
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rr, req)
	return rr
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	var st standalone.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decoding status: %v", err)
	}
	if st.SpeedFactor != 1.0 {
		t.Errorf("fresh machine speed factor should be 1.0, got %g", st.SpeedFactor)
	}
	if st.HomedAxes != "" {
		t.Errorf("fresh machine must report nothing homed, got %q", st.HomedAxes)
	}
}

func TestGCodeEndpoint(t *testing.T) {
	srv, mgr := newTestServer(t)
	rr := doRequest(t, srv, http.MethodPost, "/gcode", `{"script":"G28\nG1 X15 F3000"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d: %s", rr.Code, rr.Body.String())
	}
	mgr.Toolhead().FlushStepGeneration()
	if pos := mgr.Position(); pos[0] != 15 {
		t.Errorf("expected X=15 after scripted move, got %v", pos)
	}

	// A bad command surfaces as a client error.
	rr = doRequest(t, srv, http.MethodPost, "/gcode", `{"script":"G20"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("G20 should produce a 400, got %d", rr.Code)
	}
}

func TestAxisEndpoints(t *testing.T) {
	srv, mgr := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/axis/x/home", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("home failed: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(mgr.Status().HomedAxes, "X") {
		t.Fatal("X should be homed via the HTTP surface")
	}

	rr = doRequest(t, srv, http.MethodPost, "/axis/x/pos", `{"f64": 25}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("move failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/axis/x/pos", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get pos failed: %d", rr.Code)
	}
	var payload map[string]float64
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decoding position: %v", err)
	}
	if payload["pos"] != 25 {
		t.Errorf("expected X=25, got %v", payload)
	}

	rr = doRequest(t, srv, http.MethodGet, "/axis/q/pos", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown axis should 400, got %d", rr.Code)
	}
}

func TestGCodeReportOutput(t *testing.T) {
	srv, _ := newTestServer(t)
	rr := doRequest(t, srv, http.MethodPost, "/gcode", `{"script":"M114"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("M114 failed: %d", rr.Code)
	}
	var resp struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if !strings.Contains(resp.Output, "X:0.000") {
		t.Errorf("unexpected M114 output: %q", resp.Output)
	}
}
