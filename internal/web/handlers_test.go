package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
	"github.com/cjeanneret/PolarGo/internal/logic/alignment"
	"github.com/cjeanneret/PolarGo/internal/logic/motion"
	"github.com/cjeanneret/PolarGo/internal/solver"
)

type testRig struct {
	sim    *mount.Simulator
	link   *mount.Link
	runner *alignment.Runner
	bcast  *StatusBroadcaster
	srv    *Server
}

// newTestRig wires the real runner and controls over a simulated mount.
// With release set, every capture waits until release is closed.
func newTestRig(t *testing.T, release chan struct{}) *testRig {
	t.Helper()
	sim := mount.NewSimulator(mount.SimulatorOptions{AzimuthErrorArcmin: 18, AltitudeErrorArcmin: -9.5, Efficiency: 0.6})
	link := mount.NewLink(func(ctx context.Context) (*mount.Client, error) {
		sim.Reopen()
		return mount.Connect(ctx, sim, "OpenAstro", 0)
	})
	if err := link.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	bcast := NewStatusBroadcaster()

	var cam alignment.Camera = camera.NewMockCamera(t.TempDir())
	if release != nil {
		cam = gatedCamera{Camera: cam, release: release}
	}
	runner := alignment.NewRunner(alignment.Params{
		Mount:    link,
		Camera:   cam,
		Solver:   solver.NewMockSolver(sim.TruePointing),
		Sink:     bcast,
		Settings: alignment.Settings{MaxIterations: 10, Exposure: time.Second, Gain: 100},
		Timing: alignment.Timing{
			RetryPause:   time.Millisecond,
			PostMove:     time.Millisecond,
			PollInterval: time.Millisecond,
			MaxPolls:     5,
			Settle:       time.Millisecond,
		},
	})
	deps := Deps{
		Aligner:     runner,
		Controls:    motion.NewController(link, runner.Running),
		Mount:       link,
		Connection:  link,
		Configurer:  runnerConfigurer{runner},
		Broadcaster: bcast,
		Settings:    Settings{TargetAccuracyArcsec: 60, MaxIterations: 10, ExposureSec: 1, Gain: 100, MountTransport: "mock", SolverType: "mock"},
	}
	srv := &Server{
		addr: "127.0.0.1:0",
		handlers: NewHandlers(deps, fstest.MapFS{
			"index.html": &fstest.MapFile{Data: []byte("<html><body>PolarGo</body></html>")},
		}),
	}
	t.Cleanup(func() {
		runner.Stop()
		if release != nil {
			select {
			case <-release:
			default:
				close(release)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Wait(ctx)
	})
	return &testRig{sim: sim, link: link, runner: runner, bcast: bcast, srv: srv}
}

// runnerConfigurer pushes settings into the runner; only the mock solver exists here.
type runnerConfigurer struct {
	r *alignment.Runner
}

func (c runnerConfigurer) Configure(s Settings) error {
	if s.SolverType != "mock" {
		return fmt.Errorf("%w: %q", solver.ErrUnsupportedSolver, s.SolverType)
	}
	return c.r.UpdateSettings(alignment.Settings{
		Exposure:      time.Duration(s.ExposureSec * float64(time.Second)),
		Gain:          s.Gain,
		MaxIterations: s.MaxIterations,
		LatitudeDeg:   s.LatitudeDeg,
		InvertAzimuth: s.InvertAzimuth,
	})
}

type gatedCamera struct {
	alignment.Camera
	release chan struct{}
}

func (g gatedCamera) Capture(ctx context.Context, exposure time.Duration, gain int) (camera.Image, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return camera.Image{}, ctx.Err()
	}
	return g.Camera.Capture(ctx, exposure, gain)
}

func (r *testRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.srv.Router().ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

// ---------- manual controls ----------

func TestManualControlRoutes(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		want    int
		command string
	}{
		{"slew start", "/api/slew", `{"direction":"n","action":"start"}`, http.StatusOK, ":Mn#"},
		{"slew stop", "/api/slew", `{"direction":"e","action":"stop"}`, http.StatusOK, ":Qe#"},
		{"slew stop all", "/api/slew", `{"direction":"all","action":"stop"}`, http.StatusOK, ":Q#"},
		{"slew bad direction", "/api/slew", `{"direction":"up"}`, http.StatusBadRequest, ""},
		{"slew bad action", "/api/slew", `{"direction":"n","action":"spin"}`, http.StatusBadRequest, ""},
		{"rate", "/api/slew-rate", `{"rate":"center"}`, http.StatusOK, ":RC#"},
		{"rate unknown", "/api/slew-rate", `{"rate":"M"}`, http.StatusBadRequest, ""},
		{"move az", "/api/move-az", `{"arcmin":2.5}`, http.StatusOK, ":MAZ+2.50#"},
		{"move alt", "/api/move-alt", `{"arcmin":-1}`, http.StatusOK, ":MAL-1.00#"},
		{"tracking default on", "/api/tracking", ``, http.StatusOK, ":MT1#"},
		{"tracking off", "/api/tracking", `{"enabled":false}`, http.StatusOK, ":MT0#"},
		{"home", "/api/home", ``, http.StatusOK, ":MAAH#"},
		{"invalid json", "/api/move-az", `not json`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, nil)
			w := rig.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			cmds := rig.sim.Commands()
			if tt.command == "" {
				if len(cmds) != 0 {
					t.Errorf("rejected request sent %v", cmds)
				}
				return
			}
			if len(cmds) == 0 || cmds[len(cmds)-1] != tt.command {
				t.Errorf("commands = %v, want last %q", cmds, tt.command)
			}
		})
	}
}

func TestManualControlsRejectedWhileAligning(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	if w := rig.do(t, http.MethodPost, "/api/align/start", `{"target_accuracy":60}`); w.Code != http.StatusAccepted {
		t.Fatalf("start status = %d", w.Code)
	}
	w := rig.do(t, http.MethodPost, "/api/move-az", `{"arcmin":1}`)
	if w.Code != http.StatusConflict {
		t.Errorf("move during run: status = %d, want 409", w.Code)
	}
	if w := rig.do(t, http.MethodPost, "/api/slew", `{"direction":"all","action":"stop"}`); w.Code != http.StatusOK {
		t.Errorf("stop slew during run: status = %d, want 200", w.Code)
	}
	if w := rig.do(t, http.MethodPost, "/api/capture", ``); w.Code != http.StatusConflict {
		t.Errorf("manual capture during run: status = %d, want 409", w.Code)
	}
}

// ---------- alignment ----------

func TestAlignStartRunsToCompletion(t *testing.T) {
	rig := newTestRig(t, nil)
	events, unsub := rig.bcast.Subscribe()
	defer unsub()

	w := rig.do(t, http.MethodPost, "/api/align/start", `{"target_accuracy":60}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if resp := decodeMap(t, w); resp["success"] != true {
		t.Errorf("response = %v", resp)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := rig.runner.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Outcome != alignment.OutcomeAligned {
		t.Fatalf("outcome = %s", snap.Outcome)
	}

	sawSuccess := false
	for len(events) > 0 {
		if ev := <-events; ev.Level == alignment.LevelSuccess {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Error("success event never reached the broadcaster")
	}

	w = rig.do(t, http.MethodGet, "/api/align", "")
	var got alignment.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Outcome != alignment.OutcomeAligned || got.LastError == nil {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestAlignStartValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero target", `{"target_accuracy":0}`, http.StatusBadRequest},
		{"negative target", `{"target_accuracy":-10}`, http.StatusBadRequest},
		{"invalid json", `{`, http.StatusBadRequest},
		{"oversized body", `{"target_accuracy":` + strings.Repeat("1", maxBodyBytes) + `}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, nil)
			w := rig.do(t, http.MethodPost, "/api/align/start", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if rig.runner.Running() {
				t.Error("rejected start launched a run")
			}
		})
	}
}

func TestAlignStartDefaultsTarget(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	if w := rig.do(t, http.MethodPost, "/api/align/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d", w.Code)
	}
	if got := rig.runner.Snapshot().TargetAccuracyArcsec; got != 60 {
		t.Errorf("target = %v, want configured 60", got)
	}
}

func TestAlignStartWhileRunning(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	if w := rig.do(t, http.MethodPost, "/api/align/start", `{"target_accuracy":60}`); w.Code != http.StatusAccepted {
		t.Fatalf("first start: %d", w.Code)
	}
	w := rig.do(t, http.MethodPost, "/api/align/start", `{"target_accuracy":30}`)
	if w.Code != http.StatusConflict {
		t.Errorf("second start: status = %d, want 409", w.Code)
	}
	if got := rig.runner.Snapshot().TargetAccuracyArcsec; got != 60 {
		t.Errorf("target changed to %v", got)
	}
}

func TestAlignStop(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	if w := rig.do(t, http.MethodPost, "/api/align/stop", ""); w.Code != http.StatusOK {
		t.Errorf("stop while idle: status = %d", w.Code)
	}

	rig.do(t, http.MethodPost, "/api/align/start", "")
	if w := rig.do(t, http.MethodPost, "/api/align/stop", ""); w.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", w.Code)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := rig.runner.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Outcome != alignment.OutcomeCancelled {
		t.Errorf("outcome = %s, want cancelled", snap.Outcome)
	}
}

// ---------- capture and solve ----------

func TestCaptureThenSolve(t *testing.T) {
	rig := newTestRig(t, nil)

	if w := rig.do(t, http.MethodPost, "/api/solve", ""); w.Code != http.StatusBadRequest {
		t.Errorf("solve without capture: status = %d, want 400", w.Code)
	}

	w := rig.do(t, http.MethodPost, "/api/capture", `{"exposure":0.5,"gain":10}`)
	if w.Code != http.StatusOK {
		t.Fatalf("capture: status = %d (%s)", w.Code, w.Body.String())
	}
	if path, _ := decodeMap(t, w)["filepath"].(string); path == "" {
		t.Error("capture returned no path")
	}

	w = rig.do(t, http.MethodPost, "/api/solve", "")
	if w.Code != http.StatusOK {
		t.Fatalf("solve: status = %d (%s)", w.Code, w.Body.String())
	}
	var m alignment.Measurement
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.Error == nil || m.Error.TotalArcsec < 1000 {
		t.Errorf("measurement = %+v, want the simulator's ~1221\" error", m.Error)
	}
	if m.Aligned {
		t.Error("simulated mount should not be aligned")
	}
}

func TestCaptureRejectsNegativeExposure(t *testing.T) {
	rig := newTestRig(t, nil)
	if w := rig.do(t, http.MethodPost, "/api/capture", `{"exposure":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------- status ----------

func TestStatus(t *testing.T) {
	rig := newTestRig(t, nil)
	w := rig.do(t, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.MountConnected || st.Mount == nil || !st.Mount.Tracking {
		t.Errorf("status = %+v", st)
	}
	if st.MountRA != "02:31:48" || st.MountDec != "+89*15'36" {
		t.Errorf("position = %q %q", st.MountRA, st.MountDec)
	}
	if st.Alignment.State != alignment.StateIdle {
		t.Errorf("alignment state = %s", st.Alignment.State)
	}
}

func TestStatusMountGone(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.sim.FailWrites(errors.New("cable unplugged"))

	w := rig.do(t, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.MountConnected || st.MountError == "" {
		t.Errorf("failed mount reported as %+v", st)
	}

	if w := rig.do(t, http.MethodPost, "/api/home", ""); w.Code != http.StatusBadGateway {
		t.Errorf("command on failed mount: status = %d, want 502", w.Code)
	}
}

// ---------- connection ----------

func TestDisconnectThenReconnect(t *testing.T) {
	rig := newTestRig(t, nil)

	if w := rig.do(t, http.MethodPost, "/api/disconnect", ""); w.Code != http.StatusOK {
		t.Fatalf("disconnect: status = %d (%s)", w.Code, w.Body.String())
	}
	var st StatusResponse
	if err := json.NewDecoder(rig.do(t, http.MethodGet, "/api/status", "").Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.MountConnected {
		t.Error("status still reports the mount connected")
	}
	if w := rig.do(t, http.MethodPost, "/api/home", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("command while disconnected: status = %d, want 503", w.Code)
	}
	if w := rig.do(t, http.MethodPost, "/api/align/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d", w.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if snap, _ := rig.runner.Wait(ctx); snap.Outcome != alignment.OutcomeHardwareFault {
		t.Errorf("run without a mount: outcome = %s, want hardware fault", snap.Outcome)
	}

	if w := rig.do(t, http.MethodPost, "/api/connect", ""); w.Code != http.StatusOK {
		t.Fatalf("connect: status = %d (%s)", w.Code, w.Body.String())
	}
	if w := rig.do(t, http.MethodPost, "/api/connect", ""); w.Code != http.StatusOK {
		t.Errorf("second connect: status = %d", w.Code)
	}
	st = StatusResponse{}
	if err := json.NewDecoder(rig.do(t, http.MethodGet, "/api/status", "").Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.MountConnected || st.MountRA == "" {
		t.Errorf("after reconnect: %+v", st)
	}
}

func TestConnectionChangesRejectedWhileAligning(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	if w := rig.do(t, http.MethodPost, "/api/align/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d", w.Code)
	}
	for _, path := range []string{"/api/disconnect", "/api/connect"} {
		if w := rig.do(t, http.MethodPost, path, ""); w.Code != http.StatusConflict {
			t.Errorf("%s during run: status = %d, want 409", path, w.Code)
		}
	}
	if !rig.link.Connected() {
		t.Error("mount disconnected under a running alignment")
	}
}

// ---------- runtime settings ----------

func TestUpdateConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"target and latitude", `{"target_accuracy_arcsec":30,"latitude":46.5}`, http.StatusOK},
		{"empty body keeps values", ``, http.StatusOK},
		{"zero target", `{"target_accuracy_arcsec":0}`, http.StatusBadRequest},
		{"zero iterations", `{"max_iterations":0}`, http.StatusBadRequest},
		{"latitude out of range", `{"latitude":120}`, http.StatusBadRequest},
		{"negative gain", `{"gain":-5}`, http.StatusBadRequest},
		{"unknown solver", `{"solver_type":"pixinsight"}`, http.StatusBadRequest},
		{"invalid json", `{"latitude":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newTestRig(t, nil)
			w := rig.do(t, http.MethodPost, "/api/config", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}

			var got Settings
			if err := json.NewDecoder(rig.do(t, http.MethodGet, "/api/config", "").Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			if tt.want != http.StatusOK {
				if got.TargetAccuracyArcsec != 60 || got.LatitudeDeg != 0 || got.SolverType != "mock" {
					t.Errorf("rejected update changed settings: %+v", got)
				}
				if rig.runner.Settings().MaxIterations != 10 {
					t.Errorf("rejected update reached the runner: %+v", rig.runner.Settings())
				}
			}
		})
	}
}

func TestUpdateConfigFeedsNextRun(t *testing.T) {
	release := make(chan struct{})
	rig := newTestRig(t, release)

	w := rig.do(t, http.MethodPost, "/api/config", `{"target_accuracy_arcsec":30,"latitude":-33.9,"max_iterations":4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d (%s)", w.Code, w.Body.String())
	}
	if s := rig.runner.Settings(); s.LatitudeDeg != -33.9 || s.MaxIterations != 4 {
		t.Errorf("runner settings = %+v", s)
	}
	if w := rig.do(t, http.MethodPost, "/api/align/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("start: status = %d", w.Code)
	}
	snap := rig.runner.Snapshot()
	if snap.TargetAccuracyArcsec != 30 || snap.MaxIterations != 4 {
		t.Errorf("run started with %+v", snap)
	}
}

func TestHandleConfig(t *testing.T) {
	rig := newTestRig(t, nil)
	w := rig.do(t, http.MethodGet, "/api/config", "")
	var s Settings
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TargetAccuracyArcsec != 60 || s.MountTransport != "mock" {
		t.Errorf("settings = %+v", s)
	}
}

func TestServeIndex(t *testing.T) {
	rig := newTestRig(t, nil)
	w := rig.do(t, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "PolarGo") {
		t.Error("body should contain the page")
	}
}

func TestEmbeddedIndexExists(t *testing.T) {
	srv, err := NewServer(":0", Deps{})
	if err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.handlers.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/ws") {
		t.Errorf("embedded page missing: %d", w.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rig := newTestRig(t, nil)
	if w := rig.do(t, http.MethodGet, "/api/align/start", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start: status = %d, want 405", w.Code)
	}
}

// ---------- streams ----------

func TestStatusStream(t *testing.T) {
	rig := newTestRig(t, nil)
	ts := httptest.NewServer(rig.srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	buf := make([]byte, 256)
	if _, err := resp.Body.Read(buf); err != nil {
		t.Fatal(err)
	}
	rig.bcast.Broadcast(alignment.LevelWarning, "Plate solve failed - check framing")

	var got bytes.Buffer
	for !strings.Contains(got.String(), "check framing") {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatalf("read: %v (got %q)", err, got.String())
		}
		got.Write(buf[:n])
	}
	if !strings.Contains(got.String(), `data: {`) || !strings.Contains(got.String(), `"level":"warning"`) {
		t.Errorf("sse frame = %q", got.String())
	}
}

func TestWebSocket(t *testing.T) {
	rig := newTestRig(t, nil)
	ts := httptest.NewServer(rig.srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Type string   `json:"type"`
		Data Settings `json:"data"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "connected" || hello.Data.TargetAccuracyArcsec != 60 {
		t.Errorf("greeting = %+v", hello)
	}

	if err := conn.WriteJSON(map[string]string{"type": "request_status"}); err != nil {
		t.Fatal(err)
	}
	var status struct {
		Type string         `json:"type"`
		Data StatusResponse `json:"data"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Type != "status" || !status.Data.MountConnected {
		t.Errorf("status reply = %+v", status)
	}

	rig.bcast.Broadcast(alignment.LevelSuccess, "Aligned!")
	var event struct {
		Type string          `json:"type"`
		Data alignment.Event `json:"data"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatal(err)
	}
	if event.Type != "event" || event.Data.Message != "Aligned!" {
		t.Errorf("event = %+v", event)
	}
}
