package web

import (
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/cjeanneret/PolarGo/internal/debug"
	"github.com/cjeanneret/PolarGo/internal/hw/camera"
	"github.com/cjeanneret/PolarGo/internal/hw/mount"
	"github.com/cjeanneret/PolarGo/internal/logic/alignment"
	"github.com/cjeanneret/PolarGo/internal/logic/motion"
	"github.com/cjeanneret/PolarGo/internal/solver"
)

const maxBodyBytes = 64 << 10

// Aligner is the alignment session as seen by the API.
type Aligner interface {
	Start(ctx context.Context, targetArcsec float64) error
	Stop()
	Running() bool
	Snapshot() alignment.Snapshot
	Capture(ctx context.Context, exposure time.Duration, gain int) (camera.Image, error)
	Measure(ctx context.Context, img camera.Image, targetArcsec float64) (alignment.Measurement, error)
}

// Controls are the operator's manual mount commands.
type Controls interface {
	StartSlew(d mount.Direction) error
	StopSlew(d mount.Direction) error
	SetSlewRate(r mount.Rate) error
	NudgeAzimuth(arcmin float64) error
	NudgeAltitude(arcmin float64) error
	SetTracking(on bool) error
	Home() error
}

// MountReader answers live status queries.
type MountReader interface {
	Status() (mount.Status, error)
	Position() (ra, dec string, err error)
}

// Connection opens and closes the mount link at runtime.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
}

// Configurer applies changed settings to the alignment session.
type Configurer interface {
	Configure(Settings) error
}

// Settings are the defaults shown by the page (GET /api/config) and
// changed by POST /api/config.
type Settings struct {
	TargetAccuracyArcsec float64 `json:"target_accuracy_arcsec"`
	MaxIterations        int     `json:"max_iterations"`
	ExposureSec          float64 `json:"exposure_s"`
	Gain                 int     `json:"gain"`
	MountTransport       string  `json:"mount_transport"`
	CameraType           string  `json:"camera_type"`
	SolverType           string  `json:"solver_type"`
	LatitudeDeg          float64 `json:"latitude"`
	InvertAzimuth        bool    `json:"invert_azimuth"`
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Aligner     Aligner
	Controls    Controls
	Mount       MountReader
	Connection  Connection
	Configurer  Configurer
	Broadcaster *StatusBroadcaster
	Settings    Settings
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Deps
	staticFS fs.FS
	upgrader websocket.Upgrader

	// runCtx bounds alignment runs started over HTTP; they outlive the request.
	runCtx context.Context

	lastMu    sync.Mutex
	lastImage camera.Image

	settingsMu sync.Mutex
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(deps Deps, staticFS fs.FS) *Handlers {
	if deps.Broadcaster == nil {
		deps.Broadcaster = NewStatusBroadcaster()
	}
	return &Handlers{
		Deps:     deps,
		staticFS: staticFS,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runCtx: context.Background(),
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	MountConnected bool               `json:"mount_connected"`
	MountError     string             `json:"mount_error,omitempty"`
	MountRA        string             `json:"mount_ra,omitempty"`
	MountDec       string             `json:"mount_dec,omitempty"`
	Mount          *mount.Status      `json:"mount,omitempty"`
	Alignment      alignment.Snapshot `json:"alignment"`
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (h *Handlers) settings() Settings {
	h.settingsMu.Lock()
	defer h.settingsMu.Unlock()
	return h.Settings
}

// HandleConfig returns the current defaults as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings())
}

// configRequest lists the settings that can change at runtime. Absent
// fields keep their value. Nothing is written back to the config file.
type configRequest struct {
	TargetAccuracyArcsec *float64 `json:"target_accuracy_arcsec"`
	MaxIterations        *int     `json:"max_iterations"`
	ExposureSec          *float64 `json:"exposure_s"`
	Gain                 *int     `json:"gain"`
	SolverType           *string  `json:"solver_type"`
	LatitudeDeg          *float64 `json:"latitude"`
	InvertAzimuth        *bool    `json:"invert_azimuth"`
}

// HandleUpdateConfig handles POST /api/config. Changes apply from the next run.
func (h *Handlers) HandleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.settingsMu.Lock()
	defer h.settingsMu.Unlock()
	next := h.Settings
	if req.TargetAccuracyArcsec != nil {
		next.TargetAccuracyArcsec = *req.TargetAccuracyArcsec
	}
	if req.MaxIterations != nil {
		next.MaxIterations = *req.MaxIterations
	}
	if req.ExposureSec != nil {
		next.ExposureSec = *req.ExposureSec
	}
	if req.Gain != nil {
		next.Gain = *req.Gain
	}
	if req.SolverType != nil {
		next.SolverType = *req.SolverType
	}
	if req.LatitudeDeg != nil {
		next.LatitudeDeg = *req.LatitudeDeg
	}
	if req.InvertAzimuth != nil {
		next.InvertAzimuth = *req.InvertAzimuth
	}

	t := next.TargetAccuracyArcsec
	if math.IsNaN(t) || math.IsInf(t, 0) || t <= 0 {
		writeFailure(w, errors.Wrapf(alignment.ErrInvalidTarget, "got %v", t))
		return
	}
	if math.IsNaN(next.ExposureSec) || math.IsInf(next.ExposureSec, 0) {
		writeFailure(w, errors.Wrap(alignment.ErrInvalidSettings, "exposure must be a finite number of seconds"))
		return
	}
	if h.Configurer != nil {
		if err := h.Configurer.Configure(next); err != nil {
			writeFailure(w, err)
			return
		}
	}
	h.Settings = next
	debug.Info("Settings updated: target %.1f\", solver %s, latitude %.2f", next.TargetAccuracyArcsec, next.SolverType, next.LatitudeDeg)
	writeJSON(w, http.StatusOK, next)
}

// HandleConnect handles POST /api/connect. Connecting an open link succeeds.
func (h *Handlers) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if h.Aligner.Running() {
		writeFailure(w, alignment.ErrAlreadyRunning)
		return
	}
	if err := h.Connection.Connect(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Connected"})
}

// HandleDisconnect handles POST /api/disconnect. It is refused during a run;
// stop the run first.
func (h *Handlers) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if h.Aligner.Running() {
		writeFailure(w, alignment.ErrAlreadyRunning)
		return
	}
	if err := h.Connection.Disconnect(); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Disconnected"})
}

// HandleStatus queries the mount live and adds the session snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handlers) status() StatusResponse {
	resp := StatusResponse{Alignment: h.Aligner.Snapshot()}
	st, err := h.Mount.Status()
	if err != nil {
		resp.MountError = err.Error()
		return resp
	}
	resp.MountConnected = true
	resp.Mount = &st
	if ra, dec, err := h.Mount.Position(); err == nil {
		resp.MountRA, resp.MountDec = ra, dec
	} else {
		resp.MountError = err.Error()
	}
	return resp
}

type startRequest struct {
	TargetAccuracy *float64 `json:"target_accuracy"`
}

// HandleAlignStart handles POST /api/align/start. The run continues after
// the response; progress arrives on /ws and /status/stream.
func (h *Handlers) HandleAlignStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	target := h.settings().TargetAccuracyArcsec
	if req.TargetAccuracy != nil {
		target = *req.TargetAccuracy
	}
	if err := h.Aligner.Start(h.runCtx, target); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":         true,
		"message":         "Auto-align started",
		"target_accuracy": target,
	})
}

// HandleAlignStop handles POST /api/align/stop. Stopping an idle session succeeds.
func (h *Handlers) HandleAlignStop(w http.ResponseWriter, r *http.Request) {
	h.Aligner.Stop()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Auto-align stopping"})
}

// HandleAlignState returns the session snapshot alone.
func (h *Handlers) HandleAlignState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Aligner.Snapshot())
}

type slewRequest struct {
	Direction string `json:"direction"`
	Action    string `json:"action"`
}

func (h *Handlers) HandleSlew(w http.ResponseWriter, r *http.Request) {
	var req slewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d := mount.Direction(req.Direction)
	var err error
	switch req.Action {
	case "", "start":
		err = h.Controls.StartSlew(d)
	case "stop":
		err = h.Controls.StopSlew(d)
	default:
		writeError(w, http.StatusBadRequest, errors.Errorf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handlers) HandleSlewRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate string `json:"rate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Controls.SetSlewRate(mount.Rate(req.Rate)); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "rate": req.Rate})
}

type moveRequest struct {
	Arcmin float64 `json:"arcmin"`
}

func (h *Handlers) HandleMoveAzimuth(w http.ResponseWriter, r *http.Request) {
	h.handleMove(w, r, h.Controls.NudgeAzimuth)
}

func (h *Handlers) HandleMoveAltitude(w http.ResponseWriter, r *http.Request) {
	h.handleMove(w, r, h.Controls.NudgeAltitude)
}

func (h *Handlers) handleMove(w http.ResponseWriter, r *http.Request, move func(float64) error) {
	var req moveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := move(req.Arcmin); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "arcmin": req.Arcmin})
}

func (h *Handlers) HandleTracking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := h.Controls.SetTracking(enabled); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "tracking": enabled})
}

func (h *Handlers) HandleHome(w http.ResponseWriter, r *http.Request) {
	if err := h.Controls.Home(); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type captureRequest struct {
	ExposureSec float64 `json:"exposure"`
	Gain        int     `json:"gain"`
}

// HandleCapture takes one frame outside the alignment loop.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if math.IsNaN(req.ExposureSec) || req.ExposureSec < 0 || req.Gain < 0 {
		writeError(w, http.StatusBadRequest, errors.New("exposure and gain must not be negative"))
		return
	}
	exposure := time.Duration(req.ExposureSec * float64(time.Second))
	img, err := h.Aligner.Capture(r.Context(), exposure, req.Gain)
	if err != nil {
		writeFailure(w, err)
		return
	}
	h.lastMu.Lock()
	h.lastImage = img
	h.lastMu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "filepath": img.Path})
}

// HandleSolve solves the given file, or the last manual capture, and
// measures the polar error against the mount.
func (h *Handlers) HandleSolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"filepath"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	img := camera.Image{Path: req.Path}
	if img.Path == "" {
		h.lastMu.Lock()
		img = h.lastImage
		h.lastMu.Unlock()
	}
	if img.Path == "" {
		writeError(w, http.StatusBadRequest, errors.New("no captured images found"))
		return
	}
	m, err := h.Aligner.Measure(r.Context(), img, h.settings().TargetAccuracyArcsec)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			w.Write([]byte("data: " + string(data) + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// wsMessage is the websocket envelope: "event" carries an alignment.Event,
// "status" a StatusResponse.
type wsMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// HandleWebSocket streams events and answers {"type":"request_status"}.
// Every write happens on this goroutine; the reader only forwards requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Verbose("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	requests := make(chan struct{}, 1)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var msg struct {
				Type string `json:"type"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "request_status" {
				select {
				case requests <- struct{}{}:
				default:
				}
			}
		}
	}()

	if err := conn.WriteJSON(wsMessage{Type: "connected", Data: h.settings()}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wsMessage{Type: "event", Data: ev}); err != nil {
				return
			}
		case <-requests:
			if err := conn.WriteJSON(wsMessage{Type: "status", Data: h.status()}); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// decodeBody reads a JSON body; an empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.Wrap(err, "invalid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeFailure maps domain errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, alignment.ErrAlreadyRunning), errors.Is(err, motion.ErrAlignmentActive):
		status = http.StatusConflict
	case errors.Is(err, alignment.ErrInvalidTarget),
		errors.Is(err, alignment.ErrInvalidSettings),
		errors.Is(err, solver.ErrUnsupportedSolver),
		errors.Is(err, motion.ErrInvalidNudge),
		errors.Is(err, mount.ErrInvalidDirection),
		errors.Is(err, mount.ErrInvalidRate):
		status = http.StatusBadRequest
	case errors.Is(err, mount.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case mount.IsTransportError(err), errors.Is(err, mount.ErrClosed):
		status = http.StatusBadGateway
	default:
		debug.Error(err)
	}
	writeError(w, status, err)
}
