package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/matrix-core/internal/matrix"
)

// Command request bodies. Each endpoint reads only the fields it
// documents; extra fields are ignored.
type (
	routingRequest struct {
		Output int `json:"output"` // 0 routes the input to every output
		Input  int `json:"input"`
	}

	modeRequest struct {
		Mode string `json:"mode"`
	}

	enableRequest struct {
		Enable bool `json:"enable"`
	}

	codeRequest struct {
		Code int `json:"code"`
	}

	sourceRequest struct {
		Source int `json:"source"`
	}

	edidRequest struct {
		Preset int `json:"preset"`
	}

	copyEDIDRequest struct {
		Input  int `json:"input"`
		Output int `json:"output"`
	}

	cecRequest struct {
		Target  string `json:"target"` // "input" or "output"
		Port    int    `json:"port"`
		Command string `json:"command"`
	}

	nameRequest struct {
		Name string `json:"name"`
	}

	onRequest struct {
		On bool `json:"on"`
	}

	textRequest struct {
		Text string `json:"text"`
	}

	rawRequest struct {
		Raw string `json:"raw"`
	}

	factoryResetRequest struct {
		Confirm string `json:"confirm"`
	}
)

// decodeBody decodes a JSON request body into dst, writing a 400
// response on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

// portParam parses the {port} URL parameter.
func portParam(w http.ResponseWriter, r *http.Request) (matrix.PortID, bool) {
	port, err := strconv.Atoi(chi.URLParam(r, "port"))
	if err != nil {
		writeBadRequest(w, "port must be an integer")
		return 0, false
	}
	return matrix.PortID(port), true
}

// slotParam parses the {slot} URL parameter.
func slotParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		writeBadRequest(w, "slot must be an integer")
		return 0, false
	}
	return slot, true
}

// execute submits a command and waits for the device to confirm it,
// translating the outcome into an HTTP response. A 200 means the
// matrix accepted the command; the response carries the post-command
// state snapshot so callers need no follow-up read.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, future *matrix.Future, err error) {
	if err != nil {
		switch {
		case errors.Is(err, matrix.ErrInvalidArgument):
			writeBadRequest(w, err.Error())
		case errors.Is(err, matrix.ErrNotConnected):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "matrix is not connected")
		case errors.Is(err, matrix.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command queue is full")
		default:
			writeInternalError(w, err.Error())
		}
		return
	}

	if err := future.Await(r.Context()); err != nil {
		switch {
		case errors.Is(err, matrix.ErrCommandTimeout), errors.Is(err, matrix.ErrReadTimeout):
			writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "matrix did not confirm the command")
		default:
			writeError(w, http.StatusBadGateway, ErrCodeCommand, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.session.Snapshot().View(),
	})
}

// handleSetRouting routes an input to an output (output 0 = all).
func (s *Server) handleSetRouting(w http.ResponseWriter, r *http.Request) {
	var req routingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetRouting(matrix.PortID(req.Output), matrix.PortID(req.Input))
	s.execute(w, r, future, err)
}

func (s *Server) handleSavePreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	future, err := s.session.SavePreset(slot)
	s.execute(w, r, future, err)
}

func (s *Server) handleRecallPreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	future, err := s.session.RecallPreset(slot)
	s.execute(w, r, future, err)
}

func (s *Server) handleClearPreset(w http.ResponseWriter, r *http.Request) {
	slot, ok := slotParam(w, r)
	if !ok {
		return
	}
	future, err := s.session.ClearPreset(slot)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetHDCP(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputHDCP(port, matrix.HDCPMode(req.Mode))
	s.execute(w, r, future, err)
}

func (s *Server) handleSetScaler(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputScaler(port, matrix.ScalerMode(req.Mode))
	s.execute(w, r, future, err)
}

func (s *Server) handleSetHDR(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req modeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputHDR(port, matrix.HDRMode(req.Mode))
	s.execute(w, r, future, err)
}

func (s *Server) handleSetStream(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req enableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputStream(port, req.Enable)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetARC(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req enableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputARC(port, req.Enable)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetExtAudio(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req enableRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputExtAudio(port, req.Enable)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetAudioSource(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req sourceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputAudioSource(port, matrix.AudioSource(req.Source))
	s.execute(w, r, future, err)
}

func (s *Server) handleSetAudioMode(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetAudioMode(matrix.AudioMode(req.Code))
	s.execute(w, r, future, err)
}

func (s *Server) handleSetEDID(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req edidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetInputEDID(port, matrix.EDIDPreset(req.Preset))
	s.execute(w, r, future, err)
}

func (s *Server) handleCopyEDID(w http.ResponseWriter, r *http.Request) {
	var req copyEDIDRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.CopyEDID(matrix.PortID(req.Input), matrix.PortID(req.Output))
	s.execute(w, r, future, err)
}

func (s *Server) handleSendCEC(w http.ResponseWriter, r *http.Request) {
	var req cecRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SendCEC(req.Target == "output", matrix.PortID(req.Port), req.Command)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetInputName(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetInputName(port, req.Name)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetOutputName(w http.ResponseWriter, r *http.Request) {
	port, ok := portParam(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetOutputName(port, req.Name)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetPower(w http.ResponseWriter, r *http.Request) {
	var req onRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetPower(req.On)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetBeep(w http.ResponseWriter, r *http.Request) {
	var req onRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetBeep(req.On)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetPanelLock(w http.ResponseWriter, r *http.Request) {
	var req onRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetPanelLock(req.On)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetLogo(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetLogo(req.Text)
	s.execute(w, r, future, err)
}

func (s *Server) handleSetLCDTimeout(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	future, err := s.session.SetLCDTimeout(matrix.LCDTimeout(req.Code))
	s.execute(w, r, future, err)
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	future, err := s.session.Reboot()
	s.execute(w, r, future, err)
}

// handleFactoryReset restores the matrix to factory defaults.
//
// This is destructive: routing, presets, EDIDs, and names are all
// wiped on the device, so the request must include an exact
// confirmation string as a safety guard.
func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	var req factoryResetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Confirm != "FACTORY RESET" {
		writeBadRequest(w, `confirm field must be exactly "FACTORY RESET"`)
		return
	}
	future, err := s.session.FactoryReset()
	s.execute(w, r, future, err)
}

// handleSendRaw forwards an arbitrary command line to the matrix.
// Escape hatch for firmware commands not covered by typed endpoints.
func (s *Server) handleSendRaw(w http.ResponseWriter, r *http.Request) {
	var req rawRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Raw == "" {
		writeBadRequest(w, "raw command is required")
		return
	}
	future, err := s.session.SendRaw(req.Raw)
	s.execute(w, r, future, err)
}
