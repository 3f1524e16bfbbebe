package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/matrix-core/internal/matrix"
)

// ackTimeout bounds how long the bridge waits for a command future
// before acknowledging it as failed. Longer than the queue's own
// worst-case retry window.
const ackTimeout = 30 * time.Second

// Controller is the session surface the bridge drives. *matrix.Session
// satisfies it.
type Controller interface {
	Snapshot() matrix.Snapshot
	Available() bool

	SetRouting(output, input matrix.PortID) (*matrix.Future, error)
	SavePreset(slot int) (*matrix.Future, error)
	RecallPreset(slot int) (*matrix.Future, error)
	ClearPreset(slot int) (*matrix.Future, error)
	SetOutputHDCP(output matrix.PortID, mode matrix.HDCPMode) (*matrix.Future, error)
	SetOutputScaler(output matrix.PortID, mode matrix.ScalerMode) (*matrix.Future, error)
	SetOutputHDR(output matrix.PortID, mode matrix.HDRMode) (*matrix.Future, error)
	SetOutputStream(output matrix.PortID, enable bool) (*matrix.Future, error)
	SetOutputARC(output matrix.PortID, enable bool) (*matrix.Future, error)
	SetOutputExtAudio(output matrix.PortID, enable bool) (*matrix.Future, error)
	SetAudioMode(mode matrix.AudioMode) (*matrix.Future, error)
	SetOutputAudioSource(output matrix.PortID, source matrix.AudioSource) (*matrix.Future, error)
	SetInputEDID(input matrix.PortID, preset matrix.EDIDPreset) (*matrix.Future, error)
	CopyEDID(input, output matrix.PortID) (*matrix.Future, error)
	SendCEC(targetOutput bool, port matrix.PortID, token string) (*matrix.Future, error)
	SetInputName(input matrix.PortID, name string) (*matrix.Future, error)
	SetOutputName(output matrix.PortID, name string) (*matrix.Future, error)
	SetPower(on bool) (*matrix.Future, error)
	SetBeep(on bool) (*matrix.Future, error)
	SetPanelLock(on bool) (*matrix.Future, error)
	SetLogo(text string) (*matrix.Future, error)
	SetLCDTimeout(t matrix.LCDTimeout) (*matrix.Future, error)
	Reboot() (*matrix.Future, error)
	FactoryReset() (*matrix.Future, error)
	SendRaw(wire string) (*matrix.Future, error)
}

// commandEnvelope is the JSON document consumers publish to the
// command topic.
type commandEnvelope struct {
	ID     string          `json:"id"`
	Op     string          `json:"op"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ack is the JSON document published to the per-command ack topic.
type ack struct {
	ID      string `json:"id"`
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// commandParams covers every op's parameters; only the relevant fields
// are read per op.
type commandParams struct {
	Output  int    `json:"output"`
	Input   int    `json:"input"`
	Slot    int    `json:"slot"`
	Mode    string `json:"mode"`
	Code    int    `json:"code"`
	Enable  bool   `json:"enable"`
	Source  int    `json:"source"`
	Preset  int    `json:"preset"`
	Target  string `json:"target"` // "input" or "output"
	Port    int    `json:"port"`
	Command string `json:"command"`
	Name    string `json:"name"`
	Text    string `json:"text"`
	On      bool   `json:"on"`
	Raw     string `json:"raw"`
}

// handleCommand decodes one command envelope, dispatches it, and
// acknowledges the outcome asynchronously.
func (b *Bridge) handleCommand(_ string, payload []byte) error {
	var env commandEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logWarn("dropping malformed command payload", "error", err)
		return nil // not redeliverable; do not fail the subscription
	}
	if env.ID == "" || env.Op == "" {
		b.logWarn("dropping command without id or op")
		return nil
	}

	var params commandParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			b.publishAck(ack{ID: env.ID, Op: env.Op, Error: fmt.Sprintf("bad params: %v", err)})
			return nil
		}
	}

	future, err := b.dispatch(env.Op, params)
	if err != nil {
		b.publishAck(ack{ID: env.ID, Op: env.Op, Error: err.Error()})
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		result := ack{ID: env.ID, Op: env.Op, Success: true}
		if err := future.Await(ctx); err != nil {
			result.Success = false
			result.Error = err.Error()
		}
		b.publishAck(result)
	}()
	return nil
}

// dispatch maps an op name onto the session's command surface.
func (b *Bridge) dispatch(op string, p commandParams) (*matrix.Future, error) {
	switch op {
	case "route":
		return b.session.SetRouting(matrix.PortID(p.Output), matrix.PortID(p.Input))
	case "route_all":
		return b.session.SetRouting(0, matrix.PortID(p.Input))
	case "save_preset":
		return b.session.SavePreset(p.Slot)
	case "recall_preset":
		return b.session.RecallPreset(p.Slot)
	case "clear_preset":
		return b.session.ClearPreset(p.Slot)
	case "set_hdcp":
		return b.session.SetOutputHDCP(matrix.PortID(p.Output), matrix.HDCPMode(p.Mode))
	case "set_scaler":
		return b.session.SetOutputScaler(matrix.PortID(p.Output), matrix.ScalerMode(p.Mode))
	case "set_hdr":
		return b.session.SetOutputHDR(matrix.PortID(p.Output), matrix.HDRMode(p.Mode))
	case "set_stream":
		return b.session.SetOutputStream(matrix.PortID(p.Output), p.Enable)
	case "set_arc":
		return b.session.SetOutputARC(matrix.PortID(p.Output), p.Enable)
	case "set_ext_audio":
		return b.session.SetOutputExtAudio(matrix.PortID(p.Output), p.Enable)
	case "set_audio_mode":
		return b.session.SetAudioMode(matrix.AudioMode(p.Code))
	case "set_audio_source":
		return b.session.SetOutputAudioSource(matrix.PortID(p.Output), matrix.AudioSource(p.Source))
	case "set_edid":
		return b.session.SetInputEDID(matrix.PortID(p.Input), matrix.EDIDPreset(p.Preset))
	case "copy_edid":
		return b.session.CopyEDID(matrix.PortID(p.Input), matrix.PortID(p.Output))
	case "cec":
		return b.session.SendCEC(p.Target == "output", matrix.PortID(p.Port), p.Command)
	case "set_input_name":
		return b.session.SetInputName(matrix.PortID(p.Input), p.Name)
	case "set_output_name":
		return b.session.SetOutputName(matrix.PortID(p.Output), p.Name)
	case "set_power":
		return b.session.SetPower(p.On)
	case "set_beep":
		return b.session.SetBeep(p.On)
	case "set_lock":
		return b.session.SetPanelLock(p.On)
	case "set_logo":
		return b.session.SetLogo(p.Text)
	case "set_lcd_timeout":
		return b.session.SetLCDTimeout(matrix.LCDTimeout(p.Code))
	case "reboot":
		return b.session.Reboot()
	case "factory_reset":
		return b.session.FactoryReset()
	case "raw":
		return b.session.SendRaw(p.Raw)
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
}

// publishAck publishes a command acknowledgement on its ack topic.
func (b *Bridge) publishAck(a ack) {
	payload, err := json.Marshal(a)
	if err != nil {
		b.logWarn("marshalling ack failed", "id", a.ID)
		return
	}
	if err := b.broker.Publish(b.topics.Ack(a.ID), payload, b.qos, false); err != nil {
		b.logWarn("publishing ack failed", "id", a.ID, "error", err)
	}
	b.logDebug("command acknowledged", "id", a.ID, "op", a.Op, "success", a.Success)
}
