package matrix

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Op names a logical device operation. The wire string for an Op comes
// from the active CommandSet, so firmware grammar variants are a table
// swap, not a code change.
type Op string

// Logical operations.
const (
	OpStatus             Op = "status"
	OpReadPower          Op = "read_power"
	OpReadBeep           Op = "read_beep"
	OpReadLock           Op = "read_lock"
	OpReadLCD            Op = "read_lcd"
	OpReadRouting        Op = "read_routing"
	OpReadLinkInputs     Op = "read_link_inputs"
	OpReadLinkOutputs    Op = "read_link_outputs"
	OpReadHDCP           Op = "read_hdcp"
	OpReadScaler         Op = "read_scaler"
	OpReadHDR            Op = "read_hdr"
	OpReadStream         Op = "read_stream"
	OpReadARC            Op = "read_arc"
	OpReadExtAudio       Op = "read_ext_audio"
	OpReadExtAudioMode   Op = "read_ext_audio_mode"
	OpReadExtAudioSource Op = "read_ext_audio_source"
	OpReadEDID           Op = "read_edid"
	OpReadInputNames     Op = "read_input_names"
	OpReadOutputNames    Op = "read_output_names"
	OpReadModel          Op = "read_model"
	OpReadFirmware       Op = "read_firmware"
	OpReadIPConfig       Op = "read_ipconfig"
	OpReadMAC            Op = "read_mac"

	OpSetRoute           Op = "route"
	OpSavePreset         Op = "save_preset"
	OpRecallPreset       Op = "recall_preset"
	OpClearPreset        Op = "clear_preset"
	OpSetHDCP            Op = "set_hdcp"
	OpSetScaler          Op = "set_scaler"
	OpSetHDR             Op = "set_hdr"
	OpSetStream          Op = "set_stream"
	OpSetARC             Op = "set_arc"
	OpSetExtAudio        Op = "set_ext_audio"
	OpSetExtAudioMode    Op = "set_ext_audio_mode"
	OpSetExtAudioSource  Op = "set_ext_audio_source"
	OpSetEDID            Op = "set_edid"
	OpCopyEDID           Op = "copy_edid"
	OpCECInput           Op = "cec_input"
	OpCECOutput          Op = "cec_output"
	OpSetInputName       Op = "set_input_name"
	OpSetOutputName      Op = "set_output_name"
	OpSetPower           Op = "set_power"
	OpSetBeep            Op = "set_beep"
	OpSetLock            Op = "set_lock"
	OpSetLogo            Op = "set_logo"
	OpSetLCDTimeout      Op = "set_lcd_timeout"
	OpLogin              Op = "login"
	OpReboot             Op = "reboot"
	OpFactoryReset       Op = "factory_reset"
	OpRaw                Op = "raw"
)

// CommandSet maps operations to wire templates for one firmware family.
type CommandSet map[Op]string

// DefaultCommandSet returns the grammar spoken by the UHD 8x8 firmware
// line. Commands are '!'-terminated; %d/%s verbs are filled by the
// builders below.
func DefaultCommandSet() CommandSet {
	return CommandSet{
		OpStatus:             "status!",
		OpReadPower:          "r power!",
		OpReadBeep:           "r beep!",
		OpReadLock:           "r lock!",
		OpReadLCD:            "r lcd mode!",
		OpReadRouting:        "r output %d in source!",
		OpReadLinkInputs:     "r link in %d!",
		OpReadLinkOutputs:    "r link out %d!",
		OpReadHDCP:           "r output %d hdcp!",
		OpReadScaler:         "r output %d scaler!",
		OpReadHDR:            "r output %d hdr!",
		OpReadStream:         "r output %d stream!",
		OpReadARC:            "r output %d arc!",
		OpReadExtAudio:       "r output %d exa!",
		OpReadExtAudioMode:   "r output exa mode!",
		OpReadExtAudioSource: "r output %d exa in source!",
		OpReadEDID:           "r input %d EDID!",
		OpReadInputNames:     "r input %d name!",
		OpReadOutputNames:    "r output %d name!",
		OpReadModel:          "r type!",
		OpReadFirmware:       "r fw version!",
		OpReadIPConfig:       "r ipconfig!",
		OpReadMAC:            "r mac addr!",

		OpSetRoute:          "s output %d in source %d!",
		OpSavePreset:        "s save preset %d!",
		OpRecallPreset:      "s recall preset %d!",
		OpClearPreset:       "s clear preset %d!",
		OpSetHDCP:           "s output %d hdcp %d!",
		OpSetScaler:         "s output %d scaler %d!",
		OpSetHDR:            "s output %d hdr %d!",
		OpSetStream:         "s output %d stream %d!",
		OpSetARC:            "s output %d arc %d!",
		OpSetExtAudio:       "s output %d exa %d!",
		OpSetExtAudioMode:   "s output exa mode %d!",
		OpSetExtAudioSource: "s output %d exa in source %d!",
		OpSetEDID:           "s input %d EDID %d!",
		OpCopyEDID:          "s input %d edid copy output %d!",
		OpCECInput:          "s cec in %d %s!",
		OpCECOutput:         "s cec hdmi out %d %s!",
		OpSetInputName:      "s input %d name %s!",
		OpSetOutputName:     "s output %d name %s!",
		OpSetPower:          "power %d!",
		OpSetBeep:           "s beep %d!",
		OpSetLock:           "s lock %d!",
		OpSetLogo:           "s logo1 %s!",
		OpSetLCDTimeout:     "s lcd on time %d!",
		OpLogin:             "login %s!",
		OpReboot:            "reboot!",
		OpFactoryReset:      "reset!",
	}
}

// FirmwareDefault names the UHD 8x8 firmware family whose grammar
// DefaultCommandSet speaks.
const FirmwareDefault = "orei-uhd"

// CommandSetForFirmware returns the wire grammar for a configured
// firmware family. An unrecognised name fails fast so a typo in the
// configuration never puts a mismatched grammar on the wire.
func CommandSetForFirmware(name string) (CommandSet, error) {
	switch name {
	case "", FirmwareDefault:
		return DefaultCommandSet(), nil
	default:
		return nil, fmt.Errorf("%w: unknown firmware %q", ErrInvalidArgument, name)
	}
}

// Prediction is a command's expected effect on one state field, applied
// optimistically on dispatch and reverted on terminal failure.
type Prediction struct {
	Field FieldKey
	Value any
}

// Command is one unit of work for the dispatch queue.
type Command struct {
	// ID correlates futures, acks, and telemetry.
	ID string

	// Op is the logical operation, for logging and metrics.
	Op Op

	// Wire is the rendered command string, '!'-terminated.
	Wire string

	// Predictions are optimistic field effects. A command is confirmed
	// when the device echoes any predicted field.
	Predictions []Prediction

	// Expect hints the field a read command resolves, for correlation
	// when there is no prediction.
	Expect FieldKey

	// CaptureRaw resolves Expect from the first otherwise-unrecognized
	// response line. Used for freeform answers like the model string.
	CaptureRaw bool

	// Collect gathers FieldUpdates across a multi-line dump and applies
	// them to the store as one atomic merge.
	Collect bool

	// FireAndForget resolves success after the write without requiring
	// an echo. Used for ops with no state echo (reboot, CEC, preset
	// save/clear) that must not be blindly retried.
	FireAndForget bool
}

func (cs CommandSet) render(op Op, args ...any) (string, error) {
	tmpl, ok := cs[op]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOp, op)
	}
	if len(args) == 0 {
		return tmpl, nil
	}
	return fmt.Sprintf(tmpl, args...), nil
}

func newCommand(op Op, wire string) *Command {
	return &Command{ID: uuid.NewString(), Op: op, Wire: wire}
}

// validatePort accepts 1..NumPorts, plus 0 when allZero (device idiom
// for "all ports").
func validatePort(p PortID, allZero bool) error {
	if p.Valid() || (allZero && p == 0) {
		return nil
	}
	return fmt.Errorf("%w: port %d", ErrInvalidArgument, p)
}

// Status builds the full-status poll command.
func (cs CommandSet) Status() (*Command, error) {
	wire, err := cs.render(OpStatus)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpStatus, wire)
	cmd.Collect = true
	return cmd, nil
}

// readAll builds a port-scoped read with port 0 ("all") and dump collection.
func (cs CommandSet) readAll(op Op) (*Command, error) {
	wire, err := cs.render(op, 0)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(op, wire)
	cmd.Collect = true
	return cmd, nil
}

// ReadRouting builds the routing dump read.
func (cs CommandSet) ReadRouting() (*Command, error) { return cs.readAll(OpReadRouting) }

// ReadLinkInputs builds the input link-status dump read.
func (cs CommandSet) ReadLinkInputs() (*Command, error) { return cs.readAll(OpReadLinkInputs) }

// ReadLinkOutputs builds the output link-status dump read.
func (cs CommandSet) ReadLinkOutputs() (*Command, error) { return cs.readAll(OpReadLinkOutputs) }

// ReadOutputSettings builds the dump reads for all per-output settings.
func (cs CommandSet) ReadOutputSettings() ([]*Command, error) {
	ops := []Op{OpReadHDCP, OpReadScaler, OpReadHDR, OpReadStream, OpReadARC,
		OpReadExtAudio, OpReadExtAudioSource}
	cmds := make([]*Command, 0, len(ops)+1)
	for _, op := range ops {
		cmd, err := cs.readAll(op)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	wire, err := cs.render(OpReadExtAudioMode)
	if err != nil {
		return nil, err
	}
	mode := newCommand(OpReadExtAudioMode, wire)
	mode.Expect = FieldAudioMode
	cmds = append(cmds, mode)
	return cmds, nil
}

// ReadEDIDs builds the input EDID dump read.
func (cs CommandSet) ReadEDIDs() (*Command, error) { return cs.readAll(OpReadEDID) }

// ReadNames builds the input and output name dump reads.
func (cs CommandSet) ReadNames() ([]*Command, error) {
	in, err := cs.readAll(OpReadInputNames)
	if err != nil {
		return nil, err
	}
	out, err := cs.readAll(OpReadOutputNames)
	if err != nil {
		return nil, err
	}
	return []*Command{in, out}, nil
}

// ReadGlobals builds the power/beep/lock/LCD reads.
func (cs CommandSet) ReadGlobals() ([]*Command, error) {
	specs := []struct {
		op     Op
		expect FieldKey
	}{
		{OpReadPower, FieldPower},
		{OpReadBeep, FieldBeep},
		{OpReadLock, FieldPanelLock},
		{OpReadLCD, FieldLCDTimeout},
	}
	cmds := make([]*Command, 0, len(specs))
	for _, spec := range specs {
		wire, err := cs.render(spec.op)
		if err != nil {
			return nil, err
		}
		cmd := newCommand(spec.op, wire)
		cmd.Expect = spec.expect
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// ReadDeviceInfo builds the identity reads (model, firmware, network).
func (cs CommandSet) ReadDeviceInfo() ([]*Command, error) {
	model, err := cs.render(OpReadModel)
	if err != nil {
		return nil, err
	}
	modelCmd := newCommand(OpReadModel, model)
	modelCmd.Expect = FieldDeviceModel
	modelCmd.CaptureRaw = true

	fw, err := cs.render(OpReadFirmware)
	if err != nil {
		return nil, err
	}
	fwCmd := newCommand(OpReadFirmware, fw)
	fwCmd.Expect = FieldDeviceFirmware

	ipcfg, err := cs.render(OpReadIPConfig)
	if err != nil {
		return nil, err
	}
	ipCmd := newCommand(OpReadIPConfig, ipcfg)
	ipCmd.Collect = true

	mac, err := cs.render(OpReadMAC)
	if err != nil {
		return nil, err
	}
	macCmd := newCommand(OpReadMAC, mac)
	macCmd.Expect = FieldDeviceMAC

	return []*Command{modelCmd, fwCmd, ipCmd, macCmd}, nil
}

// Route builds the routing command. Output 0 routes every output to
// the given input.
func (cs CommandSet) Route(output, input PortID) (*Command, error) {
	if err := validatePort(output, true); err != nil {
		return nil, err
	}
	if err := validatePort(input, false); err != nil {
		return nil, err
	}
	wire, err := cs.render(OpSetRoute, int(output), int(input))
	if err != nil {
		return nil, err
	}

	cmd := newCommand(OpSetRoute, wire)
	if output == 0 {
		for p := PortID(1); p <= NumPorts; p++ {
			cmd.Predictions = append(cmd.Predictions, Prediction{Field: RoutingField(p), Value: input})
		}
	} else {
		cmd.Predictions = []Prediction{{Field: RoutingField(output), Value: input}}
	}
	return cmd, nil
}

// preset builds one of the preset lifecycle commands.
func (cs CommandSet) preset(op Op, slot int) (*Command, error) {
	if slot < 1 || slot > NumPresets {
		return nil, fmt.Errorf("%w: preset slot %d", ErrInvalidArgument, slot)
	}
	wire, err := cs.render(op, slot)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(op, wire)
	return cmd, nil
}

// SavePreset stores the active routing into a device slot.
func (cs CommandSet) SavePreset(slot int) (*Command, error) {
	cmd, err := cs.preset(OpSavePreset, slot)
	if err != nil {
		return nil, err
	}
	cmd.FireAndForget = true
	return cmd, nil
}

// RecallPreset applies a stored routing. The device echoes the new
// routing as a dump, collected and applied atomically.
func (cs CommandSet) RecallPreset(slot int) (*Command, error) {
	cmd, err := cs.preset(OpRecallPreset, slot)
	if err != nil {
		return nil, err
	}
	cmd.Collect = true
	return cmd, nil
}

// ClearPreset removes a stored routing slot.
func (cs CommandSet) ClearPreset(slot int) (*Command, error) {
	cmd, err := cs.preset(OpClearPreset, slot)
	if err != nil {
		return nil, err
	}
	cmd.FireAndForget = true
	return cmd, nil
}

// outputSetting builds a per-output setter with its prediction.
// Output 0 fans the prediction out to all ports.
func (cs CommandSet) outputSetting(op Op, output PortID, code int, setting string, value any) (*Command, error) {
	if err := validatePort(output, true); err != nil {
		return nil, err
	}
	wire, err := cs.render(op, int(output), code)
	if err != nil {
		return nil, err
	}

	cmd := newCommand(op, wire)
	if output == 0 {
		for p := PortID(1); p <= NumPorts; p++ {
			cmd.Predictions = append(cmd.Predictions, Prediction{Field: OutputField(p, setting), Value: value})
		}
	} else {
		cmd.Predictions = []Prediction{{Field: OutputField(output, setting), Value: value}}
	}
	return cmd, nil
}

// SetHDCP builds the per-output HDCP mode command.
func (cs CommandSet) SetHDCP(output PortID, mode HDCPMode) (*Command, error) {
	code := mode.Code()
	if code == 0 {
		return nil, fmt.Errorf("%w: hdcp mode %q", ErrInvalidArgument, mode)
	}
	return cs.outputSetting(OpSetHDCP, output, code, settingHDCP, mode)
}

// SetScaler builds the per-output scaler mode command.
func (cs CommandSet) SetScaler(output PortID, mode ScalerMode) (*Command, error) {
	code := mode.Code()
	if code == 0 {
		return nil, fmt.Errorf("%w: scaler mode %q", ErrInvalidArgument, mode)
	}
	return cs.outputSetting(OpSetScaler, output, code, settingScaler, mode)
}

// SetHDR builds the per-output HDR mode command.
func (cs CommandSet) SetHDR(output PortID, mode HDRMode) (*Command, error) {
	code := mode.Code()
	if code == 0 {
		return nil, fmt.Errorf("%w: hdr mode %q", ErrInvalidArgument, mode)
	}
	return cs.outputSetting(OpSetHDR, output, code, settingHDR, mode)
}

// SetStream builds the per-output stream enable command.
func (cs CommandSet) SetStream(output PortID, enable bool) (*Command, error) {
	return cs.outputSetting(OpSetStream, output, boolCode(enable), settingStream, enable)
}

// SetARC builds the per-output ARC enable command.
func (cs CommandSet) SetARC(output PortID, enable bool) (*Command, error) {
	return cs.outputSetting(OpSetARC, output, boolCode(enable), settingARC, enable)
}

// SetExtAudio builds the per-output external-audio enable command.
func (cs CommandSet) SetExtAudio(output PortID, enable bool) (*Command, error) {
	return cs.outputSetting(OpSetExtAudio, output, boolCode(enable), settingExtAudio, enable)
}

// SetExtAudioMode builds the global external-audio mode command.
func (cs CommandSet) SetExtAudioMode(mode AudioMode) (*Command, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: audio mode %d", ErrInvalidArgument, mode)
	}
	wire, err := cs.render(OpSetExtAudioMode, int(mode))
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpSetExtAudioMode, wire)
	cmd.Predictions = []Prediction{{Field: FieldAudioMode, Value: mode}}
	return cmd, nil
}

// SetExtAudioSource builds the per-output external-audio source command.
func (cs CommandSet) SetExtAudioSource(output PortID, source AudioSource) (*Command, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("%w: audio source %d", ErrInvalidArgument, source)
	}
	return cs.outputSetting(OpSetExtAudioSource, output, int(source), settingAudioSource, source)
}

// SetEDID builds the per-input EDID selection command. Input 0 applies
// to all inputs.
func (cs CommandSet) SetEDID(input PortID, preset EDIDPreset) (*Command, error) {
	if err := validatePort(input, true); err != nil {
		return nil, err
	}
	if !preset.Valid() {
		return nil, fmt.Errorf("%w: edid preset %d", ErrInvalidArgument, preset)
	}
	wire, err := cs.render(OpSetEDID, int(input), int(preset))
	if err != nil {
		return nil, err
	}

	cmd := newCommand(OpSetEDID, wire)
	if input == 0 {
		for p := PortID(1); p <= NumPorts; p++ {
			cmd.Predictions = append(cmd.Predictions, Prediction{Field: InputField(p, settingEDID), Value: preset})
		}
	} else {
		cmd.Predictions = []Prediction{{Field: InputField(input, settingEDID), Value: preset}}
	}
	return cmd, nil
}

// CopyEDID builds the copy-EDID-from-output command. Input 0 copies to
// all inputs. The resulting EDID selection is device-derived, so no
// prediction is attached; the caller follows up with an EDID dump read
// that lands as one atomic merge.
func (cs CommandSet) CopyEDID(input PortID, output PortID) (*Command, error) {
	if err := validatePort(input, true); err != nil {
		return nil, err
	}
	if err := validatePort(output, false); err != nil {
		return nil, err
	}
	wire, err := cs.render(OpCopyEDID, int(input), int(output))
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpCopyEDID, wire)
	cmd.FireAndForget = true
	return cmd, nil
}

// CEC builds a CEC pass-through command for an input or output target.
// Port 0 addresses all targets of that type.
func (cs CommandSet) CEC(targetOutput bool, port PortID, token string) (*Command, error) {
	if err := validatePort(port, true); err != nil {
		return nil, err
	}

	op := OpCECInput
	allowed := CECInputCommands
	if targetOutput {
		op = OpCECOutput
		allowed = CECOutputCommands
	}

	token = strings.ToLower(strings.TrimSpace(token))
	valid := false
	for _, t := range allowed {
		if t == token {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: cec command %q", ErrInvalidArgument, token)
	}

	wire, err := cs.render(op, int(port), token)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(op, wire)
	cmd.FireAndForget = true
	return cmd, nil
}

// SetName builds a port rename command.
func (cs CommandSet) SetName(isOutput bool, port PortID, name string) (*Command, error) {
	if err := validatePort(port, false); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "!\r\n") {
		return nil, fmt.Errorf("%w: name %q", ErrInvalidArgument, name)
	}

	op := OpSetInputName
	field := InputField(port, settingName)
	if isOutput {
		op = OpSetOutputName
		field = OutputField(port, settingName)
	}

	wire, err := cs.render(op, int(port), name)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(op, wire)
	cmd.Predictions = []Prediction{{Field: field, Value: name}}
	return cmd, nil
}

// SetPower builds the global power command.
func (cs CommandSet) SetPower(on bool) (*Command, error) {
	return cs.globalBool(OpSetPower, FieldPower, on)
}

// SetBeep builds the key-beep command.
func (cs CommandSet) SetBeep(on bool) (*Command, error) {
	return cs.globalBool(OpSetBeep, FieldBeep, on)
}

// SetLock builds the front-panel lock command.
func (cs CommandSet) SetLock(on bool) (*Command, error) {
	return cs.globalBool(OpSetLock, FieldPanelLock, on)
}

func (cs CommandSet) globalBool(op Op, field FieldKey, on bool) (*Command, error) {
	wire, err := cs.render(op, boolCode(on))
	if err != nil {
		return nil, err
	}
	cmd := newCommand(op, wire)
	cmd.Predictions = []Prediction{{Field: field, Value: on}}
	return cmd, nil
}

// SetLogo builds the LCD logo text command.
func (cs CommandSet) SetLogo(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > MaxLogoLen || strings.ContainsAny(text, "!\r\n") {
		return nil, fmt.Errorf("%w: logo text %q", ErrInvalidArgument, text)
	}
	wire, err := cs.render(OpSetLogo, text)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpSetLogo, wire)
	cmd.Predictions = []Prediction{{Field: FieldLogoText, Value: text}}
	return cmd, nil
}

// SetLCDTimeout builds the LCD on-time command.
func (cs CommandSet) SetLCDTimeout(t LCDTimeout) (*Command, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: lcd timeout %d", ErrInvalidArgument, t)
	}
	wire, err := cs.render(OpSetLCDTimeout, int(t))
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpSetLCDTimeout, wire)
	cmd.Predictions = []Prediction{{Field: FieldLCDTimeout, Value: t}}
	return cmd, nil
}

// Login builds the admin authentication command, sent once after
// connect when a password is configured.
func (cs CommandSet) Login(password string) (*Command, error) {
	if password == "" || strings.ContainsAny(password, "!\r\n") {
		return nil, fmt.Errorf("%w: password", ErrInvalidArgument)
	}
	wire, err := cs.render(OpLogin, password)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpLogin, wire)
	cmd.FireAndForget = true
	return cmd, nil
}

// Reboot builds the device reboot command. Never retried.
func (cs CommandSet) Reboot() (*Command, error) {
	wire, err := cs.render(OpReboot)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpReboot, wire)
	cmd.FireAndForget = true
	return cmd, nil
}

// FactoryReset builds the factory reset command. Never retried.
func (cs CommandSet) FactoryReset() (*Command, error) {
	wire, err := cs.render(OpFactoryReset)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(OpFactoryReset, wire)
	cmd.FireAndForget = true
	return cmd, nil
}

// Raw wraps an arbitrary command string: the escape hatch for grammar
// the table does not cover. The response is collected and any
// recognizable field updates are merged.
func (cs CommandSet) Raw(wire string) (*Command, error) {
	wire = strings.TrimSpace(wire)
	if wire == "" || strings.ContainsAny(wire, "\r\n") {
		return nil, fmt.Errorf("%w: raw command", ErrInvalidArgument)
	}
	if !strings.HasSuffix(wire, "!") {
		wire += "!"
	}
	cmd := newCommand(OpRaw, wire)
	cmd.Collect = true
	return cmd, nil
}

func boolCode(on bool) int {
	if on {
		return 1
	}
	return 0
}
