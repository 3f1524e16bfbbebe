package matrix

import (
	"fmt"
	"strings"
)

// Port counts for the 8x8 matrix family.
const (
	// NumPorts is the number of inputs and outputs on the device.
	NumPorts = 8

	// NumPresets is the number of device-resident preset slots.
	NumPresets = 8

	// NumUserEDIDs is the number of writable user EDID slots.
	NumUserEDIDs = 3

	// MaxLogoLen is the maximum LCD logo text length accepted by the device.
	MaxLogoLen = 16
)

// PortID identifies an input or output port, 1..NumPorts.
// Port identity is stable; names change, PortIDs never do.
type PortID int

// Valid reports whether the port number is within 1..NumPorts.
func (p PortID) Valid() bool {
	return p >= 1 && p <= NumPorts
}

// HDCPMode is the per-output HDCP handling mode.
type HDCPMode string

// HDCP modes, labelled as the device reports them.
const (
	HDCP14       HDCPMode = "HDCP 1.4"
	HDCP22       HDCPMode = "HDCP 2.2"
	HDCPSink     HDCPMode = "Follow Sink"
	HDCPSource   HDCPMode = "Follow Source"
	HDCPUserMode HDCPMode = "User Mode"
)

var hdcpCodes = map[HDCPMode]int{
	HDCP14:       1,
	HDCP22:       2,
	HDCPSink:     3,
	HDCPSource:   4,
	HDCPUserMode: 5,
}

// Code returns the wire code for the mode, or 0 if unknown.
func (m HDCPMode) Code() int { return hdcpCodes[m] }

// HDCPModeFromCode maps a wire code to a mode.
func HDCPModeFromCode(code int) (HDCPMode, bool) {
	for m, c := range hdcpCodes {
		if c == code {
			return m, true
		}
	}
	return "", false
}

// ScalerMode is the per-output video scaler mode.
type ScalerMode string

// Scaler modes.
const (
	ScalerPassThrough ScalerMode = "Pass-through"
	Scaler8KTo4K      ScalerMode = "8K to 4K"
	Scaler8K4KTo1080p ScalerMode = "8K/4K to 1080p"
	ScalerAuto        ScalerMode = "Auto (Follow Sink)"
)

var scalerCodes = map[ScalerMode]int{
	ScalerPassThrough: 1,
	Scaler8KTo4K:      2,
	Scaler8K4KTo1080p: 3,
	ScalerAuto:        4,
}

// Code returns the wire code for the mode, or 0 if unknown.
func (m ScalerMode) Code() int { return scalerCodes[m] }

// ScalerModeFromCode maps a wire code to a mode.
func ScalerModeFromCode(code int) (ScalerMode, bool) {
	for m, c := range scalerCodes {
		if c == code {
			return m, true
		}
	}
	return "", false
}

// HDRMode is the per-output HDR handling mode.
type HDRMode string

// HDR modes.
const (
	HDRPassThrough HDRMode = "Pass-through"
	HDRToSDR       HDRMode = "HDR to SDR"
	HDRAuto        HDRMode = "Auto (Follow Sink)"
)

var hdrCodes = map[HDRMode]int{
	HDRPassThrough: 1,
	HDRToSDR:       2,
	HDRAuto:        3,
}

// Code returns the wire code for the mode, or 0 if unknown.
func (m HDRMode) Code() int { return hdrCodes[m] }

// HDRModeFromCode maps a wire code to a mode.
func HDRModeFromCode(code int) (HDRMode, bool) {
	for m, c := range hdrCodes {
		if c == code {
			return m, true
		}
	}
	return "", false
}

// LCDTimeout is the front-panel LCD on-time setting (wire codes 0-4).
type LCDTimeout int

// LCD timeout codes.
const (
	LCDOff      LCDTimeout = 0
	LCDAlwaysOn LCDTimeout = 1
	LCD15s      LCDTimeout = 2
	LCD30s      LCDTimeout = 3
	LCD60s      LCDTimeout = 4
)

var lcdLabels = map[LCDTimeout]string{
	LCDOff:      "Off",
	LCDAlwaysOn: "Always On",
	LCD15s:      "15 Seconds",
	LCD30s:      "30 Seconds",
	LCD60s:      "60 Seconds",
}

// Valid reports whether the timeout code is defined.
func (t LCDTimeout) Valid() bool {
	_, ok := lcdLabels[t]
	return ok
}

func (t LCDTimeout) String() string {
	if label, ok := lcdLabels[t]; ok {
		return label
	}
	return fmt.Sprintf("LCDTimeout(%d)", int(t))
}

// LCDTimeoutFromLabel maps a device-reported label to a timeout code.
func LCDTimeoutFromLabel(label string) (LCDTimeout, bool) {
	for t, l := range lcdLabels {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return t, true
		}
	}
	return 0, false
}

// AudioMode is the global external-audio routing mode (wire codes 0-2).
type AudioMode int

// External audio routing modes.
const (
	AudioBindToInput  AudioMode = 0
	AudioBindToOutput AudioMode = 1
	AudioMatrixMode   AudioMode = 2
)

var audioModeLabels = map[AudioMode]string{
	AudioBindToInput:  "Bind to Input",
	AudioBindToOutput: "Bind to Output",
	AudioMatrixMode:   "Matrix Mode",
}

// Valid reports whether the mode code is defined.
func (m AudioMode) Valid() bool {
	_, ok := audioModeLabels[m]
	return ok
}

func (m AudioMode) String() string {
	if label, ok := audioModeLabels[m]; ok {
		return label
	}
	return fmt.Sprintf("AudioMode(%d)", int(m))
}

// AudioModeFromLabel maps a device-reported label to a mode code.
func AudioModeFromLabel(label string) (AudioMode, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for m, l := range audioModeLabels {
		if strings.Contains(needle, strings.ToLower(l)) {
			return m, true
		}
	}
	return 0, false
}

// AudioSource selects the external-audio source for an output.
// Values 1-8 are inputs; 9-16 are output 1-8 ARC paths.
type AudioSource int

// MaxAudioSource is the highest valid external-audio source value.
const MaxAudioSource = 16

// Valid reports whether the source value is within 1..MaxAudioSource.
func (s AudioSource) Valid() bool {
	return s >= 1 && s <= MaxAudioSource
}

// IsARC reports whether the source is an output ARC path (9-16).
func (s AudioSource) IsARC() bool {
	return s > NumPorts && s <= MaxAudioSource
}

func (s AudioSource) String() string {
	switch {
	case s >= 1 && s <= NumPorts:
		return fmt.Sprintf("Input %d", int(s))
	case s.IsARC():
		return fmt.Sprintf("Output %d ARC", int(s)-NumPorts)
	default:
		return fmt.Sprintf("AudioSource(%d)", int(s))
	}
}

// EDIDPreset selects the EDID applied to an input (wire codes 1-39;
// 37-39 are the user EDID slots).
type EDIDPreset int

// MaxEDIDPreset is the highest valid EDID preset code.
const MaxEDIDPreset = 39

// Valid reports whether the preset code is within 1..MaxEDIDPreset.
func (e EDIDPreset) Valid() bool {
	return e >= 1 && e <= MaxEDIDPreset
}

// edidDescriptions maps preset codes to the labels the device reports.
var edidDescriptions = map[EDIDPreset]string{
	1: "1080P, 2.0CH", 2: "1080P, 5.1CH", 3: "1080P, 7.1CH",
	4: "4K30, 2.0CH", 5: "4K30, 5.1CH", 6: "4K30, 7.1CH",
	7: "4K60 (4:2:0), 2.0CH", 8: "4K60 (4:2:0), 5.1CH", 9: "4K60 (4:2:0), 7.1CH",
	10: "4K60 (4:4:4), 2.0CH", 11: "4K60 (4:4:4), 5.1CH", 12: "4K60 (4:4:4), 7.1CH",
	13: "1080P HDR, 2.0CH", 14: "1080P HDR, 5.1CH", 15: "1080P HDR, 7.1CH",
	16: "4K30 HDR, 2.0CH", 17: "4K30 HDR, 5.1CH", 18: "4K30 HDR, 7.1CH",
	19: "4K60 (4:2:0) HDR, 2.0CH", 20: "4K60 (4:2:0) HDR, 5.1CH", 21: "4K60 (4:2:0) HDR, 7.1CH",
	22: "4K60 (4:4:4) HDR, 2.0CH", 23: "4K60 (4:4:4) HDR, 5.1CH", 24: "4K60 (4:4:4) HDR, 7.1CH",
	25: "4K120 (4:2:0) HDR, 2.0CH", 26: "4K120 (4:2:0) HDR, 5.1CH", 27: "4K120 (4:2:0) HDR, 7.1CH",
	28: "4K120 (4:4:4) HDR, 2.0CH", 29: "4K120 (4:4:4) HDR, 5.1CH", 30: "4K120 (4:4:4) HDR, 7.1CH",
	31: "8K FRL10G HDR, 2.0CH", 32: "8K FRL10G HDR, 5.1CH", 33: "8K FRL10G HDR, 7.1CH",
	34: "8K FRL12G HDR, 2.0CH", 35: "8K FRL12G HDR, 5.1CH", 36: "8K FRL12G HDR, 7.1CH",
	37: "User EDID 1", 38: "User EDID 2", 39: "User EDID 3",
}

func (e EDIDPreset) String() string {
	if desc, ok := edidDescriptions[e]; ok {
		return desc
	}
	return fmt.Sprintf("EDIDPreset(%d)", int(e))
}

// EDIDPresetFromLabel maps a device-reported EDID description to its code.
func EDIDPresetFromLabel(label string) (EDIDPreset, bool) {
	needle := strings.TrimSpace(label)
	for e, desc := range edidDescriptions {
		if strings.EqualFold(desc, needle) {
			return e, true
		}
	}
	return 0, false
}

// LinkStatus is the device-reported connection state of a port.
type LinkStatus string

// Link states. Unknown is set locally when the session is unavailable.
const (
	LinkConnected    LinkStatus = "Connected"
	LinkSyncing      LinkStatus = "Syncing"
	LinkDisconnected LinkStatus = "Disconnected"
	LinkUnknown      LinkStatus = "Unknown"
)

// linkStates maps wire tokens to link states.
var linkStates = map[string]LinkStatus{
	"connect":    LinkConnected,
	"sync":       LinkSyncing,
	"disconnect": LinkDisconnected,
}

// CEC command tokens accepted for input-side targets.
var CECInputCommands = []string{
	"on", "off", "menu", "back", "up", "down", "left", "right", "enter",
	"play", "pause", "stop", "rew", "ff", "mute", "vol-", "vol+",
	"previous", "next",
}

// CEC command tokens accepted for output-side targets.
var CECOutputCommands = []string{
	"on", "off", "mute", "vol-", "vol+", "active",
}

// OutputSettings holds the per-output configuration and diagnostics.
type OutputSettings struct {
	HDCP        HDCPMode    `json:"hdcp"`
	Scaler      ScalerMode  `json:"scaler"`
	HDR         HDRMode     `json:"hdr"`
	Stream      bool        `json:"stream"`
	ARC         bool        `json:"arc"`
	ExtAudio    bool        `json:"ext_audio"`
	AudioSource AudioSource `json:"audio_source"`
	Name        string      `json:"name"`
	Link        LinkStatus  `json:"link"`
}

// InputSettings holds the per-input configuration and diagnostics.
type InputSettings struct {
	EDID EDIDPreset `json:"edid"`
	Name string     `json:"name"`
	Link LinkStatus `json:"link"`
}

// DeviceInfo holds read-only identity details reported by the device.
type DeviceInfo struct {
	Model      string `json:"model"`
	Firmware   string `json:"firmware"`
	IPAddress  string `json:"ip_address"`
	MACAddress string `json:"mac_address"`
}

// Snapshot is an immutable point-in-time view of device state.
//
// It is a value type: arrays, not slices or maps, so assignment is a
// deep copy and callers can never mutate the store through it. Port
// indices are 1-based; element 0 of each array is unused.
type Snapshot struct {
	Power      bool       `json:"power"`
	Beep       bool       `json:"beep"`
	PanelLock  bool       `json:"panel_lock"`
	LogoText   string     `json:"logo_text"`
	LCDTimeout LCDTimeout `json:"lcd_timeout"`
	AudioMode  AudioMode  `json:"audio_mode"`

	// Routing maps output port -> input port. Always fully populated
	// once the first poll completes; defaults map each output to itself.
	Routing [NumPorts + 1]PortID `json:"-"`

	Outputs [NumPorts + 1]OutputSettings `json:"-"`
	Inputs  [NumPorts + 1]InputSettings  `json:"-"`

	Device DeviceInfo `json:"device"`
}

// defaultSnapshot returns the pre-poll baseline: identity routing and
// unknown link states.
func defaultSnapshot() Snapshot {
	var s Snapshot
	for p := 1; p <= NumPorts; p++ {
		s.Routing[p] = PortID(p)
		s.Outputs[p].Link = LinkUnknown
		s.Inputs[p].Link = LinkUnknown
	}
	return s
}

// View renders the snapshot as a JSON-friendly document with string
// port keys ("1".."8"), used by the HTTP API, the MQTT bridge, and
// the history log.
func (s Snapshot) View() map[string]any {
	routing := make(map[string]int, NumPorts)
	outputs := make(map[string]OutputSettings, NumPorts)
	inputs := make(map[string]InputSettings, NumPorts)
	for p := 1; p <= NumPorts; p++ {
		key := fmt.Sprintf("%d", p)
		routing[key] = int(s.Routing[p])
		outputs[key] = s.Outputs[p]
		inputs[key] = s.Inputs[p]
	}
	return map[string]any{
		"power":       s.Power,
		"beep":        s.Beep,
		"panel_lock":  s.PanelLock,
		"logo_text":   s.LogoText,
		"lcd_timeout": s.LCDTimeout.String(),
		"audio_mode":  s.AudioMode.String(),
		"routing":     routing,
		"outputs":     outputs,
		"inputs":      inputs,
		"device":      s.Device,
	}
}
