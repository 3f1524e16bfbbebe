package matrix

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is a decoded device response line.
type Event interface{ isEvent() }

// FieldUpdate reports one device-state field extracted from a response line.
type FieldUpdate struct {
	Field FieldKey
	Value any
}

// CommandError reports an explicit device error line (E0x prefix).
type CommandError struct {
	Code string
	Raw  string
}

// Unrecognized carries a line the parser could not decode. Logged and
// dropped by callers; protocol variance across firmware must never
// kill the session.
type Unrecognized struct {
	Raw string
}

func (FieldUpdate) isEvent()  {}
func (CommandError) isEvent() {}
func (Unrecognized) isEvent() {}

// Response line patterns, per the device's ASCII grammar. Firmware
// revisions vary spacing and capitalisation, so matching is loose.
var (
	reRouting     = regexp.MustCompile(`(?i)output\s*(\d+)\s*->\s*input\s*(\d+)`)
	reExtAudioSrc = regexp.MustCompile(`(?i)output\s*(\d+)\s*ext-audio\s*-?>?\s*(?:input\s*(\d+)|output\s*(\d+)\s*ARC)`)
	reExtAudioMod = regexp.MustCompile(`(?i)output\s+ext-audio\s+mode[:\s]+(.+)`)
	reLink        = regexp.MustCompile(`(?i)^(input|output)\s*(\d+):\s*(\w+)`)
	reOutSetting  = regexp.MustCompile(`(?i)^output\s*(\d+)\s+(hdcp|scaler|hdr|stream|arc|ext-audio|name)[:\s]+(.+)`)
	reInSetting   = regexp.MustCompile(`(?i)^input\s*(\d+)\s+(EDID|name)[:\s]+(.+)`)
	reFirmware    = regexp.MustCompile(`(?i)version\s*([\d.]+)`)
	reIPAddress   = regexp.MustCompile(`(?i)\bIP(?:\s*address)?:\s*([\d.]+)`)
	reMACAddress  = regexp.MustCompile(`(?i)Mac\s*address:\s*([0-9A-Fa-f:]{17})`)
	reLCDTime     = regexp.MustCompile(`(?i)lcd\s+(?:on\s+time|mode)[:\s]+(.+)`)
	reGlobalBool  = regexp.MustCompile(`(?i)^(?:panel\s+)?(power|beep|lock)\s+(on|off)\b`)
)

// ParseLine decodes one newline-stripped response line into an Event.
//
// It is a pure function with no session state: multi-line status dumps
// are handled by the caller feeding lines one at a time and collecting
// the resulting FieldUpdates into a single atomic store merge.
func ParseLine(raw string) Event {
	line := strings.TrimSpace(raw)
	if line == "" {
		return Unrecognized{Raw: raw}
	}

	if strings.HasPrefix(line, "E0") {
		code := line
		if i := strings.IndexAny(line, " \t"); i > 0 {
			code = line[:i]
		}
		return CommandError{Code: code, Raw: line}
	}

	// Order matters: ext-audio routing lines contain "->" and would
	// otherwise shadow or be shadowed by plain routing lines.
	if m := reExtAudioSrc.FindStringSubmatch(line); m != nil {
		return parseExtAudioSource(m, line)
	}
	if m := reRouting.FindStringSubmatch(line); m != nil {
		return parseRouting(m, line)
	}
	if m := reExtAudioMod.FindStringSubmatch(line); m != nil {
		if mode, ok := AudioModeFromLabel(m[1]); ok {
			return FieldUpdate{Field: FieldAudioMode, Value: mode}
		}
		return Unrecognized{Raw: line}
	}
	if m := reLink.FindStringSubmatch(line); m != nil {
		return parseLink(m, line)
	}
	if m := reOutSetting.FindStringSubmatch(line); m != nil {
		return parseOutputSetting(m, line)
	}
	if m := reInSetting.FindStringSubmatch(line); m != nil {
		return parseInputSetting(m, line)
	}
	if m := reGlobalBool.FindStringSubmatch(line); m != nil {
		return parseGlobalBool(m)
	}
	if m := reLCDTime.FindStringSubmatch(line); m != nil {
		if t, ok := LCDTimeoutFromLabel(m[1]); ok {
			return FieldUpdate{Field: FieldLCDTimeout, Value: t}
		}
		return Unrecognized{Raw: line}
	}
	if m := reMACAddress.FindStringSubmatch(line); m != nil {
		return FieldUpdate{Field: FieldDeviceMAC, Value: strings.ToLower(m[1])}
	}
	if m := reIPAddress.FindStringSubmatch(line); m != nil {
		return FieldUpdate{Field: FieldDeviceIP, Value: m[1]}
	}
	if m := reFirmware.FindStringSubmatch(line); m != nil {
		return FieldUpdate{Field: FieldDeviceFirmware, Value: m[1]}
	}

	return Unrecognized{Raw: line}
}

func parseRouting(m []string, line string) Event {
	out, err1 := strconv.Atoi(m[1])
	in, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || !PortID(out).Valid() || !PortID(in).Valid() {
		return Unrecognized{Raw: line}
	}
	return FieldUpdate{Field: RoutingField(PortID(out)), Value: PortID(in)}
}

func parseExtAudioSource(m []string, line string) Event {
	out, err := strconv.Atoi(m[1])
	if err != nil || !PortID(out).Valid() {
		return Unrecognized{Raw: line}
	}

	var src AudioSource
	switch {
	case m[2] != "":
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return Unrecognized{Raw: line}
		}
		src = AudioSource(n)
	case m[3] != "":
		n, err := strconv.Atoi(m[3])
		if err != nil {
			return Unrecognized{Raw: line}
		}
		src = AudioSource(n + NumPorts) // ARC sources are 9-16
	default:
		return Unrecognized{Raw: line}
	}

	if !src.Valid() {
		return Unrecognized{Raw: line}
	}
	return FieldUpdate{Field: OutputField(PortID(out), settingAudioSource), Value: src}
}

func parseLink(m []string, line string) Event {
	port, err := strconv.Atoi(m[2])
	if err != nil || !PortID(port).Valid() {
		return Unrecognized{Raw: line}
	}
	state, ok := linkStates[strings.ToLower(m[3])]
	if !ok {
		return Unrecognized{Raw: line}
	}
	if strings.EqualFold(m[1], "input") {
		return FieldUpdate{Field: InputField(PortID(port), settingLink), Value: state}
	}
	return FieldUpdate{Field: OutputField(PortID(port), settingLink), Value: state}
}

func parseOutputSetting(m []string, line string) Event {
	port, err := strconv.Atoi(m[1])
	if err != nil || !PortID(port).Valid() {
		return Unrecognized{Raw: line}
	}
	out := PortID(port)
	value := strings.TrimSpace(m[3])

	switch strings.ToLower(m[2]) {
	case "hdcp":
		if mode, ok := hdcpFromLabel(value); ok {
			return FieldUpdate{Field: OutputField(out, settingHDCP), Value: mode}
		}
	case "scaler":
		if mode, ok := scalerFromLabel(value); ok {
			return FieldUpdate{Field: OutputField(out, settingScaler), Value: mode}
		}
	case "hdr":
		if mode, ok := hdrFromLabel(value); ok {
			return FieldUpdate{Field: OutputField(out, settingHDR), Value: mode}
		}
	case "stream":
		if b, ok := parseOnOff(value); ok {
			return FieldUpdate{Field: OutputField(out, settingStream), Value: b}
		}
	case "arc":
		if b, ok := parseOnOff(value); ok {
			return FieldUpdate{Field: OutputField(out, settingARC), Value: b}
		}
	case "ext-audio":
		if b, ok := parseOnOff(value); ok {
			return FieldUpdate{Field: OutputField(out, settingExtAudio), Value: b}
		}
	case "name":
		return FieldUpdate{Field: OutputField(out, settingName), Value: value}
	}
	return Unrecognized{Raw: line}
}

func parseInputSetting(m []string, line string) Event {
	port, err := strconv.Atoi(m[1])
	if err != nil || !PortID(port).Valid() {
		return Unrecognized{Raw: line}
	}
	in := PortID(port)
	value := strings.TrimSpace(m[3])

	switch strings.ToLower(m[2]) {
	case "edid":
		if preset, ok := EDIDPresetFromLabel(value); ok {
			return FieldUpdate{Field: InputField(in, settingEDID), Value: preset}
		}
		if n, err := strconv.Atoi(value); err == nil && EDIDPreset(n).Valid() {
			return FieldUpdate{Field: InputField(in, settingEDID), Value: EDIDPreset(n)}
		}
	case "name":
		return FieldUpdate{Field: InputField(in, settingName), Value: value}
	}
	return Unrecognized{Raw: line}
}

func parseGlobalBool(m []string) Event {
	on := strings.EqualFold(m[2], "on")
	switch strings.ToLower(m[1]) {
	case "power":
		return FieldUpdate{Field: FieldPower, Value: on}
	case "beep":
		return FieldUpdate{Field: FieldBeep, Value: on}
	default: // lock
		return FieldUpdate{Field: FieldPanelLock, Value: on}
	}
}

// parseOnOff decodes the device's boolean vocabulary.
func parseOnOff(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "enable", "enabled", "1":
		return true, true
	case "off", "disable", "disabled", "0":
		return false, true
	}
	return false, false
}

// hdcpFromLabel is tolerant of firmware spacing/capitalisation drift.
func hdcpFromLabel(label string) (HDCPMode, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for mode := range hdcpCodes {
		if strings.ToLower(string(mode)) == needle {
			return mode, true
		}
	}
	// Some firmware drops the space: "hdcp1.4"
	compact := strings.ReplaceAll(needle, " ", "")
	for mode := range hdcpCodes {
		if strings.ReplaceAll(strings.ToLower(string(mode)), " ", "") == compact {
			return mode, true
		}
	}
	return "", false
}

func scalerFromLabel(label string) (ScalerMode, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for mode := range scalerCodes {
		if strings.ToLower(string(mode)) == needle {
			return mode, true
		}
	}
	// "Auto (Follow Sink)" may come back as just "auto"
	if strings.HasPrefix(needle, "auto") {
		return ScalerAuto, true
	}
	return "", false
}

func hdrFromLabel(label string) (HDRMode, bool) {
	needle := strings.ToLower(strings.TrimSpace(label))
	for mode := range hdrCodes {
		if strings.ToLower(string(mode)) == needle {
			return mode, true
		}
	}
	if strings.HasPrefix(needle, "auto") {
		return HDRAuto, true
	}
	return "", false
}
