package matrix

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldKey names one logical field of the device state model.
//
// Keys are flat dotted strings so they can double as map keys, MQTT
// topic suffixes, and history rows:
//
//	power, beep, panel_lock, logo_text, lcd_timeout, audio_mode
//	routing.<output>
//	output.<n>.hdcp|scaler|hdr|stream|arc|ext_audio|audio_source|name|link
//	input.<n>.edid|name|link
//	device.model|firmware|ip|mac
type FieldKey string

// Global field keys.
const (
	FieldPower      FieldKey = "power"
	FieldBeep       FieldKey = "beep"
	FieldPanelLock  FieldKey = "panel_lock"
	FieldLogoText   FieldKey = "logo_text"
	FieldLCDTimeout FieldKey = "lcd_timeout"
	FieldAudioMode  FieldKey = "audio_mode"

	FieldDeviceModel    FieldKey = "device.model"
	FieldDeviceFirmware FieldKey = "device.firmware"
	FieldDeviceIP       FieldKey = "device.ip"
	FieldDeviceMAC      FieldKey = "device.mac"
)

// Per-output setting names used in output.<n>.<setting> keys.
const (
	settingHDCP        = "hdcp"
	settingScaler      = "scaler"
	settingHDR         = "hdr"
	settingStream      = "stream"
	settingARC         = "arc"
	settingExtAudio    = "ext_audio"
	settingAudioSource = "audio_source"
	settingName        = "name"
	settingLink        = "link"
	settingEDID        = "edid"
)

// RoutingField returns the key for an output's routed input.
func RoutingField(output PortID) FieldKey {
	return FieldKey(fmt.Sprintf("routing.%d", output))
}

// OutputField returns the key for a per-output setting.
func OutputField(output PortID, setting string) FieldKey {
	return FieldKey(fmt.Sprintf("output.%d.%s", output, setting))
}

// InputField returns the key for a per-input setting.
func InputField(input PortID, setting string) FieldKey {
	return FieldKey(fmt.Sprintf("input.%d.%s", input, setting))
}

// allFieldKeys enumerates every logical field, used for diff computation.
var allFieldKeys = buildFieldKeys()

func buildFieldKeys() []FieldKey {
	keys := []FieldKey{
		FieldPower, FieldBeep, FieldPanelLock,
		FieldLogoText, FieldLCDTimeout, FieldAudioMode,
		FieldDeviceModel, FieldDeviceFirmware, FieldDeviceIP, FieldDeviceMAC,
	}
	outputSettings := []string{
		settingHDCP, settingScaler, settingHDR, settingStream, settingARC,
		settingExtAudio, settingAudioSource, settingName, settingLink,
	}
	inputSettings := []string{settingEDID, settingName, settingLink}

	for p := PortID(1); p <= NumPorts; p++ {
		keys = append(keys, RoutingField(p))
		for _, s := range outputSettings {
			keys = append(keys, OutputField(p, s))
		}
		for _, s := range inputSettings {
			keys = append(keys, InputField(p, s))
		}
	}
	return keys
}

// field reads one logical field from the snapshot.
// Returns false for keys that do not name a known field.
func (s *Snapshot) field(key FieldKey) (any, bool) {
	switch key {
	case FieldPower:
		return s.Power, true
	case FieldBeep:
		return s.Beep, true
	case FieldPanelLock:
		return s.PanelLock, true
	case FieldLogoText:
		return s.LogoText, true
	case FieldLCDTimeout:
		return s.LCDTimeout, true
	case FieldAudioMode:
		return s.AudioMode, true
	case FieldDeviceModel:
		return s.Device.Model, true
	case FieldDeviceFirmware:
		return s.Device.Firmware, true
	case FieldDeviceIP:
		return s.Device.IPAddress, true
	case FieldDeviceMAC:
		return s.Device.MACAddress, true
	}

	section, port, setting, ok := splitFieldKey(key)
	if !ok {
		return nil, false
	}

	switch section {
	case "routing":
		return s.Routing[port], true
	case "output":
		out := &s.Outputs[port]
		switch setting {
		case settingHDCP:
			return out.HDCP, true
		case settingScaler:
			return out.Scaler, true
		case settingHDR:
			return out.HDR, true
		case settingStream:
			return out.Stream, true
		case settingARC:
			return out.ARC, true
		case settingExtAudio:
			return out.ExtAudio, true
		case settingAudioSource:
			return out.AudioSource, true
		case settingName:
			return out.Name, true
		case settingLink:
			return out.Link, true
		}
	case "input":
		in := &s.Inputs[port]
		switch setting {
		case settingEDID:
			return in.EDID, true
		case settingName:
			return in.Name, true
		case settingLink:
			return in.Link, true
		}
	}
	return nil, false
}

// setField writes one logical field. Returns false if the key is
// unknown or the value has the wrong type; the snapshot is unchanged
// in that case.
func (s *Snapshot) setField(key FieldKey, value any) bool {
	switch key {
	case FieldPower:
		return assign(&s.Power, value)
	case FieldBeep:
		return assign(&s.Beep, value)
	case FieldPanelLock:
		return assign(&s.PanelLock, value)
	case FieldLogoText:
		return assign(&s.LogoText, value)
	case FieldLCDTimeout:
		return assign(&s.LCDTimeout, value)
	case FieldAudioMode:
		return assign(&s.AudioMode, value)
	case FieldDeviceModel:
		return assign(&s.Device.Model, value)
	case FieldDeviceFirmware:
		return assign(&s.Device.Firmware, value)
	case FieldDeviceIP:
		return assign(&s.Device.IPAddress, value)
	case FieldDeviceMAC:
		return assign(&s.Device.MACAddress, value)
	}

	section, port, setting, ok := splitFieldKey(key)
	if !ok {
		return false
	}

	switch section {
	case "routing":
		return assign(&s.Routing[port], value)
	case "output":
		out := &s.Outputs[port]
		switch setting {
		case settingHDCP:
			return assign(&out.HDCP, value)
		case settingScaler:
			return assign(&out.Scaler, value)
		case settingHDR:
			return assign(&out.HDR, value)
		case settingStream:
			return assign(&out.Stream, value)
		case settingARC:
			return assign(&out.ARC, value)
		case settingExtAudio:
			return assign(&out.ExtAudio, value)
		case settingAudioSource:
			return assign(&out.AudioSource, value)
		case settingName:
			return assign(&out.Name, value)
		case settingLink:
			return assign(&out.Link, value)
		}
	case "input":
		in := &s.Inputs[port]
		switch setting {
		case settingEDID:
			return assign(&in.EDID, value)
		case settingName:
			return assign(&in.Name, value)
		case settingLink:
			return assign(&in.Link, value)
		}
	}
	return false
}

// assign stores value into dst if the dynamic type matches.
func assign[T any](dst *T, value any) bool {
	v, ok := value.(T)
	if !ok {
		return false
	}
	*dst = v
	return true
}

// splitFieldKey decomposes "routing.3", "output.2.hdcp", "input.4.edid".
func splitFieldKey(key FieldKey) (section string, port PortID, setting string, ok bool) {
	parts := strings.Split(string(key), ".")
	if len(parts) < 2 {
		return "", 0, "", false
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil || !PortID(n).Valid() {
		return "", 0, "", false
	}
	port = PortID(n)

	switch parts[0] {
	case "routing":
		if len(parts) != 2 {
			return "", 0, "", false
		}
		return "routing", port, "", true
	case "output", "input":
		if len(parts) != 3 {
			return "", 0, "", false
		}
		return parts[0], port, parts[2], true
	}
	return "", 0, "", false
}

// Diff describes the fields whose externally visible values changed,
// keyed by field with the new value.
type Diff map[FieldKey]any

// diffSnapshots computes the field-level differences between two snapshots.
func diffSnapshots(prev, next *Snapshot) Diff {
	var diff Diff
	for _, key := range allFieldKeys {
		before, _ := prev.field(key)
		after, _ := next.field(key)
		if before != after {
			if diff == nil {
				diff = make(Diff)
			}
			diff[key] = after
		}
	}
	return diff
}
