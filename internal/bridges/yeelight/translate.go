package yeelight

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// RawRecord is a lamp's properties under their wire names. Values are
// strings when they come from SSDP headers and strings or numbers when they
// come from a props push.
type RawRecord map[string]any

// WireKey is a property name as it appears on the wire.
type WireKey string

// Known wire keys.
const (
	KeyBright             WireKey = "bright"
	KeyColorMode          WireKey = "color_mode"
	KeyColorTemperature   WireKey = "ct"
	KeyFirmwareVersion    WireKey = "fw_ver"
	KeyHue                WireKey = "hue"
	KeyID                 WireKey = "id"
	KeyModel              WireKey = "model"
	KeyName               WireKey = "name"
	KeyPower              WireKey = "power"
	KeyRGB                WireKey = "rgb"
	KeySaturation         WireKey = "sat"
	KeySupport            WireKey = "support"
	KeyFlowing            WireKey = "flowing"
	KeyFlowParams         WireKey = "flow_params"
	KeyMusicOn            WireKey = "music_on"
	KeySmartSwitch        WireKey = "smart_switch"
	KeyInitPowerOption    WireKey = "init_power_opt"
	KeyLANControl         WireKey = "lan_ctrl"
	KeyDelayOff           WireKey = "delayoff"
	KeySaveState          WireKey = "save_state"
	KeyBrightWithZero     WireKey = "bright_with_zero"
	KeyBrightnessWithZero WireKey = "brightness_with_zero"
	KeyAddress            WireKey = "ip"
)

// fieldSetter coerces a wire value and stores it in its patch field.
type fieldSetter func(p *StatePatch, v any) error

var wireFields = map[WireKey]fieldSetter{
	KeyBright:             intField(func(p *StatePatch) **int { return &p.Bright }),
	KeyColorMode:          setColorMode,
	KeyColorTemperature:   intField(func(p *StatePatch) **int { return &p.ColorTemperature }),
	KeyFirmwareVersion:    setFirmwareVersion,
	KeyHue:                intField(func(p *StatePatch) **int { return &p.Hue }),
	KeyID:                 setID,
	KeyModel:              stringField(func(p *StatePatch) **string { return &p.Model }),
	KeyName:               stringField(func(p *StatePatch) **string { return &p.Name }),
	KeyPower:              setPower,
	KeyRGB:                intField(func(p *StatePatch) **int { return &p.RGB }),
	KeySaturation:         intField(func(p *StatePatch) **int { return &p.Saturation }),
	KeySupport:            setSupport,
	KeyFlowing:            boolField(func(p *StatePatch) **bool { return &p.Flowing }),
	KeyFlowParams:         setFlowParams,
	KeyMusicOn:            boolField(func(p *StatePatch) **bool { return &p.IsMusicModeOn }),
	KeySmartSwitch:        boolField(func(p *StatePatch) **bool { return &p.SmartSwitch }),
	KeyInitPowerOption:    intField(func(p *StatePatch) **int { return &p.InitPowerOption }),
	KeyLANControl:         boolField(func(p *StatePatch) **bool { return &p.LANControl }),
	KeyDelayOff:           boolField(func(p *StatePatch) **bool { return &p.DelayOff }),
	KeySaveState:          intField(func(p *StatePatch) **int { return &p.SaveState }),
	KeyBrightWithZero:     intField(func(p *StatePatch) **int { return &p.BrightWithZero }),
	KeyBrightnessWithZero: intField(func(p *StatePatch) **int { return &p.BrightWithZero }),
	KeyAddress:            stringField(func(p *StatePatch) **string { return &p.Address }),
}

// ParseWireKey returns the WireKey for name if it is known.
func ParseWireKey(name string) (WireKey, bool) {
	key := WireKey(name)
	_, ok := wireFields[key]
	return key, ok
}

// Translate maps a raw record to a partial DeviceState.
//
// Keys are processed in sorted order so the first error reported is
// deterministic. An unknown key fails with ErrUnknownWireKey; a value that
// cannot be coerced fails with ErrInvalidWireValue.
func Translate(raw RawRecord) (StatePatch, error) {
	var patch StatePatch
	for _, name := range slices.Sorted(maps.Keys(raw)) {
		value := raw[name]
		set, ok := wireFields[WireKey(name)]
		if !ok {
			return StatePatch{}, fmt.Errorf("%w: %q = %v", ErrUnknownWireKey, name, value)
		}
		if err := set(&patch, value); err != nil {
			return StatePatch{}, fmt.Errorf("%w: %q = %v: %w", ErrInvalidWireValue, name, value, err)
		}
	}
	return patch, nil
}

func intField(field func(*StatePatch) **int) fieldSetter {
	return func(p *StatePatch, v any) error {
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		i := int(n)
		*field(p) = &i
		return nil
	}
}

func boolField(field func(*StatePatch) **bool) fieldSetter {
	return func(p *StatePatch, v any) error {
		if b, ok := v.(bool); ok {
			*field(p) = &b
			return nil
		}
		n, err := toInt64(v)
		if err != nil {
			return err
		}
		b := n != 0
		*field(p) = &b
		return nil
	}
}

func stringField(field func(*StatePatch) **string) fieldSetter {
	return func(p *StatePatch, v any) error {
		s := toString(v)
		*field(p) = &s
		return nil
	}
}

func setID(p *StatePatch, v any) error {
	if s, ok := v.(string); ok {
		if len(s) <= 2 {
			return fmt.Errorf("id %q too short", s)
		}
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return err
		}
		id := int64(n)
		p.ID = &id
		return nil
	}
	id, err := toInt64(v)
	if err != nil {
		return err
	}
	p.ID = &id
	return nil
}

// setFirmwareVersion keeps the leading integer of versions such as
// "1.4.2_0020", which some strip models report instead of a plain number.
func setFirmwareVersion(p *StatePatch, v any) error {
	if n, err := toInt64(v); err == nil {
		i := int(n)
		p.FirmwareVersion = &i
		return nil
	}
	s := toString(v)
	end := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return fmt.Errorf("firmware version %q has no leading number", s)
	}
	if end < 0 {
		end = len(s)
	}
	i, err := strconv.Atoi(s[:end])
	if err != nil {
		return err
	}
	p.FirmwareVersion = &i
	return nil
}

func setColorMode(p *StatePatch, v any) error {
	n, err := toInt64(v)
	if err != nil {
		return err
	}
	var mode ColorMode
	switch n {
	case 1:
		mode = ColorModeRGB
	case 2:
		mode = ColorModeTemperature
	default:
		mode = ColorModeHSV
	}
	p.ColorMode = &mode
	return nil
}

func setPower(p *StatePatch, v any) error {
	on := toString(v) == "on"
	p.IsPowerOn = &on
	return nil
}

func setSupport(p *StatePatch, v any) error {
	methods := []string{}
	for m := range strings.SplitSeq(toString(v), " ") {
		if m != "" {
			methods = append(methods, m)
		}
	}
	p.SupportedMethods = methods
	return nil
}

func setFlowParams(p *StatePatch, v any) error {
	tuples, err := ParseFlowParams(toString(v))
	if err != nil {
		return err
	}
	p.FlowParams = tuples
	return nil
}

// ParseFlowParams groups a comma-joined number list into 4-tuples.
func ParseFlowParams(s string) ([]FlowTuple, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []FlowTuple{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts)%4 != 0 {
		return nil, fmt.Errorf("flow list has %d values, not a multiple of 4", len(parts))
	}
	tuples := make([]FlowTuple, 0, len(parts)/4)
	for i := 0; i < len(parts); i += 4 {
		var t FlowTuple
		for j := range t {
			n, err := strconv.Atoi(strings.TrimSpace(parts[i+j]))
			if err != nil {
				return nil, err
			}
			t[j] = n
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// FormatFlowParams joins tuples back into the wire form used by start_cf.
func FormatFlowParams(tuples []FlowTuple) string {
	parts := make([]string, 0, len(tuples)*4)
	for _, t := range tuples {
		for _, n := range t {
			parts = append(parts, strconv.Itoa(n))
		}
	}
	return strings.Join(parts, ",")
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case float64:
		return floatToInt64(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
