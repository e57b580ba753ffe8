package yeelight

import (
	"fmt"
	"strings"
)

// Value bounds enforced by the command builders.
const (
	MinColorTemperature = 1700
	MaxColorTemperature = 6300
	MaxRGB              = 0xFFFFFF
	MaxHue              = 359
	MaxSaturation       = 100
	MinBright           = 1
	MaxBright           = 100
	MinEffectDuration   = 30
	MinFlowDuration     = 50
	MaxAdjustPercentage = 100
)

// Command is a method call ready to be written to a lamp.
type Command struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Effect controls how a change is applied.
type Effect string

// Transition effects.
const (
	EffectSudden Effect = "sudden"
	EffectSmooth Effect = "smooth"
)

// PowerMode selects what a lamp switches to when powered on.
type PowerMode int

// Power-on modes for set_power.
const (
	PowerModeNormal PowerMode = iota
	PowerModeCT
	PowerModeRGB
	PowerModeHSV
	PowerModeColorFlow
	PowerModeNightLight
)

// FlowAction is what a lamp does once a colour flow ends.
type FlowAction int

// Actions for start_cf.
const (
	FlowActionRecover FlowAction = iota
	FlowActionStay
	FlowActionTurnOff
)

// Flow tuple modes.
const (
	FlowModeColor       = 1
	FlowModeTemperature = 2
	FlowModeSleep       = 7
)

// SceneClass selects the interpretation of set_scene values.
type SceneClass string

// Scene classes.
const (
	SceneColor        SceneClass = "color"
	SceneHSV          SceneClass = "hsv"
	SceneCT           SceneClass = "ct"
	SceneColorFlow    SceneClass = "cf"
	SceneAutoDelayOff SceneClass = "auto_delay_off"
)

// AdjustAction is the direction of a set_adjust call.
type AdjustAction string

// Adjust actions.
const (
	AdjustIncrease AdjustAction = "increase"
	AdjustDecrease AdjustAction = "decrease"
	AdjustCircle   AdjustAction = "circle"
)

// AdjustProp is the property a set_adjust call changes.
type AdjustProp string

// Adjustable properties.
const (
	AdjustPropBright AdjustProp = "bright"
	AdjustPropCT     AdjustProp = "ct"
	AdjustPropColor  AdjustProp = "color"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func checkRange(name string, v, lo, hi int) error {
	if v < lo || v > hi {
		return invalid("%s %d out of range %d..%d", name, v, lo, hi)
	}
	return nil
}

func checkEffect(effect Effect, duration int) error {
	if effect != EffectSudden && effect != EffectSmooth {
		return invalid("effect %q must be sudden or smooth", effect)
	}
	if duration < MinEffectDuration {
		return invalid("duration %d below minimum %d", duration, MinEffectDuration)
	}
	return nil
}

func powerWord(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func noArgs(method string) Command {
	return Command{Method: method, Params: []any{}}
}

// GetProp requests the current value of the named properties.
func GetProp(props ...string) (Command, error) {
	if len(props) == 0 {
		return Command{}, invalid("get_prop needs at least one property")
	}
	params := make([]any, len(props))
	for i, p := range props {
		params[i] = p
	}
	return Command{Method: "get_prop", Params: params}, nil
}

func colorTemperature(method string, ct int, effect Effect, duration int) (Command, error) {
	if err := checkRange("color temperature", ct, MinColorTemperature, MaxColorTemperature); err != nil {
		return Command{}, err
	}
	if err := checkEffect(effect, duration); err != nil {
		return Command{}, err
	}
	return Command{Method: method, Params: []any{ct, effect, duration}}, nil
}

func rgb(method string, value int, effect Effect, duration int) (Command, error) {
	if err := checkRange("rgb", value, 0, MaxRGB); err != nil {
		return Command{}, err
	}
	if err := checkEffect(effect, duration); err != nil {
		return Command{}, err
	}
	return Command{Method: method, Params: []any{value, effect, duration}}, nil
}

func hsv(method string, hue, sat int, effect Effect, duration int) (Command, error) {
	if err := checkRange("hue", hue, 0, MaxHue); err != nil {
		return Command{}, err
	}
	if err := checkRange("saturation", sat, 0, MaxSaturation); err != nil {
		return Command{}, err
	}
	if err := checkEffect(effect, duration); err != nil {
		return Command{}, err
	}
	return Command{Method: method, Params: []any{hue, sat, effect, duration}}, nil
}

func bright(method string, value int, effect Effect, duration int) (Command, error) {
	if err := checkRange("brightness", value, MinBright, MaxBright); err != nil {
		return Command{}, err
	}
	if err := checkEffect(effect, duration); err != nil {
		return Command{}, err
	}
	return Command{Method: method, Params: []any{value, effect, duration}}, nil
}

func power(method string, on bool, effect Effect, duration int, mode PowerMode) (Command, error) {
	if err := checkEffect(effect, duration); err != nil {
		return Command{}, err
	}
	if err := checkRange("power mode", int(mode), int(PowerModeNormal), int(PowerModeNightLight)); err != nil {
		return Command{}, err
	}
	return Command{Method: method, Params: []any{powerWord(on), effect, duration, int(mode)}}, nil
}

func flow(method string, count int, action FlowAction, tuples []FlowTuple) (Command, error) {
	if count < 0 {
		return Command{}, invalid("flow count %d must not be negative", count)
	}
	if err := checkRange("flow action", int(action), int(FlowActionRecover), int(FlowActionTurnOff)); err != nil {
		return Command{}, err
	}
	if len(tuples) == 0 {
		return Command{}, invalid("flow needs at least one tuple")
	}
	for i, t := range tuples {
		duration, mode, brightness := t[0], t[1], t[3]
		if duration < MinFlowDuration {
			return Command{}, invalid("flow tuple %d duration %d below minimum %d", i, duration, MinFlowDuration)
		}
		switch mode {
		case FlowModeColor, FlowModeTemperature:
			if brightness != -1 {
				if err := checkRange(fmt.Sprintf("flow tuple %d brightness", i), brightness, MinBright, MaxBright); err != nil {
					return Command{}, err
				}
			}
		case FlowModeSleep:
		default:
			return Command{}, invalid("flow tuple %d mode %d must be 1, 2 or 7", i, mode)
		}
	}
	return Command{Method: method, Params: []any{count, int(action), FormatFlowParams(tuples)}}, nil
}

func scene(method string, class SceneClass, values []any) (Command, error) {
	switch class {
	case SceneColor, SceneHSV, SceneCT, SceneColorFlow, SceneAutoDelayOff:
	default:
		return Command{}, invalid("scene class %q", class)
	}
	if len(values) < 2 || len(values) > 3 {
		return Command{}, invalid("scene %q takes 2 or 3 values, got %d", class, len(values))
	}
	return Command{Method: method, Params: append([]any{string(class)}, values...)}, nil
}

func adjustPercentage(method string, percentage, duration int) (Command, error) {
	if err := checkRange("percentage", percentage, -MaxAdjustPercentage, MaxAdjustPercentage); err != nil {
		return Command{}, err
	}
	if duration < MinEffectDuration {
		return Command{}, invalid("duration %d below minimum %d", duration, MinEffectDuration)
	}
	return Command{Method: method, Params: []any{percentage, duration}}, nil
}

func adjust(method string, action AdjustAction, prop AdjustProp) (Command, error) {
	switch action {
	case AdjustIncrease, AdjustDecrease, AdjustCircle:
	default:
		return Command{}, invalid("adjust action %q", action)
	}
	switch prop {
	case AdjustPropBright, AdjustPropCT:
	case AdjustPropColor:
		if action != AdjustCircle {
			return Command{}, invalid("adjusting color requires the circle action")
		}
	default:
		return Command{}, invalid("adjust prop %q", prop)
	}
	return Command{Method: method, Params: []any{string(action), string(prop)}}, nil
}

// SetColorTemperature changes the colour temperature (set_ct_abx).
func SetColorTemperature(ct int, effect Effect, duration int) (Command, error) {
	return colorTemperature("set_ct_abx", ct, effect, duration)
}

// SetRGB changes the colour to a 24-bit RGB value.
func SetRGB(value int, effect Effect, duration int) (Command, error) {
	return rgb("set_rgb", value, effect, duration)
}

// SetHSV changes the colour by hue and saturation.
func SetHSV(hue, sat int, effect Effect, duration int) (Command, error) {
	return hsv("set_hsv", hue, sat, effect, duration)
}

// SetBright changes the brightness, 1 to 100.
func SetBright(value int, effect Effect, duration int) (Command, error) {
	return bright("set_bright", value, effect, duration)
}

// SetPower switches the lamp on or off.
func SetPower(on bool, effect Effect, duration int, mode PowerMode) (Command, error) {
	return power("set_power", on, effect, duration, mode)
}

// Toggle flips the power state.
func Toggle() Command { return noArgs("toggle") }

// SetDefault saves the current state as the power-on default.
func SetDefault() Command { return noArgs("set_default") }

// StopFlow stops a running colour flow.
func StopFlow() Command { return noArgs("stop_cf") }

// CronGet reads the sleep timer.
func CronGet() Command { return Command{Method: "cron_get", Params: []any{0}} }

// CronDel cancels the sleep timer.
func CronDel() Command { return Command{Method: "cron_del", Params: []any{1}} }

// DevToggle flips both the main and the background light.
func DevToggle() Command { return noArgs("dev_toggle") }

// StartFlow starts a colour flow. A count of 0 loops forever.
func StartFlow(count int, action FlowAction, tuples []FlowTuple) (Command, error) {
	return flow("start_cf", count, action, tuples)
}

// SetScene sets the lamp directly to a scene. values are the class-specific
// arguments, e.g. (rgb, bright) for SceneColor.
func SetScene(class SceneClass, values ...any) (Command, error) {
	return scene("set_scene", class, values)
}

// CronAdd turns the lamp off after the given number of minutes.
func CronAdd(minutes int) (Command, error) {
	if minutes < 1 {
		return Command{}, invalid("cron minutes %d must be at least 1", minutes)
	}
	return Command{Method: "cron_add", Params: []any{0, minutes}}, nil
}

// SetAdjust nudges a property without knowing its current value.
func SetAdjust(action AdjustAction, prop AdjustProp) (Command, error) {
	return adjust("set_adjust", action, prop)
}

// SetMusic starts music mode against host:port, or stops it.
func SetMusic(on bool, host string, port int) (Command, error) {
	if !on {
		return Command{Method: "set_music", Params: []any{0}}, nil
	}
	if strings.TrimSpace(host) == "" {
		return Command{}, invalid("music host is required")
	}
	if err := checkRange("music port", port, 1, 65535); err != nil {
		return Command{}, err
	}
	return Command{Method: "set_music", Params: []any{1, host, port}}, nil
}

// SetName stores a name on the lamp.
func SetName(name string) (Command, error) {
	if name == "" {
		return Command{}, invalid("name is required")
	}
	return Command{Method: "set_name", Params: []any{name}}, nil
}

// AdjustBright changes brightness by a percentage.
func AdjustBright(percentage, duration int) (Command, error) {
	return adjustPercentage("adjust_bright", percentage, duration)
}

// AdjustColorTemperature changes colour temperature by a percentage.
func AdjustColorTemperature(percentage, duration int) (Command, error) {
	return adjustPercentage("adjust_ct", percentage, duration)
}

// AdjustColor changes colour by a percentage.
func AdjustColor(percentage, duration int) (Command, error) {
	return adjustPercentage("adjust_color", percentage, duration)
}

// BgSetRGB sets the background light colour from a 24-bit RGB value.
func BgSetRGB(value int, effect Effect, duration int) (Command, error) {
	return rgb("bg_set_rgb", value, effect, duration)
}

// BgSetHSV sets the background light colour from hue and saturation.
func BgSetHSV(hue, sat int, effect Effect, duration int) (Command, error) {
	return hsv("bg_set_hsv", hue, sat, effect, duration)
}

// BgSetColorTemperature sets the background light colour temperature.
func BgSetColorTemperature(ct int, effect Effect, duration int) (Command, error) {
	return colorTemperature("bg_set_ct_abx", ct, effect, duration)
}

// BgSetBright sets the background light brightness.
func BgSetBright(value int, effect Effect, duration int) (Command, error) {
	return bright("bg_set_bright", value, effect, duration)
}

// BgSetPower switches the background light.
func BgSetPower(on bool, effect Effect, duration int, mode PowerMode) (Command, error) {
	return power("bg_set_power", on, effect, duration, mode)
}

// BgToggle flips the background light power.
func BgToggle() Command { return noArgs("bg_toggle") }

// BgSetDefault saves the background light state as its power-on default.
func BgSetDefault() Command { return noArgs("bg_set_default") }

// BgStopFlow stops a running background colour flow.
func BgStopFlow() Command { return noArgs("bg_stop_cf") }

// BgStartFlow starts a colour flow on the background light.
func BgStartFlow(count int, action FlowAction, tuples []FlowTuple) (Command, error) {
	return flow("bg_start_cf", count, action, tuples)
}

// BgSetScene sets the background light to a scene in one step.
func BgSetScene(class SceneClass, values ...any) (Command, error) {
	return scene("bg_set_scene", class, values)
}

// BgSetAdjust nudges a background light property without knowing its value.
func BgSetAdjust(action AdjustAction, prop AdjustProp) (Command, error) {
	return adjust("bg_set_adjust", action, prop)
}

// BgAdjustBright changes background brightness by a percentage.
func BgAdjustBright(percentage, duration int) (Command, error) {
	return adjustPercentage("bg_adjust_bright", percentage, duration)
}

// BgAdjustColorTemperature changes background colour temperature by a percentage.
func BgAdjustColorTemperature(percentage, duration int) (Command, error) {
	return adjustPercentage("bg_adjust_ct", percentage, duration)
}

// BgAdjustColor changes background colour by a percentage.
func BgAdjustColor(percentage, duration int) (Command, error) {
	return adjustPercentage("bg_adjust_color", percentage, duration)
}
