package yeelight

import (
	"strings"
)

// argBuilder validates decoded arguments and returns the command for one
// method.
type argBuilder func(method string, a args) (Command, error)

// builders maps every method with argument bounds to its checked builder.
// Main and background variants share the same validation.
var builders = map[string]argBuilder{
	"get_prop":         buildGetProp,
	"set_ct_abx":       buildColorTemperature,
	"bg_set_ct_abx":    buildColorTemperature,
	"set_rgb":          buildRGB,
	"bg_set_rgb":       buildRGB,
	"set_hsv":          buildHSV,
	"bg_set_hsv":       buildHSV,
	"set_bright":       buildBright,
	"bg_set_bright":    buildBright,
	"set_power":        buildPower,
	"bg_set_power":     buildPower,
	"start_cf":         buildFlow,
	"bg_start_cf":      buildFlow,
	"set_scene":        buildScene,
	"bg_set_scene":     buildScene,
	"cron_add":         buildCronAdd,
	"set_adjust":       buildAdjust,
	"bg_set_adjust":    buildAdjust,
	"adjust_bright":    buildAdjustPercentage,
	"adjust_ct":        buildAdjustPercentage,
	"adjust_color":     buildAdjustPercentage,
	"bg_adjust_bright": buildAdjustPercentage,
	"bg_adjust_ct":     buildAdjustPercentage,
	"bg_adjust_color":  buildAdjustPercentage,
	"set_music":        buildMusic,
	"set_name":         buildName,
}

// Build turns a method name and loosely typed arguments (as decoded from
// JSON) into a command. Methods with known bounds go through the same
// checks as the typed builders, so an out-of-range value fails here with
// ErrInvalidArgument before anything is written. Other methods pass
// through unchanged.
func Build(method string, params []any) (Command, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return Command{}, invalid("method is required")
	}
	if params == nil {
		params = []any{}
	}
	build, ok := builders[method]
	if !ok {
		return Command{Method: method, Params: params}, nil
	}
	return build(method, args{method: method, values: params})
}

// args reads positional arguments, reporting type errors as
// ErrInvalidArgument.
type args struct {
	method string
	values []any
}

func (a args) arity(lo, hi int) error {
	if n := len(a.values); n < lo || n > hi {
		if lo == hi {
			return invalid("%s takes %d arguments, got %d", a.method, lo, n)
		}
		return invalid("%s takes %d to %d arguments, got %d", a.method, lo, hi, n)
	}
	return nil
}

func (a args) intAt(i int, name string) (int, error) {
	n, err := toInt64(a.values[i])
	if err != nil {
		return 0, invalid("%s %s: %v", a.method, name, err)
	}
	return int(n), nil
}

func (a args) stringAt(i int, name string) (string, error) {
	s, ok := a.values[i].(string)
	if !ok {
		return "", invalid("%s %s must be a string, got %T", a.method, name, a.values[i])
	}
	return s, nil
}

// transition reads the trailing (effect, duration) pair starting at i.
func (a args) transition(i int) (Effect, int, error) {
	effect, err := a.stringAt(i, "effect")
	if err != nil {
		return "", 0, err
	}
	duration, err := a.intAt(i+1, "duration")
	if err != nil {
		return "", 0, err
	}
	return Effect(effect), duration, nil
}

func buildGetProp(method string, a args) (Command, error) {
	props := make([]string, len(a.values))
	for i := range a.values {
		p, err := a.stringAt(i, "property")
		if err != nil {
			return Command{}, err
		}
		props[i] = p
	}
	return GetProp(props...)
}

func buildColorTemperature(method string, a args) (Command, error) {
	if err := a.arity(3, 3); err != nil {
		return Command{}, err
	}
	ct, err := a.intAt(0, "color temperature")
	if err != nil {
		return Command{}, err
	}
	effect, duration, err := a.transition(1)
	if err != nil {
		return Command{}, err
	}
	return colorTemperature(method, ct, effect, duration)
}

func buildRGB(method string, a args) (Command, error) {
	if err := a.arity(3, 3); err != nil {
		return Command{}, err
	}
	value, err := a.intAt(0, "rgb")
	if err != nil {
		return Command{}, err
	}
	effect, duration, err := a.transition(1)
	if err != nil {
		return Command{}, err
	}
	return rgb(method, value, effect, duration)
}

func buildHSV(method string, a args) (Command, error) {
	if err := a.arity(4, 4); err != nil {
		return Command{}, err
	}
	hue, err := a.intAt(0, "hue")
	if err != nil {
		return Command{}, err
	}
	sat, err := a.intAt(1, "saturation")
	if err != nil {
		return Command{}, err
	}
	effect, duration, err := a.transition(2)
	if err != nil {
		return Command{}, err
	}
	return hsv(method, hue, sat, effect, duration)
}

func buildBright(method string, a args) (Command, error) {
	if err := a.arity(3, 3); err != nil {
		return Command{}, err
	}
	value, err := a.intAt(0, "brightness")
	if err != nil {
		return Command{}, err
	}
	effect, duration, err := a.transition(1)
	if err != nil {
		return Command{}, err
	}
	return bright(method, value, effect, duration)
}

func buildPower(method string, a args) (Command, error) {
	if err := a.arity(3, 4); err != nil {
		return Command{}, err
	}
	word, err := a.stringAt(0, "power")
	if err != nil {
		return Command{}, err
	}
	if word != "on" && word != "off" {
		return Command{}, invalid("%s power %q must be on or off", method, word)
	}
	effect, duration, err := a.transition(1)
	if err != nil {
		return Command{}, err
	}
	mode := PowerModeNormal
	if len(a.values) == 4 {
		m, err := a.intAt(3, "mode")
		if err != nil {
			return Command{}, err
		}
		mode = PowerMode(m)
	}
	return power(method, word == "on", effect, duration, mode)
}

func buildFlow(method string, a args) (Command, error) {
	if err := a.arity(3, 3); err != nil {
		return Command{}, err
	}
	count, err := a.intAt(0, "count")
	if err != nil {
		return Command{}, err
	}
	action, err := a.intAt(1, "action")
	if err != nil {
		return Command{}, err
	}
	expr, err := a.stringAt(2, "flow expression")
	if err != nil {
		return Command{}, err
	}
	tuples, err := ParseFlowParams(expr)
	if err != nil {
		return Command{}, invalid("%s flow expression: %v", method, err)
	}
	return flow(method, count, FlowAction(action), tuples)
}

func buildScene(method string, a args) (Command, error) {
	if err := a.arity(3, 4); err != nil {
		return Command{}, err
	}
	class, err := a.stringAt(0, "class")
	if err != nil {
		return Command{}, err
	}
	return scene(method, SceneClass(class), a.values[1:])
}

func buildCronAdd(method string, a args) (Command, error) {
	if err := a.arity(2, 2); err != nil {
		return Command{}, err
	}
	kind, err := a.intAt(0, "type")
	if err != nil {
		return Command{}, err
	}
	if kind != 0 {
		return Command{}, invalid("%s type %d must be 0", method, kind)
	}
	minutes, err := a.intAt(1, "minutes")
	if err != nil {
		return Command{}, err
	}
	return CronAdd(minutes)
}

func buildAdjust(method string, a args) (Command, error) {
	if err := a.arity(2, 2); err != nil {
		return Command{}, err
	}
	action, err := a.stringAt(0, "action")
	if err != nil {
		return Command{}, err
	}
	prop, err := a.stringAt(1, "prop")
	if err != nil {
		return Command{}, err
	}
	return adjust(method, AdjustAction(action), AdjustProp(prop))
}

func buildAdjustPercentage(method string, a args) (Command, error) {
	if err := a.arity(2, 2); err != nil {
		return Command{}, err
	}
	percentage, err := a.intAt(0, "percentage")
	if err != nil {
		return Command{}, err
	}
	duration, err := a.intAt(1, "duration")
	if err != nil {
		return Command{}, err
	}
	return adjustPercentage(method, percentage, duration)
}

func buildMusic(method string, a args) (Command, error) {
	if err := a.arity(1, 3); err != nil {
		return Command{}, err
	}
	action, err := a.intAt(0, "action")
	if err != nil {
		return Command{}, err
	}
	switch action {
	case 0:
		if len(a.values) != 1 {
			return Command{}, invalid("%s off takes no host or port", method)
		}
		return SetMusic(false, "", 0)
	case 1:
		if err := a.arity(3, 3); err != nil {
			return Command{}, err
		}
		host, err := a.stringAt(1, "host")
		if err != nil {
			return Command{}, err
		}
		port, err := a.intAt(2, "port")
		if err != nil {
			return Command{}, err
		}
		return SetMusic(true, host, port)
	default:
		return Command{}, invalid("%s action %d must be 0 or 1", method, action)
	}
}

func buildName(method string, a args) (Command, error) {
	if err := a.arity(1, 1); err != nil {
		return Command{}, err
	}
	name, err := a.stringAt(0, "name")
	if err != nil {
		return Command{}, err
	}
	return SetName(name)
}
