package yeelight

import "slices"

// ColorMode is the lamp's active colour model.
type ColorMode string

// Colour modes reported in the color_mode property.
const (
	ColorModeRGB         ColorMode = "rgb"
	ColorModeTemperature ColorMode = "temperature"
	ColorModeHSV         ColorMode = "hsv"
)

// FlowTuple is one step of a colour flow: duration (ms), mode, value, brightness.
type FlowTuple [4]int

// DeviceState is the typed snapshot of one lamp.
//
// ID is immutable once assigned; every other field may be replaced as a
// whole or by merging a StatePatch.
type DeviceState struct {
	ID               int64       `json:"id"`
	Address          string      `json:"ip"`
	Model            string      `json:"model"`
	FirmwareVersion  int         `json:"firmwareVersion"`
	SupportedMethods []string    `json:"supportedMethods"`
	IsPowerOn        bool        `json:"isPowerOn"`
	Bright           int         `json:"bright"`
	ColorMode        ColorMode   `json:"colorMode"`
	ColorTemperature int         `json:"colorTemperature"`
	RGB              int         `json:"rgb"`
	Hue              int         `json:"hue"`
	Saturation       int         `json:"saturation"`
	Name             string      `json:"name"`
	Flowing          bool        `json:"flowing"`
	FlowParams       []FlowTuple `json:"flowParams,omitempty"`
	IsMusicModeOn    bool        `json:"isMusicModeOn"`
	SmartSwitch      bool        `json:"smartSwitch"`
	InitPowerOption  int         `json:"initPowerOption"`
	LANControl       bool        `json:"lanControl"`
	DelayOff         bool        `json:"delayOff"`
	SaveState        int         `json:"saveState"`
	BrightWithZero   int         `json:"brightWithZero"`
}

// DefaultState returns the state a newly seen lamp starts from.
func DefaultState() DeviceState {
	return DeviceState{
		SupportedMethods: []string{},
		ColorMode:        ColorModeRGB,
		LANControl:       true,
	}
}

// Clone returns a deep copy so callers can hold a snapshot while the
// session keeps mutating its own copy.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.SupportedMethods = slices.Clone(s.SupportedMethods)
	out.FlowParams = slices.Clone(s.FlowParams)
	return out
}

// Supports reports whether the lamp advertised the given method.
func (s DeviceState) Supports(method string) bool {
	return slices.Contains(s.SupportedMethods, method)
}

// StatePatch is a partial DeviceState. Nil fields are left untouched by Apply.
type StatePatch struct {
	ID               *int64
	Address          *string
	Model            *string
	FirmwareVersion  *int
	SupportedMethods []string
	IsPowerOn        *bool
	Bright           *int
	ColorMode        *ColorMode
	ColorTemperature *int
	RGB              *int
	Hue              *int
	Saturation       *int
	Name             *string
	Flowing          *bool
	FlowParams       []FlowTuple
	IsMusicModeOn    *bool
	SmartSwitch      *bool
	InitPowerOption  *int
	LANControl       *bool
	DelayOff         *bool
	SaveState        *int
	BrightWithZero   *int
}

// Apply merges the patch into s, last write wins per field.
// An ID is only taken when s has none yet.
func (p StatePatch) Apply(s *DeviceState) {
	if p.ID != nil && s.ID == 0 {
		s.ID = *p.ID
	}
	setIf(&s.Address, p.Address)
	setIf(&s.Model, p.Model)
	setIf(&s.FirmwareVersion, p.FirmwareVersion)
	if p.SupportedMethods != nil {
		s.SupportedMethods = slices.Clone(p.SupportedMethods)
	}
	setIf(&s.IsPowerOn, p.IsPowerOn)
	setIf(&s.Bright, p.Bright)
	setIf(&s.ColorMode, p.ColorMode)
	setIf(&s.ColorTemperature, p.ColorTemperature)
	setIf(&s.RGB, p.RGB)
	setIf(&s.Hue, p.Hue)
	setIf(&s.Saturation, p.Saturation)
	setIf(&s.Name, p.Name)
	setIf(&s.Flowing, p.Flowing)
	if p.FlowParams != nil {
		s.FlowParams = slices.Clone(p.FlowParams)
	}
	setIf(&s.IsMusicModeOn, p.IsMusicModeOn)
	setIf(&s.SmartSwitch, p.SmartSwitch)
	setIf(&s.InitPowerOption, p.InitPowerOption)
	setIf(&s.LANControl, p.LANControl)
	setIf(&s.DelayOff, p.DelayOff)
	setIf(&s.SaveState, p.SaveState)
	setIf(&s.BrightWithZero, p.BrightWithZero)
}

// IsEmpty reports whether the patch would change nothing.
func (p StatePatch) IsEmpty() bool {
	return p.ID == nil && p.Address == nil && p.Model == nil && p.FirmwareVersion == nil &&
		p.SupportedMethods == nil && p.IsPowerOn == nil && p.Bright == nil &&
		p.ColorMode == nil && p.ColorTemperature == nil && p.RGB == nil && p.Hue == nil &&
		p.Saturation == nil && p.Name == nil && p.Flowing == nil && p.FlowParams == nil &&
		p.IsMusicModeOn == nil && p.SmartSwitch == nil && p.InitPowerOption == nil &&
		p.LANControl == nil && p.DelayOff == nil && p.SaveState == nil && p.BrightWithZero == nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Ptr returns a pointer to v, for building patches by hand.
func Ptr[T any](v T) *T {
	return &v
}
