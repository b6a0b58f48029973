package legato

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-see/legatoctl/pkg/tempo"
)

// MaxRateIndex is the top of the rate knob; at this index velocity sets the rate
const MaxRateIndex = 11

// ErrUnknownParam is returned for parameter names that do not exist
var ErrUnknownParam = errors.New("unknown parameter")

// Config holds the user settings the controller reads
type Config struct {
	Mode           Mode
	WholeStepGlide bool
	SameNoteLegato bool
	BendTimeOffset float64 // ms, added to the fade time to get the bend time
	MinBend        float64 // cents for a 1 semitone interval
	MaxBend        float64 // cents for a 12 semitone interval
	BaseFade       float64 // maximum crossfade time in ms
	FadeOutRatio   float64 // fade out time as a percentage of the fade in time
	StartOffset    float64 // sample start offset used during a phrase
	Rate           int     // tempo-sync index, MaxRateIndex = velocity controlled
}

// Param names
const (
	ParamMode           = "mode"
	ParamWholeStepGlide = "whole_step_glide"
	ParamSameNoteLegato = "same_note_legato"
	ParamBendTime       = "bend_time"
	ParamMinBend        = "min_bend"
	ParamMaxBend        = "max_bend"
	ParamFadeTime       = "fade_time"
	ParamFadeOutRatio   = "fade_out_ratio"
	ParamStartOffset    = "start_offset"
	ParamRate           = "rate"
)

// Param describes one user-facing setting
type Param struct {
	Name    string  `json:"name"`
	Label   string  `json:"label"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Default float64 `json:"default"`
	Unit    string  `json:"unit,omitempty"`
	Toggle  bool    `json:"toggle,omitempty"`
}

// Clamp limits v to the parameter range and snaps it to the step
func (p Param) Clamp(v float64) float64 {
	if p.Step > 0 {
		v = math.Round(v/p.Step) * p.Step
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

var params = []Param{
	{Name: ParamMode, Label: "Mode", Min: 0, Max: float64(ModeTrill), Step: 1, Default: float64(ModeLegato)},
	{Name: ParamWholeStepGlide, Label: "Whole Step Glide", Min: 0, Max: 1, Step: 1, Toggle: true},
	{Name: ParamSameNoteLegato, Label: "Same Note Legato", Min: 0, Max: 1, Step: 1, Toggle: true},
	{Name: ParamBendTime, Label: "Bend Time", Min: -50, Max: 50, Step: 0.1, Unit: "ms"},
	{Name: ParamMinBend, Label: "Min Bend", Min: 0, Max: 100, Step: 1, Default: 5, Unit: "ct"},
	{Name: ParamMaxBend, Label: "Max Bend", Min: 0, Max: 100, Step: 1, Default: 50, Unit: "ct"},
	{Name: ParamFadeTime, Label: "Fade Time", Min: 10, Max: 500, Step: 0.1, Default: 100, Unit: "ms"},
	{Name: ParamFadeOutRatio, Label: "Fade Out Ratio", Min: 0, Max: 100, Step: 1, Default: 100, Unit: "%"},
	{Name: ParamStartOffset, Label: "SS Offset", Min: 0, Max: 1, Step: 0.01, Default: 1},
	{Name: ParamRate, Label: "Rate", Min: 0, Max: MaxRateIndex, Step: 1, Default: 5},
}

// Params lists every setting in display order
func Params() []Param {
	out := make([]Param, len(params))
	copy(out, params)
	return out
}

// LookupParam finds a setting by name
func LookupParam(name string) (Param, bool) {
	for _, p := range params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// DefaultConfig returns the settings every parameter starts with
func DefaultConfig() Config {
	var c Config
	for _, p := range params {
		_ = c.Set(p.Name, p.Default)
	}
	return c
}

// Get returns a setting as a number, toggles are 0 or 1
func (c Config) Get(name string) (float64, error) {
	switch name {
	case ParamMode:
		return float64(c.Mode), nil
	case ParamWholeStepGlide:
		return boolValue(c.WholeStepGlide), nil
	case ParamSameNoteLegato:
		return boolValue(c.SameNoteLegato), nil
	case ParamBendTime:
		return c.BendTimeOffset, nil
	case ParamMinBend:
		return c.MinBend, nil
	case ParamMaxBend:
		return c.MaxBend, nil
	case ParamFadeTime:
		return c.BaseFade, nil
	case ParamFadeOutRatio:
		return c.FadeOutRatio, nil
	case ParamStartOffset:
		return c.StartOffset, nil
	case ParamRate:
		return float64(c.Rate), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// Set stores a setting without any range checks
func (c *Config) Set(name string, v float64) error {
	switch name {
	case ParamMode:
		c.Mode = Mode(int(math.Round(v)))
	case ParamWholeStepGlide:
		c.WholeStepGlide = v >= 0.5
	case ParamSameNoteLegato:
		c.SameNoteLegato = v >= 0.5
	case ParamBendTime:
		c.BendTimeOffset = v
	case ParamMinBend:
		c.MinBend = v
	case ParamMaxBend:
		c.MaxBend = v
	case ParamFadeTime:
		c.BaseFade = v
	case ParamFadeOutRatio:
		c.FadeOutRatio = v
	case ParamStartOffset:
		c.StartOffset = v
	case ParamRate:
		c.Rate = int(math.Round(v))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	return nil
}

// Values returns every setting keyed by parameter name
func (c Config) Values() map[string]float64 {
	out := make(map[string]float64, len(params))
	for _, p := range params {
		v, _ := c.Get(p.Name)
		out[p.Name] = v
	}
	return out
}

// RateLabel is the text shown for a rate index
func RateLabel(index int) string {
	if index >= MaxRateIndex {
		return "Velocity"
	}
	return tempo.Name(index)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
