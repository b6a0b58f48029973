package remap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/james-see/legatoctl/pkg/legato"
)

// ErrBadMapping is returned when a controller mapping cannot be parsed
var ErrBadMapping = errors.New("invalid controller mapping")

// Mapping scales a MIDI controller linearly onto a parameter range
type Mapping struct {
	CC    uint8
	Param string
	Min   float64
	Max   float64
}

// Scale converts a 0..127 controller value to the mapped range
func (m Mapping) Scale(value uint8) float64 {
	return float64(value)*(m.Max-m.Min)/127 + m.Min
}

func (m Mapping) String() string {
	return fmt.Sprintf("cc%d=%s:%g:%g", m.CC, m.Param, m.Min, m.Max)
}

// ParseMapping reads "cc=param" or "cc=param:min:max". Without an explicit
// range the parameter's full range is used.
func ParseMapping(s string) (Mapping, error) {
	lhs, rhs, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %q", ErrBadMapping, s)
	}
	cc, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(lhs), "cc"))
	if err != nil || cc < 0 || cc > 127 {
		return Mapping{}, fmt.Errorf("%w: bad controller number %q", ErrBadMapping, lhs)
	}

	parts := strings.Split(rhs, ":")
	p, ok := legato.LookupParam(parts[0])
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %w: %q", ErrBadMapping, legato.ErrUnknownParam, parts[0])
	}
	m := Mapping{CC: uint8(cc), Param: p.Name, Min: p.Min, Max: p.Max}

	switch len(parts) {
	case 1:
	case 3:
		if m.Min, err = strconv.ParseFloat(parts[1], 64); err != nil {
			return Mapping{}, fmt.Errorf("%w: %v", ErrBadMapping, err)
		}
		if m.Max, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return Mapping{}, fmt.Errorf("%w: %v", ErrBadMapping, err)
		}
	default:
		return Mapping{}, fmt.Errorf("%w: %q", ErrBadMapping, s)
	}
	return m, nil
}

// ParseMappings parses a list of mapping definitions
func ParseMappings(defs []string) ([]Mapping, error) {
	out := make([]Mapping, 0, len(defs))
	for _, d := range defs {
		m, err := ParseMapping(d)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Match returns the mappings listening to controller cc
func Match(mappings []Mapping, cc uint8) []Mapping {
	var out []Mapping
	for _, m := range mappings {
		if m.CC == cc {
			out = append(out, m)
		}
	}
	return out
}
