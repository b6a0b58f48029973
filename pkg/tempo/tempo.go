// Package tempo converts tempo-sync division indexes into note lengths
package tempo

// DefaultBPM is used when no tempo is known
const DefaultBPM = 120.0

// Division is a note length relative to the beat
type Division struct {
	Name     string
	Quarters float64 // length in quarter notes
}

// Divisions in tempo-sync knob order, longest first
var Divisions = []Division{
	{"1/1", 4},
	{"1/2D", 3},
	{"1/2", 2},
	{"1/2T", 4.0 / 3.0},
	{"1/4D", 1.5},
	{"1/4", 1},
	{"1/4T", 2.0 / 3.0},
	{"1/8D", 0.75},
	{"1/8", 0.5},
	{"1/8T", 1.0 / 3.0},
	{"1/16D", 0.375},
	{"1/16", 0.25},
	{"1/16T", 1.0 / 6.0},
	{"1/32D", 0.1875},
	{"1/32", 0.125},
	{"1/32T", 1.0 / 12.0},
	{"1/64D", 0.09375},
	{"1/64", 0.0625},
	{"1/64T", 1.0 / 24.0},
}

func clampIndex(index int) int {
	if index < 0 {
		return 0
	}
	if index >= len(Divisions) {
		return len(Divisions) - 1
	}
	return index
}

// Name returns the label of a division index
func Name(index int) string {
	return Divisions[clampIndex(index)].Name
}

// Ms returns the length of a division in milliseconds at bpm
func Ms(index int, bpm float64) float64 {
	if bpm <= 0 {
		bpm = DefaultBPM
	}
	return 60000 / bpm * Divisions[clampIndex(index)].Quarters
}

// Clock holds a tempo and converts division indexes at that tempo
type Clock struct {
	BPM float64
}

// Ms returns the length of a division at the clock's tempo
func (c Clock) Ms(index int) float64 {
	return Ms(index, c.BPM)
}

// FromMicroseconds converts an SMF tempo (microseconds per quarter) to BPM
func FromMicroseconds(usPerQuarter uint32) float64 {
	if usPerQuarter == 0 {
		return DefaultBPM
	}
	return 60000000.0 / float64(usPerQuarter)
}
