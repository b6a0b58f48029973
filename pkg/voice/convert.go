package voice

import "math"

// SilenceDb is the level at and below which a voice is considered silent
const SilenceDb = -99.0

// DbToExpression converts a gain in dB to a CC11 value
func DbToExpression(db float64) uint8 {
	if db <= SilenceDb {
		return 0
	}
	v := math.Round(127 * math.Pow(10, db/20))
	if v > 127 {
		return 127
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

// CentsToBend converts a detune in cents to a 14-bit pitch bend value for
// the given bend range in semitones
func CentsToBend(cents, rangeSemitones float64) int16 {
	if rangeSemitones <= 0 {
		return 0
	}
	v := math.Round(cents / (rangeSemitones * 100) * 8192)
	if v > 8191 {
		v = 8191
	}
	if v < -8192 {
		v = -8192
	}
	return int16(v)
}
