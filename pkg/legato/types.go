// Package legato provides a monophonic note-transition controller that turns
// overlapping notes into legato crossfades, stepped glides or trills.
package legato

// Mode selects how a phrase note is connected to the previous one
type Mode int

const (
	ModeBypass Mode = iota
	ModeLegato
	ModeGlide
	ModeTrill
)

func (m Mode) String() string {
	switch m {
	case ModeBypass:
		return "bypass"
	case ModeLegato:
		return "legato"
	case ModeGlide:
		return "glide"
	case ModeTrill:
		return "trill"
	default:
		return "unknown"
	}
}

// ParseMode converts a mode name back to a Mode
func ParseMode(name string) (Mode, bool) {
	for m := ModeBypass; m <= ModeTrill; m++ {
		if m.String() == name {
			return m, true
		}
	}
	return ModeBypass, false
}

// Handle identifies one triggered note instance inside the host engine.
// Handles are write-once tickets: once a note has been faded to silence or
// terminated the controller never touches it again.
type Handle int

// NoHandle means no note-event is tracked
const NoHandle Handle = -1

// NoPitch marks an empty pitch slot (no note sounding, no retrigger armed)
const NoPitch = -1

// Note is an incoming note-on or note-off
type Note struct {
	Pitch     int
	Velocity  int
	Transpose int     // added to Pitch when the note is triggered
	Coarse    int     // coarse detune in semitones carried by the message
	Fine      float64 // fine detune in cents carried by the message
}

// Disposition tells the host what to do with an event after the controller saw it
type Disposition int

const (
	// Pass leaves the event to default polyphonic handling
	Pass Disposition = iota
	// Consume means the controller has taken over the event
	Consume
)

func (d Disposition) String() string {
	if d == Consume {
		return "consume"
	}
	return "pass"
}

// Voices is the note-level part of the audio engine
type Voices interface {
	TriggerNote(pitch, velocity int) Handle
	TerminateNote(h Handle)
	// VolumeRamp ramps the note's gain to targetDb over durationMs
	VolumeRamp(h Handle, durationMs, targetDb float64)
	// PitchRamp ramps the note's pitch offset to coarse semitones plus fine cents over durationMs
	PitchRamp(h Handle, durationMs float64, coarse int, fine float64)
	// SetStartOffset sets the sample start offset modulators (1 = neutral)
	SetStartOffset(value float64)
}

// Timer is the single periodic timer the host offers. StartTimer replaces any
// running timer; the host calls Controller.Tick on every period.
type Timer interface {
	StartTimer(intervalMs float64)
	StopTimer()
	TimerActive() bool
}

// Host is everything the controller needs from the surrounding engine.
// All calls into the controller must be serialized by the host.
type Host interface {
	Voices
	Timer
	NowMs() float64
	// TempoMs converts a tempo-sync rate index to milliseconds at the current tempo
	TempoMs(index int) float64
	IsKeyDown(pitch int) bool
}
