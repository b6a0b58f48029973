// Package host runs a legato.Controller against real MIDI ports or a
// Standard MIDI File. Each runtime supplies the clock and the step timer;
// the shared engine handles input, held keys and pass-through notes.
package host

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/legatoctl/pkg/legato"
	"github.com/james-see/legatoctl/pkg/remap"
	"github.com/james-see/legatoctl/pkg/tempo"
	"github.com/james-see/legatoctl/pkg/voice"
)

var (
	// ErrPortNotFound is returned when no MIDI port matches the requested name
	ErrPortNotFound = errors.New("MIDI port not found")
	// ErrClosed is returned by calls into a runtime that has stopped
	ErrClosed = errors.New("runtime closed")
)

// RenderIntervalMs is how often ramps are rendered to MIDI
const RenderIntervalMs = 5.0

// Options configures a runtime
type Options struct {
	Engine    legato.Config
	Voice     voice.Config
	BPM       float64
	Transpose int
	Curve     remap.Curve
	Mappings  []remap.Mapping
	Logger    logrus.FieldLogger
}

// DefaultOptions returns the options used when nothing is overridden
func DefaultOptions() Options {
	return Options{
		Engine: legato.DefaultConfig(),
		Voice:  voice.DefaultConfig(),
		BPM:    tempo.DefaultBPM,
		Curve:  remap.Linear(),
	}
}

func (o Options) logger() logrus.FieldLogger {
	if o.Logger != nil {
		return o.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// clock is the part of legato.Host a runtime provides itself
type clock interface {
	legato.Timer
	NowMs() float64
}

// Stats counts what an engine has processed
type Stats struct {
	NotesIn    int `json:"notesIn"`
	Consumed   int `json:"consumed"`
	Passed     int `json:"passed"`
	Dropped    int `json:"dropped"`
	Controls   int `json:"controls"`
	MessagesIn int `json:"messagesIn"`
}

// engine implements legato.Host for a runtime and routes input through the
// velocity curve and controller mappings into the controller.
type engine struct {
	clock
	*voice.Pool

	ctrl    *legato.Controller
	tempo   tempo.Clock
	opts    Options
	log     logrus.FieldLogger
	held    map[int]int
	passed  map[int][]legato.Handle
	dropped map[int]int
	stats   Stats
}

func newEngine(c clock, sink voice.Sink, opts Options) (*engine, error) {
	log := opts.logger()
	pool, err := voice.New(opts.Voice, sink, c.NowMs, voice.WithLogger(log.WithField("component", "voice")))
	if err != nil {
		return nil, err
	}
	e := &engine{
		clock:   c,
		Pool:    pool,
		tempo:   tempo.Clock{BPM: opts.BPM},
		opts:    opts,
		log:     log,
		held:    make(map[int]int),
		passed:  make(map[int][]legato.Handle),
		dropped: make(map[int]int),
	}
	e.ctrl = legato.New(e,
		legato.WithConfig(opts.Engine),
		legato.WithLogger(log.WithField("component", "legato")),
	)
	return e, nil
}

// TempoMs converts a rate index at the runtime's tempo
func (e *engine) TempoMs(index int) float64 {
	return e.tempo.Ms(index)
}

// IsKeyDown reports whether pitch is physically held
func (e *engine) IsKeyDown(pitch int) bool {
	return e.held[pitch] > 0
}

// handle dispatches one incoming channel message
func (e *engine) handle(msg midi.Message) {
	e.stats.MessagesIn++
	var ch, key, vel, cc, val uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &vel) && vel > 0:
		e.noteOn(int(key), int(vel))
	case msg.GetNoteOn(&ch, &key, &vel), msg.GetNoteOff(&ch, &key, &vel):
		e.noteOff(int(key))
	case msg.GetControlChange(&ch, &cc, &val):
		e.control(cc, val)
	}
}

func (e *engine) noteOn(key, velocity int) {
	e.stats.NotesIn++
	v, ok := e.opts.Curve.Apply(velocity)
	if !ok {
		e.stats.Dropped++
		e.dropped[key]++
		e.log.WithFields(logrus.Fields{"pitch": key, "velocity": velocity}).Debug("note dropped by velocity curve")
		return
	}
	e.held[key]++

	n := legato.Note{Pitch: key, Velocity: v, Transpose: e.opts.Transpose}
	if e.ctrl.NoteOn(n) == legato.Consume {
		e.stats.Consumed++
		return
	}
	e.stats.Passed++
	h := e.TriggerNote(key+e.opts.Transpose, v)
	e.passed[key] = append(e.passed[key], h)
}

func (e *engine) noteOff(key int) {
	if e.dropped[key] > 0 {
		e.dropped[key]--
		return
	}
	if e.held[key] > 0 {
		e.held[key]--
	}
	if e.held[key] == 0 {
		delete(e.held, key)
	}

	n := legato.Note{Pitch: key, Transpose: e.opts.Transpose}
	if e.ctrl.NoteOff(n) == legato.Consume {
		return
	}
	hs := e.passed[key]
	if len(hs) == 0 {
		return
	}
	e.TerminateNote(hs[0])
	if len(hs) == 1 {
		delete(e.passed, key)
	} else {
		e.passed[key] = hs[1:]
	}
}

func (e *engine) control(cc, value uint8) {
	for _, m := range remap.Match(e.opts.Mappings, cc) {
		e.stats.Controls++
		v := m.Scale(value)
		if err := e.ctrl.SetParam(m.Param, v); err != nil {
			e.log.WithError(err).WithField("cc", cc).Warn("controller mapping failed")
		}
	}
}

// reset returns the controller and every voice to silence
func (e *engine) reset() {
	e.ctrl.Reset()
	e.AllOff()
	e.passed = make(map[int][]legato.Handle)
}
