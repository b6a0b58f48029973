package legato

import (
	"encoding/json"
	"io"
	"math"

	"github.com/sirupsen/logrus"
)

// PhraseState is what the controller remembers about the line being played
type PhraseState struct {
	LastPitch      int     `json:"lastPitch"`
	LastVelocity   int     `json:"lastVelocity"`
	LastEvent      Handle  `json:"lastEvent"`
	LastEventTime  float64 `json:"lastEventTime"`
	RetriggerPitch int     `json:"retriggerPitch"`
	Transpose      int     `json:"transpose"` // added to every pitch the phrase triggers
}

func emptyPhrase() PhraseState {
	return PhraseState{
		LastPitch:      NoPitch,
		LastEvent:      NoHandle,
		LastEventTime:  math.Inf(-1),
		RetriggerPitch: NoPitch,
	}
}

// MarshalJSON writes an unset event time as null
func (p PhraseState) MarshalJSON() ([]byte, error) {
	type plain PhraseState
	out := struct {
		plain
		LastEventTime *float64 `json:"lastEventTime"`
	}{plain: plain(p)}
	if !math.IsInf(p.LastEventTime, 0) {
		t := p.LastEventTime
		out.LastEventTime = &t
	}
	return json.Marshal(out)
}

// Snapshot is a read-only view of the controller for UIs
type Snapshot struct {
	Config  Config       `json:"-"`
	Phrase  PhraseState  `json:"phrase"`
	Session *SessionView `json:"session,omitempty"`
	Stepper bool         `json:"stepping"`
	Fade    float64      `json:"fadeMs"`
	Bend    float64      `json:"bendMs"`
	Amount  float64      `json:"bendCents"`
}

// ChangeFunc is called after a setting changed
type ChangeFunc func(name string, cfg Config)

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger used for transition tracing
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithConfig sets the initial settings
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

// Controller is the transition engine. It is not safe for concurrent use;
// the host serializes note, control and timer callbacks.
type Controller struct {
	host      Host
	log       logrus.FieldLogger
	cfg       Config
	table     BendTable
	phrase    PhraseState
	session   *session
	listeners []ChangeFunc

	// last transition parameters, reused by retriggers and trills
	fade   float64
	bend   float64
	amount float64
}

// New creates a controller driving host
func New(host Host, opts ...Option) *Controller {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	c := &Controller{
		host:   host,
		log:    discard,
		cfg:    DefaultConfig(),
		phrase: emptyPhrase(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.table = NewBendTable(c.cfg.MinBend, c.cfg.MaxBend)
	c.fade = c.cfg.BaseFade
	c.bend = BendTime(c.fade, c.cfg.BendTimeOffset)
	return c
}

// Config returns the current settings
func (c *Controller) Config() Config {
	return c.cfg
}

// Table returns the current bend lookup table
func (c *Controller) Table() BendTable {
	return c.table
}

// State returns a snapshot of the phrase and any running glide or trill
func (c *Controller) State() Snapshot {
	s := Snapshot{
		Config:  c.cfg,
		Phrase:  c.phrase,
		Stepper: c.host.TimerActive(),
		Fade:    c.fade,
		Bend:    c.bend,
		Amount:  c.amount,
	}
	if c.session != nil {
		v := c.session.view()
		s.Session = &v
	}
	return s
}

// OnChange registers a listener for setting changes
func (c *Controller) OnChange(fn ChangeFunc) {
	c.listeners = append(c.listeners, fn)
}

func (c *Controller) bypassed() bool {
	return c.cfg.Mode == ModeBypass
}

// NoteOn handles an incoming note-on
func (c *Controller) NoteOn(n Note) Disposition {
	if c.bypassed() {
		return Pass
	}
	c.stopStepper()

	now := c.host.NowMs()
	if Classify(now, c.phrase.LastEventTime) == ClassChord {
		c.log.WithFields(logrus.Fields{"pitch": n.Pitch, "elapsed": now - c.phrase.LastEventTime}).Debug("chord note passed through")
		return Pass
	}

	c.phrase.Transpose = n.Transpose
	if c.phrase.LastPitch != NoPitch {
		c.continuePhrase(n, now)
	} else {
		c.phrase.LastEvent = c.host.TriggerNote(n.Pitch+n.Transpose, n.Velocity)
		if n.Coarse != 0 || n.Fine != 0 {
			c.host.PitchRamp(c.phrase.LastEvent, 0, n.Coarse, n.Fine)
		}
		c.log.WithFields(logrus.Fields{"pitch": n.Pitch, "event": c.phrase.LastEvent}).Debug("phrase started")
	}

	c.phrase.LastPitch = n.Pitch
	c.phrase.LastVelocity = n.Velocity
	c.phrase.LastEventTime = now
	return Consume
}

func (c *Controller) continuePhrase(n Note, now float64) {
	last := c.phrase.LastPitch
	interval := absInt(n.Pitch - last)
	c.fade = FadeTime(interval, n.Velocity, now-c.phrase.LastEventTime, c.cfg.BaseFade)
	c.bend = BendTime(c.fade, c.cfg.BendTimeOffset)
	c.amount = BendAmount(interval, n.Pitch < last, c.table)

	c.host.SetStartOffset(c.cfg.StartOffset)

	log := c.log.WithFields(logrus.Fields{
		"from": last, "to": n.Pitch, "fade": c.fade, "bend": c.bend, "cents": c.amount,
	})

	if c.cfg.Mode == ModeGlide || c.cfg.Mode == ModeTrill {
		c.session = &session{
			origin:  last,
			target:  n.Pitch,
			current: last,
		}
		c.phrase.LastVelocity = n.Velocity
		c.startStepper()
		log.WithField("rate", c.session.rate).Debug("stepping started")
		return
	}

	ratio := c.cfg.FadeOutRatio / 100
	old := c.phrase.LastEvent
	c.host.VolumeRamp(old, c.fade*ratio, -100)
	c.host.PitchRamp(old, c.bend*ratio, 0, n.Fine+c.amount)

	c.phrase.RetriggerPitch = last

	ev := c.host.TriggerNote(n.Pitch+n.Transpose, n.Velocity)
	c.host.VolumeRamp(ev, 0, -99)
	c.host.VolumeRamp(ev, c.fade, 0)
	c.host.PitchRamp(ev, 0, n.Coarse, n.Fine-c.amount)
	c.host.PitchRamp(ev, c.bend, n.Coarse, n.Fine)
	c.phrase.LastEvent = ev
	log.WithField("event", ev).Debug("legato transition")
}

// NoteOff handles an incoming note-off
func (c *Controller) NoteOff(n Note) Disposition {
	if c.bypassed() {
		c.release()
		return Pass
	}
	c.stopStepper()

	if n.Pitch == c.phrase.RetriggerPitch {
		c.phrase.RetriggerPitch = NoPitch
	}
	// Any release while same note legato is on arms the last pitch, including
	// releases of chord notes that never joined the phrase.
	if c.cfg.Mode == ModeLegato && c.cfg.SameNoteLegato {
		c.phrase.RetriggerPitch = c.phrase.LastPitch
	}

	if n.Pitch != c.phrase.LastPitch {
		return Pass
	}

	if c.phrase.RetriggerPitch != NoPitch {
		c.retrigger()
	} else {
		c.log.WithFields(logrus.Fields{"pitch": n.Pitch, "event": c.phrase.LastEvent}).Debug("phrase ended")
		c.release()
	}
	return Consume
}

// retrigger crossfades from the sounding note to the armed pitch without a bend on the new note
func (c *Controller) retrigger() {
	ratio := c.cfg.FadeOutRatio / 100
	old := c.phrase.LastEvent
	c.host.VolumeRamp(old, c.fade*ratio, -100)
	c.host.PitchRamp(old, c.bend*ratio, 0, c.amount)

	pitch := c.phrase.RetriggerPitch
	ev := c.host.TriggerNote(pitch+c.phrase.Transpose, c.phrase.LastVelocity)
	c.host.VolumeRamp(ev, 0, -99)
	c.host.VolumeRamp(ev, c.fade, 0)

	c.log.WithFields(logrus.Fields{"from": c.phrase.LastPitch, "to": pitch, "event": ev}).Debug("retriggered")
	c.phrase.LastEvent = ev
	c.phrase.LastPitch = pitch
	c.phrase.RetriggerPitch = NoPitch
}

// release terminates the tracked note-event, if any, and returns to idle
func (c *Controller) release() {
	if c.phrase.LastEvent == NoHandle {
		return
	}
	c.host.TerminateNote(c.phrase.LastEvent)
	c.phrase.LastEvent = NoHandle
	c.phrase.LastPitch = NoPitch
	c.host.SetStartOffset(1)
}

// Reset stops any glide or trill, silences the tracked note and forgets the phrase
func (c *Controller) Reset() {
	c.stopStepper()
	c.release()
	c.phrase = emptyPhrase()
	c.fade = c.cfg.BaseFade
	c.bend = BendTime(c.fade, c.cfg.BendTimeOffset)
	c.amount = 0
	c.log.Debug("controller reset")
}
