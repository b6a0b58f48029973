// Package voice renders the transition engine's note-event requests as MIDI.
// Every note-event gets its own channel so that expression (CC11) and pitch
// bend can be ramped per note.
package voice

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/legatoctl/pkg/legato"
)

// ErrNoPool is returned when a pool is configured without channels
var ErrNoPool = errors.New("voice pool has no channels")

const (
	ccExpression = 11

	DefaultBendRange = 2.0
	DefaultOffsetCC  = 19
)

// Sink receives rendered MIDI messages with their timestamp in ms
type Sink interface {
	Send(atMs float64, msg midi.Message) error
}

// SinkFunc adapts a plain function to a Sink
type SinkFunc func(atMs float64, msg midi.Message) error

func (f SinkFunc) Send(atMs float64, msg midi.Message) error {
	return f(atMs, msg)
}

// Config describes the output side of the pool
type Config struct {
	// Channels are zero-based MIDI channels, allocated in order
	Channels []uint8
	// BendRange is the receiver's pitch bend range in semitones
	BendRange float64
	// OffsetCC carries the sample-start offset
	OffsetCC uint8
}

// DefaultChannels returns MIDI channels 2..16
func DefaultChannels() []uint8 {
	chs := make([]uint8, 0, 15)
	for ch := uint8(1); ch < 16; ch++ {
		chs = append(chs, ch)
	}
	return chs
}

// DefaultConfig returns the pool configuration used by the CLI
func DefaultConfig() Config {
	return Config{
		Channels:  DefaultChannels(),
		BendRange: DefaultBendRange,
		OffsetCC:  DefaultOffsetCC,
	}
}

type voice struct {
	handle   legato.Handle
	channel  uint8
	pitch    uint8
	velocity uint8
	sounding bool
	volume   lane
	cents    lane
}

// channelState holds what was last sent on a channel
type channelState struct {
	expression int
	bend       int
	offset     int
}

var _ legato.Voices = (*Pool)(nil)

// Pool implements legato.Voices on top of a MIDI sink
type Pool struct {
	cfg    Config
	sink   Sink
	clock  func() float64
	log    logrus.FieldLogger
	next   legato.Handle
	voices map[legato.Handle]*voice
	free   []uint8
	sent   [16]channelState
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool's logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pool) { p.log = l }
}

// New creates a pool writing to sink. clock supplies the current time in ms
// for requests made between two Advance calls.
func New(cfg Config, sink Sink, clock func() float64, opts ...Option) (*Pool, error) {
	if len(cfg.Channels) == 0 {
		return nil, ErrNoPool
	}
	for _, ch := range cfg.Channels {
		if ch > 15 {
			return nil, fmt.Errorf("invalid channel %d: must be 0-15", ch)
		}
	}
	if cfg.BendRange <= 0 {
		cfg.BendRange = DefaultBendRange
	}

	silent := logrus.New()
	silent.SetOutput(io.Discard)

	p := &Pool{
		cfg:    cfg,
		sink:   sink,
		clock:  clock,
		log:    silent,
		voices: make(map[legato.Handle]*voice),
		free:   append([]uint8(nil), cfg.Channels...),
	}
	for i := range p.sent {
		p.sent[i] = channelState{expression: -1, bend: math.MinInt32, offset: -1}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// TriggerNote allocates a channel and schedules a note. The NoteOn goes out
// on the next Advance, after any ramps requested in the meantime have set
// the channel's starting expression and bend.
func (p *Pool) TriggerNote(pitch, velocity int) legato.Handle {
	now := p.clock()
	ch := p.allocate(now)

	h := p.next
	p.next++
	p.voices[h] = &voice{
		handle:   h,
		channel:  ch,
		pitch:    clamp7(pitch),
		velocity: clamp7(velocity),
		volume:   newLane(0),
		cents:    newLane(0),
	}
	p.log.WithFields(logrus.Fields{"handle": h, "channel": ch + 1, "pitch": pitch}).Debug("voice allocated")
	return h
}

// TerminateNote ends a voice immediately
func (p *Pool) TerminateNote(h legato.Handle) {
	v, ok := p.voices[h]
	if !ok {
		return
	}
	p.finish(v, p.clock())
}

// VolumeRamp ramps the voice's gain to targetDb, replacing any running volume ramp
func (p *Pool) VolumeRamp(h legato.Handle, durationMs, targetDb float64) {
	if v, ok := p.voices[h]; ok {
		v.volume.push(p.clock(), durationMs, targetDb)
	}
}

// PitchRamp ramps the voice's detune, replacing any running pitch ramp
func (p *Pool) PitchRamp(h legato.Handle, durationMs float64, coarse int, fine float64) {
	if v, ok := p.voices[h]; ok {
		v.cents.push(p.clock(), durationMs, float64(coarse)*100+fine)
	}
}

// SetStartOffset sends the sample-start offset on every pool channel
func (p *Pool) SetStartOffset(value float64) {
	cc := int(math.Round(math.Max(0, math.Min(1, value)) * 127))
	now := p.clock()
	for _, ch := range p.cfg.Channels {
		if p.sent[ch].offset == cc {
			continue
		}
		p.sent[ch].offset = cc
		p.send(now, midi.ControlChange(ch, p.cfg.OffsetCC, uint8(cc)))
	}
}

// Advance renders all ramps at nowMs, starts pending notes and releases
// voices whose volume has settled at silence.
func (p *Pool) Advance(nowMs float64) {
	for _, v := range p.ordered() {
		db := v.volume.at(nowMs)
		cents := v.cents.at(nowMs)

		if v.volume.idle() && db <= SilenceDb {
			p.finish(v, nowMs)
			continue
		}

		p.expression(nowMs, v.channel, DbToExpression(db))
		p.bend(nowMs, v.channel, CentsToBend(cents, p.cfg.BendRange))
		if !v.sounding {
			v.sounding = true
			p.send(nowMs, midi.NoteOn(v.channel, v.pitch, v.velocity))
		}
	}
}

// AllOff ends every voice
func (p *Pool) AllOff() {
	now := p.clock()
	for _, v := range p.ordered() {
		p.finish(v, now)
	}
}

// Active returns the number of allocated voices
func (p *Pool) Active() int {
	return len(p.voices)
}

// Channel returns the channel assigned to h
func (p *Pool) Channel(h legato.Handle) (uint8, bool) {
	v, ok := p.voices[h]
	if !ok {
		return 0, false
	}
	return v.channel, true
}

func (p *Pool) allocate(now float64) uint8 {
	if len(p.free) == 0 {
		oldest := p.ordered()[0]
		p.log.WithFields(logrus.Fields{"handle": oldest.handle, "channel": oldest.channel + 1}).Debug("voice stolen")
		p.finish(oldest, now)
	}
	ch := p.free[0]
	p.free = p.free[1:]
	return ch
}

func (p *Pool) finish(v *voice, now float64) {
	if v.sounding {
		p.send(now, midi.NoteOff(v.channel, v.pitch))
	}
	delete(p.voices, v.handle)
	p.free = append(p.free, v.channel)
	p.log.WithFields(logrus.Fields{"handle": v.handle, "channel": v.channel + 1}).Debug("voice released")
}

// ordered returns voices oldest first
func (p *Pool) ordered() []*voice {
	vs := make([]*voice, 0, len(p.voices))
	for _, v := range p.voices {
		vs = append(vs, v)
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].handle < vs[j].handle })
	return vs
}

func (p *Pool) expression(now float64, ch, value uint8) {
	if p.sent[ch].expression == int(value) {
		return
	}
	p.sent[ch].expression = int(value)
	p.send(now, midi.ControlChange(ch, ccExpression, value))
}

func (p *Pool) bend(now float64, ch uint8, value int16) {
	if p.sent[ch].bend == int(value) {
		return
	}
	p.sent[ch].bend = int(value)
	p.send(now, midi.Pitchbend(ch, value))
}

func (p *Pool) send(now float64, msg midi.Message) {
	if err := p.sink.Send(now, msg); err != nil {
		p.log.WithError(err).WithField("msg", msg.String()).Warn("failed to send MIDI message")
	}
}

func clamp7(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 127 {
		return 127
	}
	return uint8(v)
}
