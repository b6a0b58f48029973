package host

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/james-see/legatoctl/pkg/legato"
	"github.com/james-see/legatoctl/pkg/tempo"
	"github.com/james-see/legatoctl/pkg/voice"
)

// DefaultTailMs is how long rendering continues after the last input event
const DefaultTailMs = 2000.0

const defaultResolution = 480

// Offline drives the controller from a virtual clock. Timer ticks and ramp
// rendering happen at their exact scheduled times between input events.
type Offline struct {
	*engine

	now        float64
	active     bool
	interval   float64
	nextTick   float64
	nextRender float64
}

// Result summarises a render
type Result struct {
	Stats
	Tempo      float64 `json:"bpm"`
	DurationMs float64 `json:"durationMs"`
	Messages   int     `json:"messagesOut"`
}

// NewOffline creates an offline runtime rendering to sink
func NewOffline(sink voice.Sink, opts Options) (*Offline, error) {
	o := &Offline{}
	e, err := newEngine(o, sink, opts)
	if err != nil {
		return nil, err
	}
	o.engine = e
	return o, nil
}

// NowMs is the virtual time
func (o *Offline) NowMs() float64 { return o.now }

// StartTimer schedules the first tick one interval from now
func (o *Offline) StartTimer(intervalMs float64) {
	o.active = true
	o.interval = math.Max(intervalMs, 0.001)
	o.nextTick = o.now + o.interval
}

// StopTimer cancels the step timer
func (o *Offline) StopTimer() { o.active = false }

// TimerActive reports whether the step timer is running
func (o *Offline) TimerActive() bool { return o.active }

// AdvanceTo runs due timer ticks and render steps up to t and sets the clock to t
func (o *Offline) AdvanceTo(t float64) {
	for {
		next := o.nextRender
		tick := o.active && o.nextTick <= next
		if tick {
			next = o.nextTick
		}
		if next > t {
			break
		}
		o.now = next
		if tick {
			o.nextTick = o.now + o.interval
			o.ctrl.Tick()
		} else {
			o.nextRender = o.now + RenderIntervalMs
		}
		o.Advance(o.now)
	}
	if t > o.now {
		o.now = t
	}
}

// Feed advances to atMs and handles msg there
func (o *Offline) Feed(atMs float64, msg midi.Message) {
	o.AdvanceTo(atMs)
	o.handle(msg)
	o.Advance(o.now)
}

// Finish renders tailMs past the current time and releases every voice
func (o *Offline) Finish(tailMs float64) {
	o.AdvanceTo(o.now + tailMs)
	o.StopTimer()
	o.AllOff()
}

// Stats returns the input counters
func (o *Offline) Stats() (Stats, error) { return o.stats, nil }

// Controller exposes the controller; the offline runtime is single threaded
func (o *Offline) Controller() *legato.Controller { return o.ctrl }

// Do runs fn against the controller and renders its effect at the current time
func (o *Offline) Do(fn func(*legato.Controller)) error {
	fn(o.ctrl)
	o.Advance(o.now)
	return nil
}

// Reset silences everything and forgets the phrase
func (o *Offline) Reset() error {
	o.reset()
	return nil
}

// timedEvent is a channel message at an absolute time
type timedEvent struct {
	atMs float64
	msg  midi.Message
}

// Recorder collects rendered messages for writing to a file
type Recorder struct {
	events []timedEvent
}

// Send records msg at atMs
func (r *Recorder) Send(atMs float64, msg midi.Message) error {
	r.events = append(r.events, timedEvent{atMs: atMs, msg: msg})
	return nil
}

// Len returns the number of recorded messages
func (r *Recorder) Len() int { return len(r.events) }

// WriteSMF writes the recorded messages as a single-track SMF at bpm
func (r *Recorder) WriteSMF(w io.Writer, bpm float64, resolution uint16) error {
	if resolution == 0 {
		resolution = defaultResolution
	}
	events := make([]timedEvent, len(r.events))
	copy(events, r.events)
	sort.SliceStable(events, func(i, j int) bool { return events[i].atMs < events[j].atMs })

	s := smf.New()
	s.TimeFormat = smf.MetricTicks(resolution)

	var track smf.Track
	track.Add(0, smf.MetaTempo(bpm))

	var last uint32
	for _, ev := range events {
		at := uint32(math.Round(ev.atMs * bpm * float64(resolution) / 60000))
		if at < last {
			at = last
		}
		track.Add(at-last, smf.Message(ev.msg))
		last = at
	}
	track.Close(0)

	if err := s.Add(track); err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}
	if _, err := s.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write MIDI: %w", err)
	}
	return nil
}

// Render plays an SMF through a fresh controller and writes the result as a
// new SMF. The tempo comes from the file's first tempo event.
func Render(r io.Reader, w io.Writer, opts Options, tailMs float64) (Result, error) {
	s, err := smf.ReadFrom(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to parse MIDI: %w", err)
	}

	resolution := uint16(defaultResolution)
	if mt, ok := s.TimeFormat.(smf.MetricTicks); ok {
		resolution = mt.Resolution()
	}
	bpm := tempo.DefaultBPM
	if changes := s.TempoChanges(); len(changes) > 0 && changes[0].BPM > 0 {
		bpm = changes[0].BPM
	}
	opts.BPM = bpm

	events := readEvents(s, bpm, resolution)

	rec := &Recorder{}
	o, err := NewOffline(rec, opts)
	if err != nil {
		return Result{}, err
	}
	o.log.WithFields(logrus.Fields{"bpm": bpm, "events": len(events), "resolution": resolution}).Info("rendering")

	for _, ev := range events {
		o.Feed(ev.atMs, ev.msg)
	}
	o.Finish(tailMs)

	if err := rec.WriteSMF(w, bpm, resolution); err != nil {
		return Result{}, err
	}
	return Result{
		Stats:      o.stats,
		Tempo:      bpm,
		DurationMs: o.now,
		Messages:   rec.Len(),
	}, nil
}

// readEvents flattens every track into channel messages ordered by time.
// Tempo changes after the first are not followed.
func readEvents(s *smf.SMF, bpm float64, resolution uint16) []timedEvent {
	var events []timedEvent
	for _, track := range s.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			msg := ev.Message
			// channel voice messages only: status 0x80-0xEF
			if len(msg) < 2 || msg[0] < 0x80 || msg[0] >= 0xF0 {
				continue
			}
			events = append(events, timedEvent{
				atMs: float64(tick) * 60000 / bpm / float64(resolution),
				msg:  midi.Message(msg),
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].atMs < events[j].atMs })
	return events
}
