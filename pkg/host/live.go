package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register MIDI driver

	"github.com/james-see/legatoctl/pkg/legato"
	"github.com/james-see/legatoctl/pkg/voice"
)

// Live runs the controller in real time. A single goroutine owns the
// controller; MIDI input, timer ticks, rendering and Do calls are all
// funnelled through one channel.
type Live struct {
	*engine

	start   time.Time
	calls   chan func()
	done    chan struct{}
	stopped chan struct{}

	timer    *time.Timer
	interval time.Duration
	active   bool
	gen      uint64
}

// NewLive creates a live runtime rendering to sink. Nothing happens until Run.
func NewLive(sink voice.Sink, opts Options) (*Live, error) {
	l := &Live{
		start:   time.Now(),
		calls:   make(chan func(), 256),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	e, err := newEngine(l, sink, opts)
	if err != nil {
		return nil, err
	}
	l.engine = e
	return l, nil
}

// NowMs is the time since the runtime was created
func (l *Live) NowMs() float64 {
	return float64(time.Since(l.start)) / float64(time.Millisecond)
}

// StartTimer replaces any running step timer
func (l *Live) StartTimer(intervalMs float64) {
	l.stopTimer()
	l.active = true
	l.interval = time.Duration(intervalMs * float64(time.Millisecond))
	l.arm()
}

// StopTimer cancels the step timer. A tick already queued is discarded.
func (l *Live) StopTimer() {
	l.stopTimer()
}

// TimerActive reports whether the step timer is running
func (l *Live) TimerActive() bool {
	return l.active
}

func (l *Live) stopTimer() {
	l.gen++
	l.active = false
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Live) arm() {
	gen := l.gen
	l.timer = time.AfterFunc(l.interval, func() {
		l.post(func() { l.tick(gen) })
	})
}

func (l *Live) tick(gen uint64) {
	if gen != l.gen || !l.active {
		return
	}
	l.ctrl.Tick()
	if gen == l.gen && l.active {
		l.arm()
	}
	l.Advance(l.NowMs())
}

// post queues fn on the runtime goroutine. It reports false once the
// runtime has stopped.
func (l *Live) post(fn func()) bool {
	select {
	case l.calls <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Input queues an incoming MIDI message
func (l *Live) Input(msg midi.Message) {
	l.post(func() {
		l.handle(msg)
		l.Advance(l.NowMs())
	})
}

// Do runs fn on the runtime goroutine with exclusive access to the
// controller and waits for it to finish.
func (l *Live) Do(fn func(*legato.Controller)) error {
	finished := make(chan struct{})
	ok := l.post(func() {
		defer close(finished)
		fn(l.ctrl)
		l.Advance(l.NowMs())
	})
	if !ok {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.stopped:
		return ErrClosed
	}
}

// Reset silences everything and forgets the phrase
func (l *Live) Reset() error {
	finished := make(chan struct{})
	if !l.post(func() { defer close(finished); l.reset() }) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.stopped:
		return ErrClosed
	}
}

// Stats returns the input counters
func (l *Live) Stats() (Stats, error) {
	var s Stats
	err := l.Do(func(*legato.Controller) { s = l.stats })
	return s, err
}

// Run processes events until ctx is cancelled. All voices are released on
// the way out.
func (l *Live) Run(ctx context.Context) error {
	render := time.NewTicker(time.Duration(RenderIntervalMs * float64(time.Millisecond)))
	defer render.Stop()
	defer close(l.stopped)

	l.log.Info("live runtime started")
	for {
		select {
		case <-ctx.Done():
			close(l.done)
			l.stopTimer()
			l.reset()
			l.log.Info("live runtime stopped")
			return ctx.Err()
		case fn := <-l.calls:
			fn()
		case <-render.C:
			l.Advance(l.NowMs())
		}
	}
}

// Ports lists the available MIDI input and output port names
func Ports() (ins, outs []string) {
	for _, p := range midi.GetInPorts() {
		ins = append(ins, p.String())
	}
	for _, p := range midi.GetOutPorts() {
		outs = append(outs, p.String())
	}
	return ins, outs
}

// FindInPort returns the first input port whose name contains name
func FindInPort(name string) (drivers.In, error) {
	for _, p := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(p.String()), strings.ToLower(name)) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: input %q", ErrPortNotFound, name)
}

// FindOutPort returns the first output port whose name contains name
func FindOutPort(name string) (drivers.Out, error) {
	for _, p := range midi.GetOutPorts() {
		if strings.Contains(strings.ToLower(p.String()), strings.ToLower(name)) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: output %q", ErrPortNotFound, name)
}

// PortSink sends rendered messages straight to an output port
func PortSink(out drivers.Out) (voice.Sink, error) {
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output %s: %w", out, err)
	}
	return voice.SinkFunc(func(_ float64, msg midi.Message) error {
		return send(msg)
	}), nil
}

// Discard is a sink for runtimes without an output port
var Discard voice.Sink = voice.SinkFunc(func(float64, midi.Message) error { return nil })

// Listen feeds an input port into the runtime. The returned function stops
// listening.
func (l *Live) Listen(in drivers.In) (func(), error) {
	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		l.Input(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", in, err)
	}
	l.log.WithFields(logrus.Fields{"port": in.String()}).Info("listening for MIDI input")
	return stop, nil
}

// CloseDriver releases the MIDI driver
func CloseDriver() {
	midi.CloseDriver()
}
