package voice

import (
	"errors"
	"testing"

	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/legatoctl/pkg/legato"
)

type sent struct {
	at  float64
	msg midi.Message
}

// recordingSink captures rendered messages
type recordingSink struct {
	msgs []sent
	err  error
}

func (s *recordingSink) Send(atMs float64, msg midi.Message) error {
	s.msgs = append(s.msgs, sent{at: atMs, msg: msg})
	return s.err
}

func (s *recordingSink) reset() { s.msgs = nil }

func (s *recordingSink) noteOns() []uint8 {
	var keys []uint8
	for _, m := range s.msgs {
		var ch, key, vel uint8
		if m.msg.GetNoteOn(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *recordingSink) noteOffs() []uint8 {
	var keys []uint8
	for _, m := range s.msgs {
		var ch, key, vel uint8
		if m.msg.GetNoteOff(&ch, &key, &vel) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *recordingSink) controls(cc uint8) []uint8 {
	var vals []uint8
	for _, m := range s.msgs {
		var ch, c, val uint8
		if m.msg.GetControlChange(&ch, &c, &val) && c == cc {
			vals = append(vals, val)
		}
	}
	return vals
}

func (s *recordingSink) bends() []int16 {
	var vals []int16
	for _, m := range s.msgs {
		var ch uint8
		var rel int16
		var abs uint16
		if m.msg.GetPitchBend(&ch, &rel, &abs) {
			vals = append(vals, rel)
		}
	}
	return vals
}

type testClock struct{ now float64 }

func (c *testClock) ms() float64 { return c.now }

func newTestPool(t *testing.T, channels ...uint8) (*Pool, *recordingSink, *testClock) {
	t.Helper()
	cfg := DefaultConfig()
	if len(channels) > 0 {
		cfg.Channels = channels
	}
	sink := &recordingSink{}
	clk := &testClock{}
	p, err := New(cfg, sink, clk.ms)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, sink, clk
}

func TestDbToExpression(t *testing.T) {
	tests := []struct {
		db   float64
		want uint8
	}{
		{0, 127},
		{6, 127},
		{-6, 64},
		{-20, 13},
		{-99, 0},
		{-100, 0},
	}
	for _, tt := range tests {
		if got := DbToExpression(tt.db); got != tt.want {
			t.Errorf("DbToExpression(%v) = %d, want %d", tt.db, got, tt.want)
		}
	}
}

func TestCentsToBend(t *testing.T) {
	tests := []struct {
		cents, rng float64
		want       int16
	}{
		{0, 2, 0},
		{100, 2, 4096},
		{-200, 2, -8192},
		{200, 2, 8191},
		{-1200, 2, -8192},
		{50, 12, 341},
		{100, 0, 0},
	}
	for _, tt := range tests {
		if got := CentsToBend(tt.cents, tt.rng); got != tt.want {
			t.Errorf("CentsToBend(%v, %v) = %d, want %d", tt.cents, tt.rng, got, tt.want)
		}
	}
}

func TestNewRequiresChannels(t *testing.T) {
	_, err := New(Config{}, &recordingSink{}, func() float64 { return 0 })
	if !errors.Is(err, ErrNoPool) {
		t.Errorf("New() error = %v, want ErrNoPool", err)
	}
	if _, err := New(Config{Channels: []uint8{16}}, &recordingSink{}, func() float64 { return 0 }); err == nil {
		t.Error("New() accepted channel 16")
	}
}

func TestTriggerDefersNoteOn(t *testing.T) {
	p, sink, _ := newTestPool(t)

	h := p.TriggerNote(60, 100)
	if len(sink.msgs) != 0 {
		t.Fatalf("TriggerNote sent %d messages before Advance", len(sink.msgs))
	}
	if ch, ok := p.Channel(h); !ok || ch != 1 {
		t.Errorf("Channel() = %d, %v, want 1, true", ch, ok)
	}

	p.Advance(0)

	if got := sink.controls(ccExpression); len(got) != 1 || got[0] != 127 {
		t.Errorf("expression = %v, want [127]", got)
	}
	if got := sink.bends(); len(got) != 1 || got[0] != 0 {
		t.Errorf("bend = %v, want [0]", got)
	}
	if got := sink.noteOns(); len(got) != 1 || got[0] != 60 {
		t.Errorf("note ons = %v, want [60]", got)
	}
	last := sink.msgs[len(sink.msgs)-1]
	var ch, key, vel uint8
	if !last.msg.GetNoteOn(&ch, &key, &vel) {
		t.Error("NoteOn must follow the channel reset")
	}
}

func TestAdvanceOnlySendsChanges(t *testing.T) {
	p, sink, _ := newTestPool(t)
	p.TriggerNote(60, 100)
	p.Advance(0)
	sink.reset()

	p.Advance(5)
	p.Advance(10)

	if len(sink.msgs) != 0 {
		t.Errorf("idle voice produced %d messages", len(sink.msgs))
	}
}

func TestVolumeRampInterpolates(t *testing.T) {
	p, sink, clk := newTestPool(t)
	h := p.TriggerNote(60, 100)
	p.Advance(0)
	sink.reset()

	p.VolumeRamp(h, 100, -6)
	clk.now = 50
	p.Advance(50)
	clk.now = 100
	p.Advance(100)

	got := sink.controls(ccExpression)
	want := []uint8{90, 64}
	if len(got) != len(want) {
		t.Fatalf("expression = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expression[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestZeroRampSetsStartingPoint(t *testing.T) {
	p, sink, clk := newTestPool(t)
	h := p.TriggerNote(60, 100)
	p.PitchRamp(h, 0, 0, -20)
	p.PitchRamp(h, 100, 0, 0)

	p.Advance(0)
	clk.now = 50
	p.Advance(50)
	clk.now = 100
	p.Advance(100)

	got := sink.bends()
	want := []int16{-819, -410, 0}
	if len(got) != len(want) {
		t.Fatalf("bends = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bend[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestNewRampStartsFromCurrentValue(t *testing.T) {
	p, sink, clk := newTestPool(t, 1)
	h := p.TriggerNote(60, 100)
	p.VolumeRamp(h, 0, -20)
	p.VolumeRamp(h, 100, 0)
	p.Advance(0)

	clk.now = 30
	p.Advance(30)
	sink.reset()

	// fade out while the fade in is still running
	p.VolumeRamp(h, 50, -100)
	var levels []uint8
	for _, now := range []float64{40, 55, 70} {
		clk.now = now
		p.Advance(now)
		if got := sink.controls(ccExpression); len(got) > 0 {
			levels = append(levels, got[len(got)-1])
		}
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] > levels[i-1] {
			t.Errorf("expression rose during the fade out: %v", levels)
		}
	}
	if p.Active() != 1 {
		t.Fatal("voice released before the fade out finished")
	}

	clk.now = 80
	p.Advance(80)
	if p.Active() != 0 {
		t.Errorf("Active() = %d at the end of the fade out, want 0", p.Active())
	}
	if got := sink.noteOffs(); len(got) != 1 || got[0] != 60 {
		t.Errorf("note offs = %v, want [60]", got)
	}
}

func TestLaneRestartsFromCurrentValue(t *testing.T) {
	l := newLane(-99)
	l.push(0, 100, 0)
	if got := l.at(30); got < -69.31 || got > -69.29 {
		t.Fatalf("at(30) = %v, want -69.3", got)
	}
	l.push(30, 50, -100)
	if got := l.at(55); got < -84.66 || got > -84.64 {
		t.Errorf("at(55) = %v, want -84.65", got)
	}
	if got := l.at(80); got != -100 || !l.idle() {
		t.Errorf("at(80) = %v idle=%v, want -100 and idle", got, l.idle())
	}
}

func TestFadeToSilenceReleasesVoice(t *testing.T) {
	p, sink, clk := newTestPool(t, 1)
	h := p.TriggerNote(60, 100)
	p.Advance(0)

	p.VolumeRamp(h, 40, -100)
	clk.now = 20
	p.Advance(20)
	if p.Active() != 1 {
		t.Fatal("voice released before the fade finished")
	}
	clk.now = 40
	p.Advance(40)

	if got := sink.noteOffs(); len(got) != 1 || got[0] != 60 {
		t.Errorf("note offs = %v, want [60]", got)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d, want 0", p.Active())
	}
	// the channel is free again, and the old handle is dead
	p.VolumeRamp(h, 10, 0)
	if next := p.TriggerNote(62, 100); next == h {
		t.Error("handle reused")
	}
}

func TestFadeInFromSilenceKeepsVoice(t *testing.T) {
	p, sink, clk := newTestPool(t)
	h := p.TriggerNote(64, 90)
	p.VolumeRamp(h, 0, -99)
	p.VolumeRamp(h, 100, 0)

	p.Advance(0)

	if got := sink.controls(ccExpression); len(got) != 1 || got[0] != 0 {
		t.Errorf("expression = %v, want [0] before the note starts", got)
	}
	if len(sink.noteOns()) != 1 {
		t.Error("faded-in voice did not start")
	}
	clk.now = 100
	p.Advance(100)
	if got := sink.controls(ccExpression); got[len(got)-1] != 127 {
		t.Errorf("final expression = %d, want 127", got[len(got)-1])
	}
	if p.Active() != 1 {
		t.Error("fade-in released the voice")
	}
}

func TestTerminateNote(t *testing.T) {
	p, sink, _ := newTestPool(t)
	h := p.TriggerNote(60, 100)
	p.Advance(0)

	p.TerminateNote(h)
	p.TerminateNote(h)

	if got := sink.noteOffs(); len(got) != 1 {
		t.Errorf("note offs = %v, want exactly one", got)
	}
}

func TestTerminateBeforeStartIsSilent(t *testing.T) {
	p, sink, _ := newTestPool(t)
	h := p.TriggerNote(60, 100)

	p.TerminateNote(h)
	p.Advance(0)

	if len(sink.msgs) != 0 {
		t.Errorf("unstarted voice sent %d messages", len(sink.msgs))
	}
}

func TestStealsOldestVoice(t *testing.T) {
	p, sink, _ := newTestPool(t, 3, 4)
	a := p.TriggerNote(60, 100)
	p.TriggerNote(62, 100)
	p.Advance(0)

	c := p.TriggerNote(64, 100)

	if got := sink.noteOffs(); len(got) != 1 || got[0] != 60 {
		t.Errorf("note offs = %v, want the oldest voice stolen", got)
	}
	if _, ok := p.Channel(a); ok {
		t.Error("stolen handle still allocated")
	}
	if ch, _ := p.Channel(c); ch != 3 {
		t.Errorf("new voice on channel %d, want the stolen channel 3", ch)
	}
}

func TestChannelsRecycleLeastRecentlyFreed(t *testing.T) {
	p, _, _ := newTestPool(t, 5, 6, 7)
	a := p.TriggerNote(60, 100)
	b := p.TriggerNote(61, 100)

	p.TerminateNote(b)
	p.TerminateNote(a)

	order := []uint8{7, 6, 5}
	for _, want := range order {
		h := p.TriggerNote(70, 100)
		if ch, _ := p.Channel(h); ch != want {
			t.Errorf("allocated channel %d, want %d", ch, want)
		}
	}
}

func TestSetStartOffset(t *testing.T) {
	p, sink, _ := newTestPool(t, 0, 1)

	p.SetStartOffset(0.5)
	p.SetStartOffset(0.5)
	p.SetStartOffset(2)

	got := sink.controls(DefaultOffsetCC)
	want := []uint8{64, 64, 127, 127}
	if len(got) != len(want) {
		t.Fatalf("offset messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offset[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUnknownHandleIgnored(t *testing.T) {
	p, sink, _ := newTestPool(t)

	p.VolumeRamp(legato.Handle(42), 10, -100)
	p.PitchRamp(legato.Handle(42), 10, 1, 0)
	p.TerminateNote(legato.NoHandle)
	p.Advance(0)

	if len(sink.msgs) != 0 {
		t.Errorf("unknown handle produced %d messages", len(sink.msgs))
	}
}

func TestAllOff(t *testing.T) {
	p, sink, _ := newTestPool(t)
	p.TriggerNote(60, 100)
	p.TriggerNote(64, 100)
	p.Advance(0)

	p.AllOff()

	if got := sink.noteOffs(); len(got) != 2 {
		t.Errorf("note offs = %v, want 2", got)
	}
	if p.Active() != 0 {
		t.Errorf("Active() = %d, want 0", p.Active())
	}
}

func TestSendErrorsAreNotFatal(t *testing.T) {
	p, sink, _ := newTestPool(t)
	sink.err = errors.New("port closed")

	p.TriggerNote(60, 100)
	p.Advance(0)

	if p.Active() != 1 {
		t.Error("send error dropped the voice")
	}
}

func TestSinkFunc(t *testing.T) {
	var got []midi.Message
	f := SinkFunc(func(_ float64, msg midi.Message) error {
		got = append(got, msg)
		return nil
	})
	if err := f.Send(0, midi.NoteOn(0, 60, 100)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("SinkFunc forwarded %d messages", len(got))
	}
}
