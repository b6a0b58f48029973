package legato

import "testing"

func startSession(t *testing.T, mode Mode, from, to int) (*Controller, *recordingHost) {
	t.Helper()
	c, h := newTestController(mode)
	c.NoteOn(Note{Pitch: from, Velocity: 100})
	h.advance(200)
	if d := c.NoteOn(Note{Pitch: to, Velocity: 100}); d != Consume {
		t.Fatalf("NoteOn() = %v, want consume", d)
	}
	return c, h
}

func TestGlideExtensionDefersTransition(t *testing.T) {
	c, h := startSession(t, ModeGlide, 60, 72)

	if h.count("trigger") != 1 || h.count("volume") != 0 || h.count("pitch") != 0 {
		t.Errorf("extension issued a crossfade: %v", h.calls)
	}
	if !h.active {
		t.Fatal("timer not started")
	}
	// rate index 0 is 2000ms in the test host, spread over 12 steps
	if want := 2000.0 / 12; !near(h.interval, want) {
		t.Errorf("interval = %v, want %v", h.interval, want)
	}
	s := c.State().Session
	if s == nil || s.Origin != 60 || s.Target != 72 || s.Current != 60 {
		t.Errorf("session = %+v", s)
	}
	if c.State().Phrase.LastPitch != 72 {
		t.Errorf("LastPitch = %d, want 72", c.State().Phrase.LastPitch)
	}
}

func TestGlideTickCount(t *testing.T) {
	tests := []struct {
		name      string
		from, to  int
		wholeStep bool
		steps     []int
	}{
		{"chromatic up", 60, 72, false, []int{61, 62, 63, 64, 65, 66, 67, 68, 69, 70, 71, 72}},
		{"whole step up", 60, 72, true, []int{62, 64, 66, 68, 70, 72}},
		{"chromatic down", 64, 60, false, []int{63, 62, 61, 60}},
		{"whole step odd interval stops short", 60, 65, true, []int{62, 64}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, h := newTestController(ModeGlide)
			c.SetWholeStepGlide(tt.wholeStep)
			c.NoteOn(Note{Pitch: tt.from, Velocity: 100})
			h.advance(200)
			c.NoteOn(Note{Pitch: tt.to, Velocity: 100})
			h.reset()

			ticks := runTimer(c, h, 100)

			triggers := h.find("trigger")
			if len(triggers) != len(tt.steps) {
				t.Fatalf("got %d steps %v, want %v", len(triggers), triggers, tt.steps)
			}
			for i, p := range tt.steps {
				if triggers[i].pitch != p {
					t.Errorf("step %d pitch = %d, want %d", i, triggers[i].pitch, p)
				}
			}
			if ticks != len(tt.steps)+1 {
				t.Errorf("timer ran %d ticks, want %d steps plus the terminal tick", ticks, len(tt.steps))
			}
			if h.active {
				t.Error("timer still active after reaching target")
			}
		})
	}
}

func TestGlideStepRamps(t *testing.T) {
	c, h := startSession(t, ModeGlide, 62, 60)
	h.reset()

	c.Tick()

	ms := h.interval
	want := []call{
		{op: "pitch", handle: 0, ms: ms, cents: -100},
		{op: "volume", handle: 0, ms: ms, db: -100},
		{op: "trigger", handle: 1, pitch: 61, vel: 100},
		{op: "volume", handle: 1, ms: 0, db: -99},
		{op: "volume", handle: 1, ms: ms, db: 0},
		{op: "pitch", handle: 1, ms: 0, cents: 100},
		{op: "pitch", handle: 1, ms: ms, cents: 0},
	}
	if len(h.calls) != len(want) {
		t.Fatalf("calls = %v", h.calls)
	}
	for i, w := range want {
		got := h.calls[i]
		if got.op != w.op || got.handle != w.handle || got.pitch != w.pitch || !near(got.ms, w.ms) || got.db != w.db || got.cents != w.cents {
			t.Errorf("call %d = %v, want %v", i, got, w)
		}
	}
}

func TestTrillAlternates(t *testing.T) {
	c, h := startSession(t, ModeTrill, 60, 64)
	h.reset()

	if want := 2000.0; !near(h.interval, want) {
		t.Errorf("trill interval = %v, want %v (not divided by interval)", h.interval, want)
	}

	ticks := runTimer(c, h, 9)
	if ticks != 9 {
		t.Fatalf("trill stopped after %d ticks", ticks)
	}
	triggers := h.find("trigger")
	for i, tr := range triggers {
		want := 64
		if i%2 == 1 {
			want = 60
		}
		if tr.pitch != want {
			t.Errorf("tick %d pitch = %d, want %d", i, tr.pitch, want)
		}
	}
	// trills reuse the interval's bend amount instead of a full semitone
	for _, p := range h.find("pitch") {
		if p.ms > 0 && p.cents != 0 && p.cents != 20 {
			t.Errorf("trill bend = %v, want 20", p.cents)
		}
	}
	if !h.active {
		t.Error("trill must keep running until cancelled")
	}
}

func TestNoteOnPreemptsStepping(t *testing.T) {
	c, h := startSession(t, ModeTrill, 60, 64)
	runTimer(c, h, 3)

	h.advance(200)
	c.NoteOn(Note{Pitch: 67, Velocity: 100})

	if h.stops < 1 {
		t.Error("note-on did not stop the running timer")
	}
	s := c.State().Session
	if s == nil || s.Origin != 64 || s.Target != 67 {
		t.Errorf("session = %+v, want a fresh 64 -> 67 session", s)
	}
}

func TestNoteOffStopsStepping(t *testing.T) {
	c, h := startSession(t, ModeGlide, 60, 72)
	runTimer(c, h, 3)
	h.reset()

	c.NoteOff(Note{Pitch: 60})

	if h.active {
		t.Error("timer still active after note-off")
	}
	c.Tick()
	if h.count("trigger") != 0 {
		t.Errorf("stale tick produced a step: %v", h.calls)
	}
}

func TestRateChangeRestartsTimer(t *testing.T) {
	c, h := startSession(t, ModeTrill, 60, 64)
	starts := h.starts

	c.SetRate(3)

	if h.starts != starts+1 {
		t.Fatalf("timer starts = %d, want %d", h.starts, starts+1)
	}
	if want := 500.0; !near(h.interval, want) {
		t.Errorf("interval = %v, want %v", h.interval, want)
	}
}

func TestRateChangeWhileIdleWaits(t *testing.T) {
	c, h := newTestController(ModeGlide)

	c.SetRate(4)

	if h.starts != 0 {
		t.Errorf("idle rate change started the timer")
	}
}

func TestModeChangeStopsStepping(t *testing.T) {
	c, h := startSession(t, ModeGlide, 60, 72)

	c.SetMode(ModeLegato)

	if h.active {
		t.Error("timer still active after mode change")
	}
	if c.State().Session != nil {
		t.Error("session survived mode change")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c, h := newTestController(ModeGlide)

	c.stopStepper()
	c.stopStepper()

	if h.stops != 0 {
		t.Errorf("stopping an idle stepper called StopTimer %d times", h.stops)
	}
}

func TestSteppingKeepsTranspose(t *testing.T) {
	tests := []struct {
		mode  Mode
		want  []int
		ticks int
	}{
		{ModeGlide, []int{72, 73, 74}, 3},
		{ModeTrill, []int{72, 74, 72, 74}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			c, h := newTestController(tt.mode)
			c.NoteOn(Note{Pitch: 60, Velocity: 100, Transpose: 12})
			h.advance(200)
			c.NoteOn(Note{Pitch: 62, Velocity: 100, Transpose: 12})
			runTimer(c, h, tt.ticks)

			triggers := h.find("trigger")
			if len(triggers) != len(tt.want) {
				t.Fatalf("triggers = %v, want pitches %v", triggers, tt.want)
			}
			for i, p := range tt.want {
				if triggers[i].pitch != p {
					t.Errorf("trigger %d pitch = %d, want %d", i, triggers[i].pitch, p)
				}
			}
			if got := c.State().Phrase.LastPitch; got != 62 {
				t.Errorf("LastPitch = %d, want the untransposed 62", got)
			}
		})
	}
}
