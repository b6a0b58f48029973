package legato

import "fmt"

// call is one request the controller made to the host
type call struct {
	op     string
	handle Handle
	pitch  int
	vel    int
	ms     float64
	db     float64
	coarse int
	cents  float64
}

func (c call) String() string {
	return fmt.Sprintf("%s h=%d p=%d v=%d ms=%.2f db=%.0f c=%d ct=%.2f", c.op, c.handle, c.pitch, c.vel, c.ms, c.db, c.coarse, c.cents)
}

// recordingHost implements Host and keeps every request for inspection
type recordingHost struct {
	now      float64
	next     Handle
	calls    []call
	offsets  []float64
	held     map[int]bool
	active   bool
	interval float64
	starts   int
	stops    int
}

func newRecordingHost() *recordingHost {
	return &recordingHost{now: 1000, held: make(map[int]bool)}
}

func (h *recordingHost) TriggerNote(pitch, velocity int) Handle {
	id := h.next
	h.next++
	h.calls = append(h.calls, call{op: "trigger", handle: id, pitch: pitch, vel: velocity})
	return id
}

func (h *recordingHost) TerminateNote(id Handle) {
	h.calls = append(h.calls, call{op: "terminate", handle: id})
}

func (h *recordingHost) VolumeRamp(id Handle, ms, db float64) {
	h.calls = append(h.calls, call{op: "volume", handle: id, ms: ms, db: db})
}

func (h *recordingHost) PitchRamp(id Handle, ms float64, coarse int, cents float64) {
	h.calls = append(h.calls, call{op: "pitch", handle: id, ms: ms, coarse: coarse, cents: cents})
}

func (h *recordingHost) SetStartOffset(v float64) { h.offsets = append(h.offsets, v) }
func (h *recordingHost) NowMs() float64 { return h.now }
func (h *recordingHost) TempoMs(index int) float64 { return 2000 / float64(index+1) }
func (h *recordingHost) IsKeyDown(pitch int) bool { return h.held[pitch] }

func (h *recordingHost) StartTimer(ms float64) {
	h.active = true
	h.interval = ms
	h.starts++
}

func (h *recordingHost) StopTimer() {
	h.active = false
	h.stops++
}

func (h *recordingHost) TimerActive() bool { return h.active }

func (h *recordingHost) advance(ms float64) { h.now += ms }

func (h *recordingHost) reset() {
	h.calls = nil
	h.offsets = nil
}

func (h *recordingHost) count(op string) int {
	n := 0
	for _, c := range h.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (h *recordingHost) find(op string) []call {
	var out []call
	for _, c := range h.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

// runTimer ticks the controller while the timer stays armed, up to limit ticks
func runTimer(c *Controller, h *recordingHost, limit int) int {
	ticks := 0
	for h.active && ticks < limit {
		h.advance(h.interval)
		c.Tick()
		ticks++
	}
	return ticks
}
