package legato

import "github.com/sirupsen/logrus"

// glideStepCents is the bend used between two glide steps, one full semitone
const glideStepCents = 100.0

// session is a running glide or trill between two pitches
type session struct {
	origin  int
	target  int
	current int
	parity  int
	rate    float64 // seconds per step
	bend    float64 // cents for the current step
	ticks   int
}

// SessionView is the exported form of a running glide or trill
type SessionView struct {
	Origin  int     `json:"origin"`
	Target  int     `json:"target"`
	Current int     `json:"current"`
	RateMs  float64 `json:"rateMs"`
	Bend    float64 `json:"bendCents"`
	Ticks   int     `json:"ticks"`
}

func (s *session) view() SessionView {
	return SessionView{
		Origin:  s.origin,
		Target:  s.target,
		Current: s.current,
		RateMs:  s.rate * 1000,
		Bend:    s.bend,
		Ticks:   s.ticks,
	}
}

func (s *session) direction() int {
	if s.target > s.origin {
		return 1
	}
	return -1
}

// reached reports whether current has arrived at or gone past the target
func (s *session) reached() bool {
	if s.target > s.origin {
		return s.current > s.target
	}
	if s.target < s.origin {
		return s.current < s.target
	}
	return true
}

func (c *Controller) stepRate() float64 {
	s := c.session
	return StepRate(absInt(s.target-s.origin), c.phrase.LastVelocity, c.cfg.Rate, c.cfg.Mode == ModeGlide, c.host.TempoMs)
}

// startStepper (re)arms the host timer for the current session
func (c *Controller) startStepper() {
	c.session.rate = c.stepRate()
	c.host.StartTimer(c.session.rate * 1000)
}

// stopStepper cancels every pending tick. Stopping twice is harmless.
func (c *Controller) stopStepper() {
	if c.host.TimerActive() {
		c.host.StopTimer()
	}
	c.session = nil
}

// Tick advances a running glide or trill by one step. The host calls it on
// every timer period.
func (c *Controller) Tick() {
	if c.bypassed() || c.session == nil {
		return
	}
	s := c.session

	switch c.cfg.Mode {
	case ModeGlide:
		step := 1
		if c.cfg.WholeStepGlide {
			step = 2
		}
		s.current += s.direction() * step
		if c.phrase.LastEvent == NoHandle || s.reached() {
			s.origin = s.target
			s.current = s.target
			c.log.WithField("pitch", s.target).Debug("glide reached target")
			c.stopStepper()
			return
		}
		s.bend = glideStepCents * float64(s.direction())
	case ModeTrill:
		s.parity = 1 - s.parity
		if s.parity == 1 {
			s.current = s.target
		} else {
			s.current = s.origin
		}
		s.bend = c.amount
	default:
		c.stopStepper()
		return
	}

	s.ticks++
	c.step(s)
}

// step crossfades the sounding note into a new note at the session's current pitch
// with opposing pitch ramps, so the sequence of notes sounds like one moving pitch
func (c *Controller) step(s *session) {
	ms := s.rate * 1000
	old := c.phrase.LastEvent
	c.host.PitchRamp(old, ms, 0, s.bend)
	c.host.VolumeRamp(old, ms, -100)

	ev := c.host.TriggerNote(s.current+c.phrase.Transpose, c.phrase.LastVelocity)
	c.host.VolumeRamp(ev, 0, -99)
	c.host.VolumeRamp(ev, ms, 0)
	c.host.PitchRamp(ev, 0, 0, -s.bend)
	c.host.PitchRamp(ev, ms, 0, 0)
	c.phrase.LastEvent = ev

	c.log.WithFields(logrus.Fields{"pitch": s.current, "tick": s.ticks, "event": ev}).Debug("step")
}
