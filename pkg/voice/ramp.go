package voice

// lane is one ramped parameter of a voice. A new ramp always starts from the
// lane's value at the time it is requested and replaces any running one.
type lane struct {
	value  float64
	active *segment
}

type segment struct {
	start, end float64
	from, to   float64
}

func newLane(value float64) lane {
	return lane{value: value}
}

// push starts a ramp to the target reached durationMs after nowMs
func (l *lane) push(nowMs, durationMs, to float64) {
	l.value = l.at(nowMs)
	l.active = nil
	if durationMs <= 0 {
		l.value = to
		return
	}
	l.active = &segment{
		start: nowMs,
		end:   nowMs + durationMs,
		from:  l.value,
		to:    to,
	}
}

func (l *lane) idle() bool {
	return l.active == nil
}

// at settles a finished segment and returns the value at nowMs
func (l *lane) at(nowMs float64) float64 {
	if l.active == nil {
		return l.value
	}
	s := l.active
	if nowMs >= s.end {
		l.value = s.to
		l.active = nil
		return l.value
	}
	frac := (nowMs - s.start) / (s.end - s.start)
	if frac < 0 {
		frac = 0
	}
	l.value = s.from + (s.to-s.from)*frac
	return l.value
}
