package legato

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SetParam changes one setting by name the way a UI control would:
// the value is clamped to the control's range before it is applied.
func (c *Controller) SetParam(name string, v float64) error {
	p, ok := LookupParam(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	if err := c.cfg.Set(name, p.Clamp(v)); err != nil {
		return err
	}
	c.changed(name)
	return nil
}

func (c *Controller) SetMode(m Mode) { c.cfg.Mode = m; c.changed(ParamMode) }
func (c *Controller) SetWholeStepGlide(on bool) { c.cfg.WholeStepGlide = on; c.changed(ParamWholeStepGlide) }
func (c *Controller) SetSameNoteLegato(on bool) { c.cfg.SameNoteLegato = on; c.changed(ParamSameNoteLegato) }
func (c *Controller) SetBendTimeOffset(ms float64) { c.cfg.BendTimeOffset = ms; c.changed(ParamBendTime) }
func (c *Controller) SetMinBend(cents float64) { c.cfg.MinBend = cents; c.changed(ParamMinBend) }
func (c *Controller) SetMaxBend(cents float64) { c.cfg.MaxBend = cents; c.changed(ParamMaxBend) }
func (c *Controller) SetBaseFade(ms float64) { c.cfg.BaseFade = ms; c.changed(ParamFadeTime) }
func (c *Controller) SetFadeOutRatio(pct float64) { c.cfg.FadeOutRatio = pct; c.changed(ParamFadeOutRatio) }
func (c *Controller) SetStartOffset(v float64) { c.cfg.StartOffset = v; c.changed(ParamStartOffset) }
func (c *Controller) SetRate(index int) { c.cfg.Rate = index; c.changed(ParamRate) }

// changed reacts to a setting change and notifies listeners
func (c *Controller) changed(name string) {
	value, _ := c.cfg.Get(name)
	c.log.WithFields(logrus.Fields{"param": name, "value": value}).Debug("setting changed")

	var cleared bool
	switch name {
	case ParamMode:
		c.stopStepper()
		cleared = c.cfg.SameNoteLegato
		c.cfg.SameNoteLegato = false
		c.phrase.RetriggerPitch = NoPitch
		if c.bypassed() {
			c.release()
		}

	case ParamMinBend, ParamMaxBend:
		c.table = NewBendTable(c.cfg.MinBend, c.cfg.MaxBend)

	case ParamFadeTime:
		c.fade = c.cfg.BaseFade

	case ParamRate:
		if c.session != nil && c.host.TimerActive() {
			c.startStepper()
		}

	case ParamSameNoteLegato:
		if !c.cfg.SameNoteLegato && c.phrase.LastEvent != NoHandle && !c.host.IsKeyDown(c.phrase.LastPitch) {
			c.release()
		}
		c.phrase.RetriggerPitch = NoPitch
	}

	c.notify(name)
	if cleared {
		c.notify(ParamSameNoteLegato)
	}
}

func (c *Controller) notify(name string) {
	for _, fn := range c.listeners {
		fn(name, c.cfg)
	}
}
