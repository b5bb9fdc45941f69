package engine

import "github.com/drgolem/spatialaudio/pkg/atypes"

// Listener is a thin state proxy onto the backend's listener object, per
// spec.md §2 ("no algorithmic content"). It is owned exclusively by its
// Context.
type Listener struct {
	ctx      *Context
	gain     float32
	position atypes.Vector3
	velocity atypes.Vector3
	at, up   atypes.Vector3
}

func (l *Listener) bind(ctx *Context) {
	l.ctx = ctx
	l.gain = 1
	l.at = atypes.Vector3{Z: -1}
	l.up = atypes.Vector3{Y: 1}
}

func (l *Listener) SetGain(gain float32) error {
	l.gain = gain
	return wrapBackendErr("Listener.SetGain", l.ctx.backend.SetListenerGain(gain))
}

func (l *Listener) Gain() float32 { return l.gain }

func (l *Listener) SetPosition(pos atypes.Vector3) error {
	l.position = pos
	return wrapBackendErr("Listener.SetPosition", l.ctx.backend.SetListenerPosition(pos))
}

func (l *Listener) Position() atypes.Vector3 { return l.position }

func (l *Listener) SetVelocity(vel atypes.Vector3) error {
	l.velocity = vel
	return wrapBackendErr("Listener.SetVelocity", l.ctx.backend.SetListenerVelocity(vel))
}

func (l *Listener) Velocity() atypes.Vector3 { return l.velocity }

func (l *Listener) SetOrientation(at, up atypes.Vector3) error {
	l.at, l.up = at, up
	return wrapBackendErr("Listener.SetOrientation", l.ctx.backend.SetListenerOrientation(at, up))
}

func (l *Listener) Orientation() (at, up atypes.Vector3) { return l.at, l.up }

func wrapBackendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return newErr(KindBackendError, op, err)
}
