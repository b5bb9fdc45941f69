package engine

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/drgolem/spatialaudio/pkg/atypes"
	"github.com/drgolem/spatialaudio/pkg/backend"
)

// effectIndex holds the backend handle a Context uses for effect slots and
// effects; it keeps no list of the slots or effects allocated.
type effectIndex struct {
	be backend.Backend
	mu sync.Mutex
}

func (e *effectIndex) init(be backend.Backend) {
	e.be = be
}

// AuxiliaryEffectSlot is a reverb/effect send target a Source can route an
// auxiliary send to, per spec.md §4.5. A slot refuses Destroy while any
// Source send still references it (tracked via refCount).
type AuxiliaryEffectSlot struct {
	ctx       *Context
	backendID backend.EffectSlotID
	refCount  atomic.Int32
	effect    *Effect
}

func (ctx *Context) CreateAuxiliaryEffectSlot() (*AuxiliaryEffectSlot, error) {
	if err := ctx.requireCurrent("CreateAuxiliaryEffectSlot"); err != nil {
		return nil, err
	}
	id, err := ctx.backend.GenEffectSlot()
	if err != nil {
		return nil, newErr(KindBackendError, "CreateAuxiliaryEffectSlot", err)
	}
	return &AuxiliaryEffectSlot{ctx: ctx, backendID: id}, nil
}

func (slot *AuxiliaryEffectSlot) retain()  { slot.refCount.Add(1) }
func (slot *AuxiliaryEffectSlot) release() { slot.refCount.Add(-1) }
func (slot *AuxiliaryEffectSlot) IsInUse() bool { return slot.refCount.Load() > 0 }

// SetEffect attaches effect to the slot; every Source send routed to this
// slot picks up the new effect on its next backend parameter flush.
func (slot *AuxiliaryEffectSlot) SetEffect(effect *Effect) error {
	if err := slot.ctx.backend.SetEffectSlotEffect(slot.backendID, effect.backendID); err != nil {
		return newErr(KindBackendError, "AuxiliaryEffectSlot.SetEffect", err)
	}
	slot.effect = effect
	return nil
}

// Destroy releases the slot's backend resource, failing with ErrInUse
// while any Source send still references it.
func (slot *AuxiliaryEffectSlot) Destroy() error {
	if slot.IsInUse() {
		return newErr(KindInUse, "AuxiliaryEffectSlot.Destroy", fmt.Errorf("effect slot still referenced by a source send"))
	}
	if err := slot.ctx.backend.DeleteEffectSlot(slot.backendID); err != nil {
		return newErr(KindBackendError, "AuxiliaryEffectSlot.Destroy", err)
	}
	return nil
}

// ReverbParams holds reverb parameters for CreateReverbEffect. Only Gain
// and GainHF are forwarded to the backend; the other fields are accepted
// and have no effect, whatever the backend supports.
type ReverbParams struct {
	Density     float32
	Diffusion   float32
	Gain        float32
	GainHF      float32
	DecayTime   float32
	// EAX-style fields; like Density, Diffusion and DecayTime they are not
	// forwarded to the backend.
	EAXGainLF     float32
	EchoTime      float32
	ModulationTime float32
}

// Effect wraps one backend reverb effect object.
type Effect struct {
	ctx       *Context
	backendID backend.EffectID
	downgraded bool
}

// CreateReverbEffect allocates a backend effect and applies params.Gain and
// params.GainHF to it through Backend.ApplyReverb; no other field of params
// reaches the backend. If ApplyReverb returns backend.ErrNotSupported, the
// Effect is returned with no parameters applied and marked Downgraded.
func (ctx *Context) CreateReverbEffect(params ReverbParams) (*Effect, error) {
	if err := ctx.requireCurrent("CreateReverbEffect"); err != nil {
		return nil, err
	}
	id, err := ctx.backend.GenEffect()
	if err != nil {
		return nil, newErr(KindBackendError, "CreateReverbEffect", err)
	}

	eff := &Effect{ctx: ctx, backendID: id}
	standard := atypes.FilterParams{Gain: params.Gain, GainHF: params.GainHF}
	applyErr := ctx.backend.ApplyReverb(id, standard)
	if applyErr == backend.ErrNotSupported {
		eff.downgraded = true
		return eff, nil
	}
	if applyErr != nil {
		return nil, newErr(KindBackendError, "CreateReverbEffect", applyErr)
	}
	return eff, nil
}

// Downgraded reports whether the backend refused the reverb parameters
// with backend.ErrNotSupported when this Effect was created.
func (e *Effect) Downgraded() bool { return e.downgraded }

func (e *Effect) Destroy() error {
	if err := e.ctx.backend.DeleteEffect(e.backendID); err != nil {
		return newErr(KindBackendError, "Effect.Destroy", err)
	}
	return nil
}
