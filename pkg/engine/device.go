package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/drgolem/spatialaudio/pkg/backend"
)

// Device owns a backend playback device and every Context opened against
// it, grounded on ALDevice in original_source/src/context.cpp /
// original_source/src/device.cpp.
type Device struct {
	name string
	be   backend.Backend

	mu       sync.Mutex
	contexts map[*Context]struct{}
}

// OpenDevice opens name (empty string selects the backend's default) on
// be and returns the owning Device.
func OpenDevice(be backend.Backend, name string) (*Device, error) {
	if err := be.OpenDevice(name); err != nil {
		return nil, newErr(KindBackendError, "OpenDevice", err)
	}
	return &Device{name: name, be: be, contexts: make(map[*Context]struct{})}, nil
}

// EnumerateDevices lists every playback device be's backend can see,
// grounded on ALDeviceManager::enumerate.
func EnumerateDevices(be backend.Backend) ([]backend.DeviceInfo, error) {
	infos, err := be.Devices()
	if err != nil {
		return nil, newErr(KindBackendError, "EnumerateDevices", err)
	}
	return infos, nil
}

func (d *Device) Name() string { return d.name }

// CreateContext constructs and registers a new Context on this device.
func (d *Device) CreateContext(cfg ContextConfig) *Context {
	ctx := NewContext(d, d.be, cfg)
	d.mu.Lock()
	d.contexts[ctx] = struct{}{}
	d.mu.Unlock()
	slog.Debug("context created", "device", d.name, "context", ctx.id)
	return ctx
}

func (d *Device) removeContext(ctx *Context) {
	d.mu.Lock()
	delete(d.contexts, ctx)
	d.mu.Unlock()
}

// Close releases the backend device. It fails with ErrInUse while any
// Context remains open.
func (d *Device) Close() error {
	d.mu.Lock()
	n := len(d.contexts)
	d.mu.Unlock()
	if n != 0 {
		return newErr(KindInUse, "Device.Close", fmt.Errorf("%d contexts still open", n))
	}
	if err := d.be.CloseDevice(); err != nil {
		return newErr(KindBackendError, "Device.Close", err)
	}
	return nil
}

// HRTFNames lists the backend's available HRTF profiles.
func (d *Device) HRTFNames() []string { return d.be.HRTFNames() }

func (d *Device) IsHRTFEnabled() bool { return d.be.IsHRTFEnabled() }

func (d *Device) CurrentHRTF() string { return d.be.CurrentHRTF() }

// ResetDevice reopens the backend device in place, used to switch HRTF
// profile or sample rate without tearing down Contexts, per
// ALDevice::reset.
func (d *Device) ResetDevice() error {
	if err := d.be.ResetDevice(); err != nil {
		return newErr(KindBackendError, "Device.ResetDevice", err)
	}
	return nil
}

func (d *Device) Resamplers() []string       { return d.be.Resamplers() }
func (d *Device) DefaultResamplerIndex() int { return d.be.DefaultResamplerIndex() }

// PauseDSP and ResumeDSP suspend/resume the device's mix graph without
// touching any Context's state, per ALDevice::pauseDSP/resumeDSP.
func (d *Device) PauseDSP() error {
	if err := d.be.Suspend(); err != nil {
		return newErr(KindBackendError, "Device.PauseDSP", err)
	}
	return nil
}

func (d *Device) ResumeDSP() error {
	if err := d.be.Process(); err != nil {
		return newErr(KindBackendError, "Device.ResumeDSP", err)
	}
	return nil
}
