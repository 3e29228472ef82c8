package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
)

// An AudioSourceDevice that will never produce any audio.
//
// A minimal example of the architecture of an AudioSourceDevice, useful in testing.
type DummyAudioSourceDevice struct {
	properties   audiodevice.DeviceProperties
	shutdownOnce sync.Once
	started      atomic.Bool
	closed       atomic.Bool
}

func NewDummyAudioSourceDevice(properties audiodevice.DeviceProperties) *DummyAudioSourceDevice {
	return &DummyAudioSourceDevice{
		properties: properties,
	}
}

func (d *DummyAudioSourceDevice) Start(ctx context.Context) error {
	if d.closed.Load() {
		return ErrDeviceClosed
	}
	d.started.Store(true)
	return nil
}

func (d *DummyAudioSourceDevice) Started() bool {
	return d.started.Load()
}

func (d *DummyAudioSourceDevice) Close() error {
	d.shutdownOnce.Do(func() {
		d.closed.Store(true)
	})
	return nil
}

func (d *DummyAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// An AudioSinkDevice that consumes all audio without any further actions,
// other than counting it.
//
// A minimal example of the architecture of an AudioSinkDevice, useful in testing.
type DummyAudioSinkDevice struct {
	properties   audiodevice.DeviceProperties
	bytesWritten atomic.Int64
	writes       atomic.Int64
}

func NewDummyAudioSinkDevice(properties audiodevice.DeviceProperties) *DummyAudioSinkDevice {
	return &DummyAudioSinkDevice{
		properties: properties,
	}
}

func (d *DummyAudioSinkDevice) Write(p []byte) (int, error) {
	d.bytesWritten.Add(int64(len(p)))
	d.writes.Add(1)
	return len(p), nil
}

func (d *DummyAudioSinkDevice) BytesWritten() int64 {
	return d.bytesWritten.Load()
}

func (d *DummyAudioSinkDevice) Writes() int64 {
	return d.writes.Load()
}

func (d *DummyAudioSinkDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}
