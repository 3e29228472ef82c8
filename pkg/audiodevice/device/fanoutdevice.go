package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
)

var ErrPropertiesMismatch = errors.New("sink device properties do not match the fan out device")

// --------------------------------------------------------------------------------
// Fan Out Device (One to Many)

// A FanOutDevice is an AudioSinkDevice that copies every chunk written to it to
// any number of downstream sinks, e.g. a stream writer and a WebRTC device module.
//
// A failing sink does not stop delivery to the others. Write reports every failure
// joined into a single error.
//
// Adding and removing sinks is concurrency safe thanks to a mutex.
type FanOutDevice struct {
	deviceProperties audiodevice.DeviceProperties

	sinksMutex sync.RWMutex
	sinks      []audiodevice.AudioSinkDevice
}

// Create a new FanOutDevice accepting audio with the given properties.
func NewFanOutDevice(properties audiodevice.DeviceProperties) *FanOutDevice {
	return &FanOutDevice{
		deviceProperties: properties,
		sinks:            make([]audiodevice.AudioSinkDevice, 0),
	}
}

func (d *FanOutDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// Add a sink to receive a copy of all future writes.
//
// The sink must accept the same format as this device, wrap it in an
// AudioFormatConversionDevice otherwise.
func (d *FanOutDevice) AddSink(sink audiodevice.AudioSinkDevice) error {
	if sink.GetDeviceProperties() != d.deviceProperties {
		return fmt.Errorf("%w: got %+v, want %+v", ErrPropertiesMismatch, sink.GetDeviceProperties(), d.deviceProperties)
	}
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	d.sinks = append(d.sinks, sink)
	return nil
}

// Remove a previously added sink. Reports whether the sink was found.
func (d *FanOutDevice) RemoveSink(sink audiodevice.AudioSinkDevice) bool {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()
	for i, s := range d.sinks {
		if s == sink {
			d.sinks = append(d.sinks[:i], d.sinks[i+1:]...)
			return true
		}
	}
	return false
}

func (d *FanOutDevice) NumSinks() int {
	d.sinksMutex.RLock()
	defer d.sinksMutex.RUnlock()
	return len(d.sinks)
}

// Write p to every sink. The returned count is always len(p).
func (d *FanOutDevice) Write(p []byte) (int, error) {
	d.sinksMutex.RLock()
	defer d.sinksMutex.RUnlock()

	var err error
	for _, sink := range d.sinks {
		if _, sinkErr := sink.Write(p); sinkErr != nil {
			err = errors.Join(err, sinkErr)
		}
	}
	return len(p), err
}
