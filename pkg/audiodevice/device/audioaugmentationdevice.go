package device

import (
	"math"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

// Middle-man processing device to handle audio augmentations,
// such as volume controls.
//
// Bytes written to this device are S16LE audio, augmented and written on to
// the sink in the same format.
type AudioAugmentationDevice struct {
	sink audiodevice.AudioSinkDevice

	mu                    sync.Mutex
	augmentationFunctions []audioAugmentationFunction
	volumeAdjustMagnitude float32
	partial               []byte
	pcmFrame              frame.PCMFrame
	outBytes              []byte
}

// Create a new AudioAugmentationDevice in front of sink, automatically adding
// audioAugmentationFunctions:
//   - volumeAdjust (controlled with AudioAugmentationDevice.SetVolumeAdjustMagnitude)
//     (0.0 for mute, no cap on volume, but beware of clipping)
func NewAudioAugmentationDevice(sink audiodevice.AudioSinkDevice) *AudioAugmentationDevice {
	d := &AudioAugmentationDevice{
		sink:                  sink,
		volumeAdjustMagnitude: 1.0,
	}
	d.augmentationFunctions = []audioAugmentationFunction{
		d.volumeAdjust,
	}
	return d
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Augment a chunk of S16LE audio and write it downstream. The returned count is
// always len(p), the bytes are consumed even when the sink fails.
func (d *AudioAugmentationDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.volumeAdjustMagnitude == 1.0 && len(d.partial) == 0 {
		_, err := d.sink.Write(p)
		return len(p), err
	}

	// Samples may be split across writes
	data := p
	if len(d.partial) > 0 {
		data = append(d.partial, p...)
	}
	whole := len(data) - len(data)%audiodevice.BytesPerSample
	d.partial = append(d.partial[:0:0], data[whole:]...)

	d.pcmFrame = frame.S16LEToPCMFrame(data[:whole], d.pcmFrame)
	for _, f := range d.augmentationFunctions {
		d.pcmFrame = f(d.pcmFrame)
	}
	d.outBytes = frame.PCMFrameToS16LE(d.pcmFrame, d.outBytes)

	if _, err := d.sink.Write(d.outBytes); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// The device properties of the incoming and outgoing audio are identical.
func (d *AudioAugmentationDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sink.GetDeviceProperties()
}

// --------------------------------------------------------------------------------
// Methods relating to changing the augmentation functions

// Set the volumeAdjustMagnitude to a new value. Negative and NaN values mute.
// 0.0 means muted, 1.0 is natural scaling, technically uncapped but
// samples clip if values are made too large.
func (d *AudioAugmentationDevice) SetVolumeAdjustMagnitude(volumeAdjustMagnitude float32) {
	if volumeAdjustMagnitude < 0.0 || math.IsNaN(float64(volumeAdjustMagnitude)) {
		volumeAdjustMagnitude = 0.0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volumeAdjustMagnitude = volumeAdjustMagnitude
}

func (d *AudioAugmentationDevice) GetVolumeAdjustMagnitude() float32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volumeAdjustMagnitude
}

// --------------------------------------------------------------------------------

// An audioAugmentationFunction returns a PCMFrame with the same properties as
// sourceFrame, usually the same underlying memory.
type audioAugmentationFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

func (d *AudioAugmentationDevice) volumeAdjust(sourceFrame frame.PCMFrame) frame.PCMFrame {
	for i := range sourceFrame {
		sourceFrame[i] *= d.volumeAdjustMagnitude
	}
	return sourceFrame
}
