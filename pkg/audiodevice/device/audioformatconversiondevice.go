package device

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
	"github.com/oov/audio/resampler"
)

const resampleQuality = 10

var errUnsupportedChannelConversion = errors.New("only mono and stereo audio can be converted")

// Middle-man processing device to handle format mismatches
// between the source data format and the sink data format.
//
// e.g. if the source format is mono, but the sink format specifies stereo,
// this device will handle the conversion.
//
// Bytes written to this device are in the source format, and bytes leaving
// it (written to the downstream sink) are in the sink format.
type AudioFormatConversionDevice struct {
	sourceProperties audiodevice.DeviceProperties
	sink             audiodevice.AudioSinkDevice

	// The functions to apply when processing the source data to sink format
	formatConversionFunctions []audioFormatConversionFunction

	mu sync.Mutex
	// Trailing bytes of a source sample frame split across two writes
	partial  []byte
	pcmFrame frame.PCMFrame
	outBytes []byte
}

// Create a new AudioFormatConversionDevice converting from sourceProperties
// to the properties of sink.
func NewAudioFormatConversionDevice(
	sourceProperties audiodevice.DeviceProperties,
	sink audiodevice.AudioSinkDevice,
) (*AudioFormatConversionDevice, error) {
	sinkProperties := sink.GetDeviceProperties()
	for _, numChannels := range []int{sourceProperties.NumChannels, sinkProperties.NumChannels} {
		if numChannels != 1 && numChannels != 2 {
			return nil, errUnsupportedChannelConversion
		}
	}

	formatConversionFunctions := make([]audioFormatConversionFunction, 0)

	if sourceProperties.NumChannels == 1 && sinkProperties.NumChannels == 2 {
		slog.Debug("adding mono to stereo")
		formatConversionFunctions = append(formatConversionFunctions, monoToStereo())
	}
	if sourceProperties.NumChannels == 2 && sinkProperties.NumChannels == 1 {
		slog.Debug("adding stereo to mono")
		formatConversionFunctions = append(formatConversionFunctions, stereoToMono())
	}
	if sourceProperties.SampleRate != sinkProperties.SampleRate {
		slog.Debug("adding resampler")
		formatConversionFunctions = append(formatConversionFunctions, newResampleFunction(sourceProperties, sinkProperties))
	}

	return &AudioFormatConversionDevice{
		sourceProperties:          sourceProperties,
		sink:                      sink,
		formatConversionFunctions: formatConversionFunctions,
	}, nil
}

// Convert a chunk of S16LE audio in the source format and write it downstream.
//
// The returned count is always len(p), the bytes are consumed even when the
// downstream sink fails.
func (d *AudioFormatConversionDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.formatConversionFunctions) == 0 {
		_, err := d.sink.Write(p)
		return len(p), err
	}

	// Only whole sample frames can be converted, keep the remainder for next time
	data := p
	if len(d.partial) > 0 {
		data = append(d.partial, p...)
	}
	bytesPerFrame := d.sourceProperties.BytesPerFrame()
	whole := len(data) - len(data)%bytesPerFrame
	d.partial = append(d.partial[:0:0], data[whole:]...)
	if whole == 0 {
		return len(p), nil
	}

	d.pcmFrame = frame.S16LEToPCMFrame(data[:whole], d.pcmFrame)
	pcmFrame := d.pcmFrame
	for _, f := range d.formatConversionFunctions {
		pcmFrame = f(pcmFrame)
	}
	if len(pcmFrame) == 0 {
		return len(p), nil
	}

	d.outBytes = frame.PCMFrameToS16LE(pcmFrame, d.outBytes)
	if _, err := d.sink.Write(d.outBytes); err != nil {
		// The input is already consumed into the conversion state
		return len(p), err
	}
	return len(p), nil
}

// GetDeviceProperties of the AudioFormatConversionDevice returns the
// device properties of the ENTERING data, i.e. what must be written to this device.
//
// If you need the properties of the data leaving this device, call GetSinkDeviceProperties()
func (d *AudioFormatConversionDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.sourceProperties
}

func (d *AudioFormatConversionDevice) GetSinkDeviceProperties() audiodevice.DeviceProperties {
	return d.sink.GetDeviceProperties()
}

// --------------------------------------------------------------------------------

type audioFormatConversionFunction func(sourceFrame frame.PCMFrame) frame.PCMFrame

// Grow buf to hold n samples, reusing it when possible
func ensureLen(buf frame.PCMFrame, n int) frame.PCMFrame {
	if cap(buf) < n {
		return make(frame.PCMFrame, n)
	}
	return buf[:n]
}

func monoToStereo() audioFormatConversionFunction {
	var buf frame.PCMFrame
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		buf = ensureLen(buf, 2*len(sourceFrame))
		for i, v := range sourceFrame {
			buf[2*i] = v
			buf[2*i+1] = v
		}
		return buf
	}
}

func stereoToMono() audioFormatConversionFunction {
	var buf frame.PCMFrame
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		buf = ensureLen(buf, len(sourceFrame)/2)
		for i := range buf {
			buf[i] = (sourceFrame[2*i] + sourceFrame[2*i+1]) / 2
		}
		return buf
	}
}

// The resampler may emit slightly more samples than the ratio suggests,
// so output buffers get some headroom.
func resampledLen(numSamples int, sourceRate int, sinkRate int) int {
	return numSamples*sinkRate/sourceRate + 64
}

func newResampleFunction(sourceProperties audiodevice.DeviceProperties, sinkProperties audiodevice.DeviceProperties) audioFormatConversionFunction {
	sourceRate, sinkRate := sourceProperties.SampleRate, sinkProperties.SampleRate
	if sinkProperties.NumChannels == 1 {
		r := resampler.New(1, sourceRate, sinkRate, resampleQuality)
		var buf frame.PCMFrame
		return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
			buf = ensureLen(buf, resampledLen(len(sourceFrame), sourceRate, sinkRate))
			_, written := r.ProcessFloat32(0, sourceFrame, buf)
			return buf[:written]
		}
	}

	r := resampler.New(2, sourceRate, sinkRate, resampleQuality)
	var leftSourceBuf, rightSourceBuf, leftSinkBuf, rightSinkBuf, buf frame.PCMFrame
	return func(sourceFrame frame.PCMFrame) frame.PCMFrame {
		numSamples := len(sourceFrame) / 2
		outSamples := resampledLen(numSamples, sourceRate, sinkRate)
		leftSourceBuf = ensureLen(leftSourceBuf, numSamples)
		rightSourceBuf = ensureLen(rightSourceBuf, numSamples)
		leftSinkBuf = ensureLen(leftSinkBuf, outSamples)
		rightSinkBuf = ensureLen(rightSinkBuf, outSamples)

		// Decode to planar, sourceFrame is interleaved
		for i := range numSamples {
			leftSourceBuf[i] = sourceFrame[2*i]
			rightSourceBuf[i] = sourceFrame[2*i+1]
		}

		// Process both channels
		_, written := r.ProcessFloat32(0, leftSourceBuf, leftSinkBuf)
		r.ProcessFloat32(1, rightSourceBuf, rightSinkBuf)

		// Interleave again
		buf = ensureLen(buf, 2*written)
		for i := range written {
			buf[2*i] = leftSinkBuf[i]
			buf[2*i+1] = rightSinkBuf[i]
		}
		return buf
	}
}
