package audiodevice

import (
	"context"
	"io"
)

// Every device in sinkcast moves signed 16 bit little endian interleaved PCM.
const BytesPerSample = 2

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// The number of bytes in one sample frame (one sample for every channel).
func (p DeviceProperties) BytesPerFrame() int {
	return p.NumChannels * BytesPerSample
}

// Interface for audio sink devices, e.g. a stream writer or a WebRTC device module
//
// Sink devices consume raw S16LE PCM through Write. Chunks may be any length;
// sinks that need fixed sized frames are expected to buffer internally.
type AudioSinkDevice interface {
	io.Writer

	GetDeviceProperties() DeviceProperties
}

// Interface for audio source devices, e.g. a sound server capture or a WAV file
//
// Source devices push raw S16LE PCM into whatever sink they were created with.
type AudioSourceDevice interface {
	// Begin producing audio. Start returns once the device is running; audio
	// is delivered asynchronously until ctx is cancelled or Close is called.
	Start(ctx context.Context) error

	// Meaningfully close the AudioSourceDevice, including any cleanup of
	// memory and native handles.
	//
	// It is assumed that once closed, this device will transmit no more information.
	Close() error

	GetDeviceProperties() DeviceProperties
}
