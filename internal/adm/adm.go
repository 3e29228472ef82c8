// Package adm bridges an audio sink (the sound server capture) to a real-time
// communications engine that expects an audio device module: something it can
// initialize, start recording on, and receive 10ms frames of recorded audio from.
package adm

import (
	"errors"
	"time"
)

var (
	ErrNotInitialized          = errors.New("device module is not initialized")
	ErrRecordingNotInitialized = errors.New("recording is not initialized")
	ErrRecordingActive         = errors.New("recording is active")
	ErrNoAudioCallback         = errors.New("no audio callback registered")
	ErrInvalidDeviceIndex      = errors.New("invalid recording device index")
	ErrUnsupported             = errors.New("not supported by this device module")
	ErrInvalidSampleRate       = errors.New("sample rate must be a positive multiple of 100Hz")
)

// The engine always consumes recorded audio in 10ms frames.
const FrameDuration = 10 * time.Millisecond

// AudioTransport receives recorded audio from a DeviceModule.
//
// samples holds exactly one 10ms frame of interleaved S16LE PCM, and is only valid
// for the duration of the call.
type AudioTransport interface {
	RecordedDataIsAvailable(samples []byte, numSamples int, bytesPerSample int, numChannels int, sampleRate int) error
}

// The lifecycle every device module shares.
type Lifecycle interface {
	Init() error
	Terminate() error
	Initialized() bool
	RegisterAudioCallback(transport AudioTransport) error
}

// Recording capability: the only audio direction with real behavior.
type Recorder interface {
	RecordingDevices() int
	RecordingDeviceName(index int) (name string, guid string, err error)
	SetRecordingDevice(index int) error

	RecordingIsAvailable() bool
	InitRecording() error
	RecordingIsInitialized() bool
	StartRecording() error
	StopRecording() error
	Recording() bool

	SetAGC(enable bool) error
	AGC() bool

	StereoRecordingIsAvailable() bool
	SetStereoRecording(enable bool) error
	StereoRecording() bool

	RecordingSampleRate() (int, error)
	RecordingDelay() (time.Duration, error)
}

// Playout capability. Never available for a capture-only module.
type Player interface {
	PlayoutIsAvailable() bool
	InitPlayout() error
	StartPlayout() error
	StopPlayout() error
	Playing() bool
}

// Mixer capability: volume, mute and boost.
type Mixer interface {
	SpeakerVolumeIsAvailable() bool
	SetSpeakerVolume(volume uint32) error
	SpeakerVolume() (uint32, error)
	MicrophoneVolumeIsAvailable() bool
	SetMicrophoneVolume(volume uint32) error
	MicrophoneVolume() (uint32, error)

	SpeakerMuteIsAvailable() bool
	SetSpeakerMute(enable bool) error
	MicrophoneMuteIsAvailable() bool
	SetMicrophoneMute(enable bool) error

	MicrophoneBoostIsAvailable() bool
	SetMicrophoneBoost(enable bool) error
}

type DeviceModule interface {
	Lifecycle
	Recorder
	Player
	Mixer
}
