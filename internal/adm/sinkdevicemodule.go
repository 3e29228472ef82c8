package adm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/accumulator"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/google/uuid"
)

// SinkDeviceModule is a capture-only DeviceModule fed by writes from an audio sink.
//
// Audio written while recording is cut into 10ms frames and handed to the
// registered AudioTransport; audio written at any other time is dropped.
// All methods are safe for concurrent use. The transport is called with the
// module's lock held, so it must not call back into the module.
type SinkDeviceModule struct {
	Unsupported

	logger     *slog.Logger
	properties audiodevice.DeviceProperties
	deviceName string
	metrics    *metrics.Metrics

	samplesPerFrame int

	mu                   sync.Mutex
	transport            AudioTransport
	accumulator          *accumulator.Accumulator
	initialized          bool
	recordingInitialized bool
	recording            bool
	agc                  bool
}

var _ DeviceModule = (*SinkDeviceModule)(nil)
var _ audiodevice.AudioSinkDevice = (*SinkDeviceModule)(nil)

// Create a new SinkDeviceModule for S16LE audio with the given properties.
// deviceName is reported as the single recording device.
func NewSinkDeviceModule(
	properties audiodevice.DeviceProperties,
	deviceName string,
	m *metrics.Metrics,
) (*SinkDeviceModule, error) {
	if properties.SampleRate <= 0 || properties.SampleRate%100 != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSampleRate, properties.SampleRate)
	}
	if properties.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupported, properties.NumChannels)
	}

	d := &SinkDeviceModule{
		logger: slog.Default().With(
			"device module uuid", uuid.New(),
		),
		properties:      properties,
		deviceName:      deviceName,
		metrics:         metrics.OrUnregistered(m),
		samplesPerFrame: int(int64(properties.SampleRate) * int64(FrameDuration) / int64(time.Second)),
	}

	var err error
	d.accumulator, err = accumulator.New(d.samplesPerFrame*properties.BytesPerFrame(), d.deliver, nil)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Hand one 10ms frame to the transport. Called with d.mu held.
func (d *SinkDeviceModule) deliver(frame []byte) ([]byte, error) {
	err := d.transport.RecordedDataIsAvailable(
		frame,
		d.samplesPerFrame,
		audiodevice.BytesPerSample,
		d.properties.NumChannels,
		d.properties.SampleRate,
	)
	if err != nil {
		return nil, err
	}
	d.metrics.RecordedFramesDelivered.Inc()
	return nil, nil
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Feed captured audio into the module. The returned count is always len(p);
// while not recording the audio is dropped.
func (d *SinkDeviceModule) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.recording {
		d.metrics.RecordedBytesDropped.Add(float64(len(p)))
		return len(p), nil
	}
	return d.accumulator.Write(p)
}

func (d *SinkDeviceModule) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// --------------------------------------------------------------------------------
// Lifecycle

func (d *SinkDeviceModule) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		d.logger.Debug("initialized", "properties", d.properties)
	}
	d.initialized = true
	return nil
}

// Stop any recording and return to the uninitialized state.
func (d *SinkDeviceModule) Terminate() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopRecording()
	d.initialized = false
	d.logger.Debug("terminated")
	return nil
}

func (d *SinkDeviceModule) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initialized
}

// Register the transport receiving recorded frames. A nil transport unregisters
// the current one, which is only allowed while not recording.
func (d *SinkDeviceModule) RegisterAudioCallback(transport AudioTransport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if transport == nil && d.recording {
		return ErrRecordingActive
	}
	d.transport = transport
	return nil
}

// --------------------------------------------------------------------------------
// Recorder

func (d *SinkDeviceModule) RecordingDevices() int {
	return 1
}

func (d *SinkDeviceModule) RecordingDeviceName(index int) (string, string, error) {
	if index != 0 {
		return "", "", fmt.Errorf("%w: %d", ErrInvalidDeviceIndex, index)
	}
	return d.deviceName, "", nil
}

func (d *SinkDeviceModule) SetRecordingDevice(index int) error {
	if index != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDeviceIndex, index)
	}
	return nil
}

func (d *SinkDeviceModule) RecordingIsAvailable() bool {
	return true
}

func (d *SinkDeviceModule) InitRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	if d.recording {
		return ErrRecordingActive
	}
	d.recordingInitialized = true
	return nil
}

func (d *SinkDeviceModule) RecordingIsInitialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recordingInitialized
}

func (d *SinkDeviceModule) StartRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.recordingInitialized {
		return ErrRecordingNotInitialized
	}
	if d.transport == nil {
		return ErrNoAudioCallback
	}
	if !d.recording {
		d.logger.Info("recording started")
	}
	d.recording = true
	return nil
}

// Stop recording and discard any partial frame. Recording must be
// initialized again before it can be restarted.
func (d *SinkDeviceModule) StopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopRecording()
	return nil
}

func (d *SinkDeviceModule) stopRecording() {
	if d.recording {
		d.logger.Info("recording stopped", "discardedBytes", d.accumulator.Buffered())
	}
	d.recording = false
	d.recordingInitialized = false
	d.accumulator.Reset()
}

func (d *SinkDeviceModule) Recording() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recording
}

// AGC has no effect on the captured audio, the setting is only remembered.
func (d *SinkDeviceModule) SetAGC(enable bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.agc = enable
	return nil
}

func (d *SinkDeviceModule) AGC() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agc
}

func (d *SinkDeviceModule) StereoRecordingIsAvailable() bool {
	return d.properties.NumChannels == 2
}

// The channel count is fixed by the sink, so only the current setting can be requested.
func (d *SinkDeviceModule) SetStereoRecording(enable bool) error {
	if enable != d.StereoRecording() {
		return ErrUnsupported
	}
	return nil
}

func (d *SinkDeviceModule) StereoRecording() bool {
	return d.properties.NumChannels == 2
}

func (d *SinkDeviceModule) RecordingSampleRate() (int, error) {
	return d.properties.SampleRate, nil
}

func (d *SinkDeviceModule) RecordingDelay() (time.Duration, error) {
	return 0, nil
}
