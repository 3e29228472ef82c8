package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

var (
	ErrDeviceClosed    = errors.New("device is closed")
	ErrAlreadyStarted  = errors.New("device already started")
	errInvalidWAVFile  = errors.New("error while decoding audio file")
	errNonPositiveSize = errors.New("non-positive samples per chunk")
)

// --------------------------------------------------------------------------------
// FileAudioSourceDevice

// Define an AudioSourceDevice that reads a .WAV file and writes it to a sink at
// real-time pace, in chunks of chunkDuration.
//
// Note that audio file must be a 16 bit .WAV file, and the sink must accept the
// sample rate and channel count of the file (see AudioFormatConversionDevice).
type FileAudioSourceDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	samples       []byte
	properties    audiodevice.DeviceProperties
	chunkDuration time.Duration
	bytesPerChunk int
	loop          bool
	sink          audiodevice.AudioSinkDevice

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Make a new FileAudioSourceDevice from a .WAV file (on the audioFilePath).
//
// The whole file is decoded up front. When loop is true, playback restarts at the
// beginning of the file once the end is reached, until the device is closed.
func NewFileAudioSourceDevice(
	audioFilePath string,
	chunkDuration time.Duration,
	loop bool,
	sink audiodevice.AudioSinkDevice,
) (*FileAudioSourceDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file source device uuid", uuid,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errInvalidWAVFile
	}
	if decoder.BitDepth != 16 {
		return nil, fmt.Errorf("%w: bit depth %d is not 16", errInvalidWAVFile, decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error(
			"could not get full PCM buffer from audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	properties := audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}
	samplesPerChunk := int(int64(properties.SampleRate) * int64(chunkDuration) / int64(time.Second))
	if samplesPerChunk <= 0 {
		logger.Error(
			"non-positive samples per chunk during opening of file audio source",
			"audioFile", audioFilePath,
			"sampleRate", properties.SampleRate,
			"chunkDuration", chunkDuration,
		)
		return nil, errNonPositiveSize
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", properties.SampleRate,
		"channels", properties.NumChannels,
		"samplesPerChunk", samplesPerChunk,
	)

	return &FileAudioSourceDevice{
		logger:        logger,
		uuid:          uuid,
		samples:       frame.IntsToS16LE(buf.Data),
		properties:    properties,
		chunkDuration: chunkDuration,
		bytesPerChunk: samplesPerChunk * properties.BytesPerFrame(),
		loop:          loop,
		sink:          sink,
		done:          make(chan struct{}),
	}, nil
}

// Play the audio file loaded by this source device into its sink.
// If the context is canceled or the device closed, the playback stops.
func (d *FileAudioSourceDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDeviceClosed
	}
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	go d.play(ctx)
	return nil
}

func (d *FileAudioSourceDevice) play(ctx context.Context) {
	defer close(d.done)
	if len(d.samples) == 0 {
		return
	}
	d.logger.Debug("playing audio")

	ticker := time.NewTicker(d.chunkDuration)
	defer ticker.Stop()
	for {
		for chunkStart := 0; chunkStart < len(d.samples); chunkStart += d.bytesPerChunk {
			chunkEnd := min(chunkStart+d.bytesPerChunk, len(d.samples))
			select {
			case <-ticker.C:
				if _, err := d.sink.Write(d.samples[chunkStart:chunkEnd]); err != nil {
					d.logger.Warn("sink rejected audio", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
		if !d.loop {
			d.logger.Debug("finished playing")
			return
		}
	}
}

// Closed once playback has finished or was stopped.
func (d *FileAudioSourceDevice) Done() <-chan struct{} {
	return d.done
}

// Stop playback and wait for it to finish. Safe to call more than once.
func (d *FileAudioSourceDevice) Close() error {
	d.logger.Debug("shutdown called")
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		close(d.done)
		return nil
	}
	d.cancel()
	<-d.done
	return nil
}

func (d *FileAudioSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// Read the sample rate and channel count of a .WAV file without decoding it.
func ReadWAVProperties(audioFilePath string) (audiodevice.DeviceProperties, error) {
	f, err := os.Open(audioFilePath)
	if err != nil {
		return audiodevice.DeviceProperties{}, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return audiodevice.DeviceProperties{}, errInvalidWAVFile
	}
	return audiodevice.DeviceProperties{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
	}, nil
}
