package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/accumulator"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/container"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/google/uuid"
)

var (
	ErrInvalidConfig = errors.New("invalid stream configuration")
	ErrClosed        = errors.New("stream writer is closed")
	ErrSegment       = errors.New("segment error")
	ErrPlaylist      = errors.New("playlist error")
)

type Config struct {
	// Directory receiving the playlist and segments. Created if it does not exist.
	OutPath          string
	PlaylistFilename string
	SegmentPrefix    string

	// Name of a format in the container registry, e.g. "ogg"
	Format string
	Codec  encoderdecoder.EncoderDecoderTypeEnum

	SampleRate    int
	NumChannels   int
	FrameDuration time.Duration
	Bitrate       int

	// Segments are cut once they hold at least this much audio
	SegmentDuration time.Duration

	// Number of segments announced in the sliding playlist
	PlaylistSize uint

	// Remove the playlist, segments, and output directory on Close
	CleanupOnClose bool
}

func DefaultConfig() Config {
	return Config{
		OutPath:          filepath.Join(os.TempDir(), "sinkcast"),
		PlaylistFilename: "playlist.m3u8",
		SegmentPrefix:    "segment",
		Format:           "ogg",
		Codec:            encoderdecoder.EncoderDecoderTypeAuto,
		SampleRate:       48000,
		NumChannels:      2,
		FrameDuration:    20 * time.Millisecond,
		Bitrate:          0,
		SegmentDuration:  2 * time.Second,
		PlaylistSize:     5,
		CleanupOnClose:   true,
	}
}

func (c Config) validate() error {
	switch {
	case c.OutPath == "":
		return fmt.Errorf("%w: output path is empty", ErrInvalidConfig)
	case c.PlaylistFilename == "":
		return fmt.Errorf("%w: playlist filename is empty", ErrInvalidConfig)
	case c.SampleRate <= 0 || c.NumChannels <= 0:
		return fmt.Errorf("%w: sample rate and channel count must be positive", ErrInvalidConfig)
	case c.SegmentDuration <= 0:
		return fmt.Errorf("%w: segment duration must be positive", ErrInvalidConfig)
	case c.PlaylistSize == 0:
		return fmt.Errorf("%w: playlist size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Writer is an audio sink turning raw S16LE PCM into a segmented, encoded stream.
//
// Raw audio of any chunk size is accumulated into codec frames, each frame is
// encoded, and encoded frames are muxed into segments of the configured
// container format, announced by a sliding m3u8 playlist.
type Writer struct {
	logger *slog.Logger
	config Config

	encoder     encoderdecoder.EncoderDecoder
	accumulator *accumulator.Accumulator
	segmenter   *segmenter
	metrics     *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
	// Read by Write, set by Close, which may run on another goroutine
	closed atomic.Bool
}

// Create a new stream Writer.
//
// If registry is nil the process-wide container registry is used.
// If m is nil, metrics are recorded but never exported.
func New(config Config, registry *container.Registry, m *metrics.Metrics) (*Writer, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = container.Initialize()
	}
	m = metrics.OrUnregistered(m)

	format, err := registry.Lookup(config.Format)
	if err != nil {
		return nil, err
	}
	codec, err := registry.ResolveCodec(config.Format, config.Codec)
	if err != nil {
		return nil, err
	}

	encoder, err := encoderdecoder.NewEncoderDecoder(
		codec,
		config.SampleRate,
		config.NumChannels,
		config.FrameDuration,
		config.Bitrate,
	)
	if err != nil {
		return nil, err
	}
	properties := encoder.Properties()

	if err := os.MkdirAll(config.OutPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	logger := slog.Default().With(
		"stream writer uuid", uuid.New(),
		"format", format.Name,
		"codec", properties.Type,
	)

	segmenter, err := newSegmenter(logger, config, format, properties, m)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		logger:    logger,
		config:    config,
		encoder:   encoder,
		segmenter: segmenter,
		metrics:   m,
	}

	w.accumulator, err = accumulator.New(properties.FrameByteSize(), w.encode, w.emit)
	if err != nil {
		return nil, err
	}

	logger.Info("Created stream writer", "outPath", config.OutPath, "properties", properties.String())
	return w, nil
}

func (w *Writer) encode(pcmFrame []byte) ([]byte, error) {
	w.metrics.FramesEncoded.Inc()
	encoded, err := w.encoder.Encode(pcmFrame)
	if err != nil {
		w.metrics.EncodeFailures.Inc()
		return nil, err
	}
	w.metrics.EncodedFrameSize.Observe(float64(len(encoded)))
	return encoded, nil
}

func (w *Writer) emit(encoded []byte) error {
	if err := w.segmenter.writeFrame(encoded); err != nil {
		w.metrics.EmitFailures.Inc()
		return err
	}
	return nil
}

// Feed raw S16LE PCM into the stream.
//
// Write is not safe for concurrent use, and Close must not overlap a Write in
// progress. Once Close has run, Writes from any goroutine return ErrClosed.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	w.metrics.BytesWritten.Add(float64(len(p)))
	return w.accumulator.Write(p)
}

func (w *Writer) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  w.config.SampleRate,
		NumChannels: w.config.NumChannels,
	}
}

// The codec actually used, after resolving "auto"
func (w *Writer) CodecProperties() encoderdecoder.CodecProperties {
	return w.encoder.Properties()
}

// Path of the playlist file
func (w *Writer) PlaylistPath() string {
	return w.segmenter.playlistPath
}

// Finalize the stream. Safe to call more than once, later calls return the first result.
//
// Buffered audio shorter than one frame is discarded.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if pending := w.accumulator.Buffered(); pending > 0 {
			w.logger.Debug("Discarding partial frame", "bytes", pending)
		}
		w.accumulator.Reset()

		w.closeErr = w.segmenter.close()
		if w.config.CleanupOnClose {
			w.closeErr = errors.Join(w.closeErr, w.segmenter.cleanup())
		}

		if w.closeErr != nil {
			w.logger.Error("Error closing stream writer", "err", w.closeErr)
		} else {
			w.logger.Info("Closed stream writer")
		}
	})
	return w.closeErr
}
