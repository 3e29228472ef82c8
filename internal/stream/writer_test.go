package stream

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/container"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 8kHz mono, 20ms frames of 320 bytes, five frames per segment
func wavConfig(t *testing.T) Config {
	t.Helper()
	config := DefaultConfig()
	config.OutPath = filepath.Join(t.TempDir(), "stream")
	config.Format = "wav"
	config.SampleRate = 8000
	config.NumChannels = 1
	config.FrameDuration = 20 * time.Millisecond
	config.SegmentDuration = 100 * time.Millisecond
	config.PlaylistSize = 2
	config.CleanupOnClose = false
	return config
}

const wavFrameBytes = 320

func readPlaylist(t *testing.T, w *Writer) string {
	t.Helper()
	data, err := os.ReadFile(w.PlaylistPath())
	require.NoError(t, err)
	return string(data)
}

func TestWriterSegmentsAndSlidesPlaylist(t *testing.T) {
	config := wavConfig(t)
	m := metrics.NewMetrics()
	w, err := New(config, container.NewRegistry(), m)
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypePCM, w.CodecProperties().Type)

	// 20 frames in awkward chunk sizes
	pcm := make([]byte, 20*wavFrameBytes)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	for start := 0; start < len(pcm); start += 77 {
		end := min(start+77, len(pcm))
		n, err := w.Write(pcm[start:end])
		require.NoError(t, err)
		assert.Equal(t, end-start, n)
	}

	assert.Equal(t, 20.0, testutil.ToFloat64(m.FramesEncoded))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SegmentsWritten))
	assert.Equal(t, float64(len(pcm)), testutil.ToFloat64(m.BytesWritten))

	playlist := readPlaylist(t, w)
	assert.Contains(t, playlist, "#EXTM3U")
	assert.Contains(t, playlist, "#EXT-X-MEDIA-SEQUENCE:2")
	assert.Contains(t, playlist, "segment00002.wav")
	assert.Contains(t, playlist, "segment00003.wav")
	assert.NotContains(t, playlist, "segment00001.wav")
	assert.NotContains(t, playlist, "#EXT-X-ENDLIST")

	// One segment is retained past the window, older ones are deleted
	assert.NoFileExists(t, filepath.Join(config.OutPath, "segment00000.wav"))
	for _, name := range []string{"segment00001.wav", "segment00002.wav", "segment00003.wav"} {
		assert.FileExists(t, filepath.Join(config.OutPath, name))
	}
	assert.NoFileExists(t, w.PlaylistPath()+".tmp")

	require.NoError(t, w.Close())
}

func TestWriterSegmentContents(t *testing.T) {
	config := wavConfig(t)
	w, err := New(config, nil, nil)
	require.NoError(t, err)

	pcm := make([]byte, 5*wavFrameBytes)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(i / 2)
	}
	_, err = w.Write(pcm)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(config.OutPath, "segment00000.wav"))
	require.NoError(t, err)
	defer f.Close()

	decoder := wav.NewDecoder(f)
	require.True(t, decoder.IsValidFile())
	buffer, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 8000, buffer.Format.SampleRate)
	assert.Equal(t, 1, buffer.Format.NumChannels)
	require.Len(t, buffer.Data, len(pcm)/2)
	for i, sample := range buffer.Data {
		assert.Equal(t, i%256, sample)
	}

	require.NoError(t, w.Close())
}

func TestWriterCloseFinalizesPartialSegment(t *testing.T) {
	config := wavConfig(t)
	w, err := New(config, nil, nil)
	require.NoError(t, err)

	// Two full frames plus half a frame
	_, err = w.Write(make([]byte, 2*wavFrameBytes+wavFrameBytes/2))
	require.NoError(t, err)
	assert.NoFileExists(t, w.PlaylistPath())

	require.NoError(t, w.Close())
	playlist := readPlaylist(t, w)
	assert.Contains(t, playlist, "segment00000.wav")
	assert.Contains(t, playlist, "#EXT-X-ENDLIST")

	// Idempotent
	require.NoError(t, w.Close())

	_, err = w.Write([]byte{1, 2})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWriterCleanupOnClose(t *testing.T) {
	config := wavConfig(t)
	config.CleanupOnClose = true
	w, err := New(config, nil, nil)
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 12*wavFrameBytes))
	require.NoError(t, err)
	assert.FileExists(t, w.PlaylistPath())

	require.NoError(t, w.Close())
	assert.NoDirExists(t, config.OutPath)
}

func TestWriterCleanupLeavesForeignFiles(t *testing.T) {
	config := wavConfig(t)
	config.CleanupOnClose = true
	require.NoError(t, os.MkdirAll(config.OutPath, 0o755))
	foreign := filepath.Join(config.OutPath, "keep.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

	w, err := New(config, nil, nil)
	require.NoError(t, err)
	_, err = w.Write(make([]byte, 6*wavFrameBytes))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.FileExists(t, foreign)
	assert.NoFileExists(t, filepath.Join(config.OutPath, "segment00000.wav"))
	assert.NoFileExists(t, w.PlaylistPath())
}

func TestWriterULawAutoCodec(t *testing.T) {
	config := wavConfig(t)
	config.Format = "ulaw"
	w, err := New(config, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypePCMU, w.CodecProperties().Type)

	_, err = w.Write(make([]byte, 5*wavFrameBytes))
	require.NoError(t, err)

	// One byte per sample
	info, err := os.Stat(filepath.Join(config.OutPath, "segment00000.ul"))
	require.NoError(t, err)
	assert.Equal(t, int64(5*wavFrameBytes/2), info.Size())
	require.NoError(t, w.Close())
}

func TestWriterOggOpus(t *testing.T) {
	config := DefaultConfig()
	config.OutPath = filepath.Join(t.TempDir(), "stream")
	config.CleanupOnClose = false
	config.SegmentDuration = 200 * time.Millisecond
	w, err := New(config, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypeOpus, w.CodecProperties().Type)
	assert.Equal(t, 3840, w.CodecProperties().FrameByteSize())

	_, err = w.Write(make([]byte, 10*3840))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(config.OutPath, "segment00000.ogg"))
	require.NoError(t, err)
	assert.Equal(t, "OggS", string(data[:4]))
	require.NoError(t, w.Close())
}

func TestNewWriterErrors(t *testing.T) {
	config := wavConfig(t)
	config.Format = "flac"
	_, err := New(config, nil, nil)
	assert.ErrorIs(t, err, container.ErrUnknownFormat)

	config = wavConfig(t)
	config.Codec = encoderdecoder.EncoderDecoderTypeOpus
	_, err = New(config, nil, nil)
	assert.ErrorIs(t, err, container.ErrCodecNotSupported)

	config = wavConfig(t)
	config.PlaylistSize = 0
	_, err = New(config, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config = wavConfig(t)
	config.FrameDuration = 7 * time.Microsecond
	_, err = New(config, nil, nil)
	assert.ErrorIs(t, err, encoderdecoder.ErrInvalidFrameDuration)
	assert.NoDirExists(t, config.OutPath)
}

func TestWriterDeviceProperties(t *testing.T) {
	w, err := New(wavConfig(t), nil, nil)
	require.NoError(t, err)
	defer w.Close()

	properties := w.GetDeviceProperties()
	assert.Equal(t, 8000, properties.SampleRate)
	assert.Equal(t, 1, properties.NumChannels)
	assert.Equal(t, 2, properties.BytesPerFrame())
}

var errTrailer = errors.New("trailer write failed")

// A segment whose frames reach disk but whose finalization always fails
type trailerFailingSegment struct {
	fileHandle *os.File
}

func (s *trailerFailingSegment) WriteFrame(encodedFrame frame.EncodedFrame) error {
	_, err := s.fileHandle.Write(encodedFrame)
	return err
}

func (s *trailerFailingSegment) Close() error {
	return errors.Join(s.fileHandle.Close(), errTrailer)
}

func trailerFailingRegistry(t *testing.T) *container.Registry {
	t.Helper()
	registry := container.NewRegistry()
	require.NoError(t, registry.Register(container.Format{
		Name:         "trailerfailing",
		Extension:    ".bin",
		DefaultCodec: encoderdecoder.EncoderDecoderTypePCM,
		Codecs:       []encoderdecoder.EncoderDecoderTypeEnum{encoderdecoder.EncoderDecoderTypePCM},
		NewSegment: func(path string, _ encoderdecoder.CodecProperties) (container.SegmentWriter, error) {
			f, err := os.Create(path)
			if err != nil {
				return nil, err
			}
			return &trailerFailingSegment{fileHandle: f}, nil
		},
	}))
	return registry
}

func TestWriterCleanupRemovesSegmentsThatFailedToClose(t *testing.T) {
	config := wavConfig(t)
	config.Format = "trailerfailing"
	config.CleanupOnClose = true
	w, err := New(config, trailerFailingRegistry(t), nil)
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 5*wavFrameBytes))
	assert.ErrorIs(t, err, ErrSegment)
	assert.ErrorIs(t, err, errTrailer)
	assert.FileExists(t, filepath.Join(config.OutPath, "segment00000.bin"))

	require.NoError(t, w.Close())
	assert.NoDirExists(t, config.OutPath)
}

func TestWriterExpiresSegmentsThatFailedToClose(t *testing.T) {
	config := wavConfig(t)
	config.Format = "trailerfailing"
	w, err := New(config, trailerFailingRegistry(t), nil)
	require.NoError(t, err)

	for range 4 {
		_, err := w.Write(make([]byte, 5*wavFrameBytes))
		require.ErrorIs(t, err, ErrSegment)
	}

	assert.NoFileExists(t, filepath.Join(config.OutPath, "segment00000.bin"))
	for _, name := range []string{"segment00001.bin", "segment00002.bin", "segment00003.bin"} {
		assert.FileExists(t, filepath.Join(config.OutPath, name))
	}
	require.NoError(t, w.Close())
}

func TestWriterRejectsWritesFromOtherGoroutinesAfterClose(t *testing.T) {
	w, err := New(wavConfig(t), nil, nil)
	require.NoError(t, err)

	closed := make(chan error)
	go func() {
		closed <- w.Close()
	}()
	require.NoError(t, <-closed)
	assert.True(t, w.closed.Load())

	errs := make(chan error, 4)
	for range cap(errs) {
		go func() {
			_, err := w.Write(make([]byte, wavFrameBytes))
			errs <- err
		}()
	}
	for range cap(errs) {
		assert.ErrorIs(t, <-errs, ErrClosed)
	}
}
