package container

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

func TestInitializeIsIdempotent(t *testing.T) {
	first := Initialize()
	second := Initialize()
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, []string{"ogg", "ulaw", "wav"}, first.Names())
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Format{Name: "ogg", Extension: ".ogg", NewSegment: newRawSegment})
	assert.ErrorIs(t, err, ErrFormatExists)

	err = r.Register(Format{Name: "nofactory", Extension: ".x"})
	assert.ErrorIs(t, err, ErrInvalidFormat)

	err = r.Register(Format{Name: "raw", Extension: ".raw", NewSegment: newRawSegment})
	require.NoError(t, err)

	format, err := r.Lookup("raw")
	require.NoError(t, err)
	assert.Equal(t, ".raw", format.Extension)

	_, err = r.Lookup("mp4")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	// A private registry does not leak into the default one
	_, err = Initialize().Lookup("raw")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestResolveCodec(t *testing.T) {
	r := NewRegistry()

	codec, err := r.ResolveCodec("ogg", encoderdecoder.EncoderDecoderTypeAuto)
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypeOpus, codec)

	codec, err = r.ResolveCodec("wav", "")
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypePCM, codec)

	codec, err = r.ResolveCodec("ulaw", encoderdecoder.EncoderDecoderTypePCMU)
	require.NoError(t, err)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypePCMU, codec)

	_, err = r.ResolveCodec("wav", encoderdecoder.EncoderDecoderTypeOpus)
	assert.ErrorIs(t, err, ErrCodecNotSupported)

	_, err = r.ResolveCodec("aac", encoderdecoder.EncoderDecoderTypeAuto)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	require.NoError(t, r.Register(Format{Name: "bare", Extension: ".bin", NewSegment: newRawSegment}))
	_, err = r.ResolveCodec("bare", encoderdecoder.EncoderDecoderTypeAuto)
	assert.ErrorIs(t, err, ErrNoDefaultCodec)
}

func TestWAVSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.wav")
	properties := encoderdecoder.CodecProperties{
		Type:            encoderdecoder.EncoderDecoderTypePCM,
		SampleRate:      8000,
		NumChannels:     1,
		SamplesPerFrame: 4,
		BytesPerSample:  2,
	}

	segment, err := newWAVSegment(path, properties)
	require.NoError(t, err)
	require.NoError(t, segment.WriteFrame(frame.IntsToS16LE([]int{1, 2, 3, 4})))
	require.NoError(t, segment.WriteFrame(frame.IntsToS16LE([]int{-1, -2, -3, -4})))
	require.NoError(t, segment.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoder := wav.NewDecoder(f)
	require.True(t, decoder.IsValidFile())
	buf, err := decoder.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), decoder.SampleRate)
	assert.Equal(t, []int{1, 2, 3, 4, -1, -2, -3, -4}, buf.Data)

	_, err = newWAVSegment(path, encoderdecoder.CodecProperties{Type: encoderdecoder.EncoderDecoderTypeOpus})
	assert.ErrorIs(t, err, errWAVNeedsPCM)
}

func TestRawSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.ul")
	segment, err := newRawSegment(path, encoderdecoder.CodecProperties{})
	require.NoError(t, err)
	require.NoError(t, segment.WriteFrame([]byte{1, 2}))
	require.NoError(t, segment.WriteFrame([]byte{3}))
	require.NoError(t, segment.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}

func TestOggSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.ogg")
	properties := encoderdecoder.CodecProperties{
		Type:            encoderdecoder.EncoderDecoderTypeOpus,
		SampleRate:      24000,
		NumChannels:     2,
		SamplesPerFrame: 480,
		BytesPerSample:  2,
	}

	segment, err := newOggSegment(path, properties)
	require.NoError(t, err)
	assert.Equal(t, uint32(960), segment.(*oggSegmentWriter).timestampIncrement)

	for range 3 {
		require.NoError(t, segment.WriteFrame([]byte{0xFC, 0xFF, 0xFE}))
	}
	require.NoError(t, segment.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("OggS")))
	assert.True(t, bytes.Contains(data, []byte("OpusHead")))
	assert.True(t, bytes.Contains(data, []byte("OpusTags")))

	_, err = newOggSegment(path, encoderdecoder.CodecProperties{Type: encoderdecoder.EncoderDecoderTypePCM})
	assert.ErrorIs(t, err, errOggNeedsOpus)
}
