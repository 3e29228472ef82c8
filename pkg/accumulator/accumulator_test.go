package accumulator

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures every frame handed to encode and every chunk handed to emit.
type recorder struct {
	frames  [][]byte
	emitted [][]byte
}

// encodeEcho returns a copy of the frame so every frame is emitted.
func (r *recorder) encodeEcho(frame []byte) ([]byte, error) {
	r.frames = append(r.frames, bytes.Clone(frame))
	return bytes.Clone(frame), nil
}

func (r *recorder) emit(chunk []byte) error {
	r.emitted = append(r.emitted, bytes.Clone(chunk))
	return nil
}

func newRecorded(t *testing.T, frameByteSize int) (*Accumulator, *recorder) {
	t.Helper()
	r := &recorder{}
	a, err := New(frameByteSize, r.encodeEcho, r.emit)
	require.NoError(t, err)
	return a, r
}

func TestNewRejectsInvalidArguments(t *testing.T) {
	_, err := New(0, func([]byte) ([]byte, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrNonPositiveFrameSize)

	_, err = New(-4, func([]byte) ([]byte, error) { return nil, nil }, nil)
	assert.ErrorIs(t, err, ErrNonPositiveFrameSize)

	_, err = New(4, nil, nil)
	assert.ErrorIs(t, err, ErrNilEncodeFunc)
}

func TestPartialThenCompleteFrame(t *testing.T) {
	a, r := newRecorded(t, 4)

	n, err := a.Write([]byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, r.frames)
	assert.Equal(t, []byte{1, 2}, a.Pending())

	n, err = a.Write([]byte{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, [][]byte{{1, 2, 3, 4}}, r.frames)
	assert.Equal(t, []byte{5}, a.Pending())
}

func TestSeveralFramesInOneWrite(t *testing.T) {
	a, r := newRecorded(t, 3)

	n, err := a.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5, 6}}, r.frames)
	assert.Equal(t, r.frames, r.emitted)
	assert.Equal(t, []byte{7}, a.Pending())
}

func TestEmptyWrite(t *testing.T) {
	a, r := newRecorded(t, 3)

	n, err := a.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, a.Buffered())

	_, err = a.Write([]byte{9, 8})
	require.NoError(t, err)
	n, err = a.Write([]byte{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []byte{9, 8}, a.Pending())
	assert.Empty(t, r.frames)
	assert.Empty(t, r.emitted)
}

func TestExactMultipleLeavesBufferEmpty(t *testing.T) {
	a, r := newRecorded(t, 2)

	_, err := a.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Len(t, r.frames, 2)
	assert.Zero(t, a.Buffered())
}

func TestEmptyEncodeOutputIsNotEmitted(t *testing.T) {
	var emitted [][]byte
	calls := 0
	encode := func(frame []byte) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, nil
		}
		return []byte{0xAA, frame[0]}, nil
	}
	emit := func(chunk []byte) error {
		emitted = append(emitted, bytes.Clone(chunk))
		return nil
	}

	a, err := New(2, encode, emit)
	require.NoError(t, err)

	_, err = a.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, [][]byte{{0xAA, 3}}, emitted)
}

func TestNilEmitDiscardsOutput(t *testing.T) {
	calls := 0
	a, err := New(1, func(frame []byte) ([]byte, error) {
		calls++
		return frame, nil
	}, nil)
	require.NoError(t, err)

	_, err = a.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestChunkingInvariance(t *testing.T) {
	const frameByteSize = 7
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := range 50 {
		total := rng.IntN(200)
		data := make([]byte, total)
		for i := range data {
			data[i] = byte(rng.IntN(256))
		}

		a, r := newRecorded(t, frameByteSize)
		for rest := data; len(rest) > 0; {
			n := min(rng.IntN(20), len(rest))
			accepted, err := a.Write(rest[:n])
			require.NoError(t, err)
			require.Equal(t, n, accepted)
			require.Less(t, a.Buffered(), frameByteSize)
			rest = rest[n:]
		}

		assert.Len(t, r.frames, total/frameByteSize, "trial %d", trial)
		assert.Equal(t, total%frameByteSize, a.Buffered(), "trial %d", trial)

		// Frames are exactly frameByteSize and preserve the order bytes were fed in.
		var joined []byte
		for _, f := range r.frames {
			require.Len(t, f, frameByteSize)
			joined = append(joined, f...)
		}
		joined = append(joined, a.Pending()...)
		assert.Equal(t, data, joined, "trial %d", trial)
	}
}

func TestEncodeFailureStopsFlushAndKeepsRemainder(t *testing.T) {
	errBoom := errors.New("boom")
	var frames [][]byte
	encode := func(frame []byte) ([]byte, error) {
		frames = append(frames, bytes.Clone(frame))
		if len(frames) == 2 {
			return nil, errBoom
		}
		return frame, nil
	}

	a, err := New(2, encode, nil)
	require.NoError(t, err)

	n, err := a.Write([]byte{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, 7, n)
	require.ErrorIs(t, err, ErrEncode)
	require.ErrorIs(t, err, errBoom)

	// The failing frame {3, 4} is consumed, the rest stays buffered.
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}}, frames)
	assert.Equal(t, []byte{5, 6, 7}, a.Pending())

	// The next write resumes with the buffered bytes.
	_, err = a.Write([]byte{8})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}, {5, 6}, {7, 8}}, frames)
	assert.Zero(t, a.Buffered())
}

func TestEmitFailureIsSurfaced(t *testing.T) {
	errSink := errors.New("sink closed")
	encodes := 0
	a, err := New(1, func(frame []byte) ([]byte, error) {
		encodes++
		return frame, nil
	}, func([]byte) error {
		return errSink
	})
	require.NoError(t, err)

	n, err := a.Write([]byte{1, 2, 3})
	assert.Equal(t, 3, n)
	require.ErrorIs(t, err, ErrEmit)
	require.ErrorIs(t, err, errSink)
	assert.Equal(t, 1, encodes)
	assert.Equal(t, []byte{2, 3}, a.Pending())
}

func TestReset(t *testing.T) {
	a, r := newRecorded(t, 4)
	_, err := a.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	a.Reset()
	assert.Zero(t, a.Buffered())

	_, err = a.Write([]byte{4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{4, 5, 6, 7}}, r.frames)
	assert.Equal(t, 4, a.FrameByteSize())
}
