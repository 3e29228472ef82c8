package accumulator

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrNonPositiveFrameSize = errors.New("frame byte size must be strictly positive")
	ErrNilEncodeFunc        = errors.New("encode function must not be nil")
	ErrEncode               = errors.New("encode failed")
	ErrEmit                 = errors.New("emit failed")
)

// Encode exactly one frame of raw audio.
//
// The frame slice is owned by the Accumulator and is overwritten by the next frame,
// so implementations must copy anything they wish to retain.
//
// Returning a nil or empty chunk (and no error) is valid, e.g. for encoders that
// buffer internally, and results in no call to the EmitFunc.
type EncodeFunc func(frame []byte) ([]byte, error)

// Consume one encoded chunk, e.g. append it to a container or write it to a socket.
type EmitFunc func(chunk []byte) error

// Accumulator matches a producer delivering arbitrarily sized chunks of audio
// (such as a sound server callback) to an encoder that accepts only fixed size frames.
//
// Bytes are buffered until at least one full frame is available, at which point
// every full frame is removed from the buffer and handed to the EncodeFunc, and any
// non-empty output is handed to the EmitFunc. After every Write fewer than
// FrameByteSize bytes remain buffered.
//
// An Accumulator holds no lock. Calls to Write must be serialized by the caller.
type Accumulator struct {
	frameByteSize int
	encode        EncodeFunc
	emit          EmitFunc

	buffer bytes.Buffer
	frame  []byte
}

// Create a new Accumulator cutting frames of frameByteSize bytes.
//
// emit may be nil, in which case encoded output is discarded. This is useful when the
// EncodeFunc itself is the final consumer of the frame.
func New(frameByteSize int, encode EncodeFunc, emit EmitFunc) (*Accumulator, error) {
	if frameByteSize <= 0 {
		return nil, ErrNonPositiveFrameSize
	}
	if encode == nil {
		return nil, ErrNilEncodeFunc
	}
	if emit == nil {
		emit = func([]byte) error { return nil }
	}

	return &Accumulator{
		frameByteSize: frameByteSize,
		encode:        encode,
		emit:          emit,
		frame:         make([]byte, frameByteSize),
	}, nil
}

// Feed a chunk of raw audio into the Accumulator.
//
// The returned count is always len(p): bytes that do not yet form a whole frame are
// buffered, never rejected. A non-nil error means an encode (wrapping ErrEncode) or
// emit (wrapping ErrEmit) failed. Flushing stops at the failing frame, whose bytes
// are consumed, and any bytes after it remain buffered for the next Write.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.buffer.Write(p)

	for a.buffer.Len() >= a.frameByteSize {
		copy(a.frame, a.buffer.Next(a.frameByteSize))

		chunk, err := a.encode(a.frame)
		if err != nil {
			return len(p), fmt.Errorf("%w: %w", ErrEncode, err)
		}
		if len(chunk) == 0 {
			continue
		}

		if err := a.emit(chunk); err != nil {
			return len(p), fmt.Errorf("%w: %w", ErrEmit, err)
		}
	}

	return len(p), nil
}

// The number of bytes fed but not yet handed to the EncodeFunc.
func (a *Accumulator) Buffered() int {
	return a.buffer.Len()
}

// A copy of the bytes fed but not yet handed to the EncodeFunc.
func (a *Accumulator) Pending() []byte {
	return bytes.Clone(a.buffer.Bytes())
}

func (a *Accumulator) FrameByteSize() int {
	return a.frameByteSize
}

// Discard any partially accumulated frame.
func (a *Accumulator) Reset() {
	a.buffer.Reset()
}
