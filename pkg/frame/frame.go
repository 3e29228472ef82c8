package frame

import (
	"encoding/binary"
	"errors"
	"math"
)

var (
	ErrNonPositiveFrameSize = errors.New("frame size factors must be strictly positive")
)

// Raw audio, interleaved by channel, with samples in [-1.0, 1.0]
type PCMFrame []float32

// Audio as produced by an encoder. The layout is entirely codec dependent.
type EncodedFrame []byte

// Compute the number of bytes making up one encoder input frame.
//
// The result is numChannels * bytesPerSample * samplesPerFrame, where samplesPerFrame
// is the number of samples *per channel*. Every factor must be strictly positive.
func FrameByteSize(numChannels int, bytesPerSample int, samplesPerFrame int) (int, error) {
	if numChannels <= 0 || bytesPerSample <= 0 || samplesPerFrame <= 0 {
		return 0, ErrNonPositiveFrameSize
	}
	return numChannels * bytesPerSample * samplesPerFrame, nil
}

// Convert signed 16 bit little endian bytes to a PCMFrame.
//
// If dst has enough capacity it is reused, otherwise a new frame is allocated.
// A trailing odd byte is ignored.
func S16LEToPCMFrame(b []byte, dst PCMFrame) PCMFrame {
	const maxInt16 = float32(math.MaxInt16)
	n := len(b) / 2
	if cap(dst) < n {
		dst = make(PCMFrame, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / maxInt16
	}
	return dst
}

// Convert a PCMFrame to signed 16 bit little endian bytes, clamping samples outside [-1.0, 1.0].
//
// If dst has enough capacity it is reused, otherwise a new slice is allocated.
func PCMFrameToS16LE(f PCMFrame, dst []byte) []byte {
	const maxInt16 = float32(math.MaxInt16)
	n := 2 * len(f)
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, sample := range f {
		sample = min(max(sample, -1.0), 1.0)
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(sample*maxInt16)))
	}
	return dst
}

// Convert signed 16 bit little endian bytes to ints, as used by go-audio buffers.
func S16LEToInts(b []byte) []int {
	samples := make([]int, len(b)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return samples
}

// Convert ints (assumed to fit in 16 bits) to signed 16 bit little endian bytes.
func IntsToS16LE(samples []int) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(s)))
	}
	return b
}
