package encoderdecoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

type EncoderDecoderTypeEnum string

var (
	EncoderDecoderTypeAuto EncoderDecoderTypeEnum = "auto"
	EncoderDecoderTypeNull EncoderDecoderTypeEnum = "null"
	EncoderDecoderTypeOpus EncoderDecoderTypeEnum = "opus"
	EncoderDecoderTypePCMU EncoderDecoderTypeEnum = "pcmu"
	EncoderDecoderTypePCM  EncoderDecoderTypeEnum = "pcm"
)

var (
	errEncoderDecoderTypeNotImplemented = errors.New("specified encoderdecoder type is not implemented")
	errFrameSizeMismatch                = errors.New("frame does not match the encoder frame size")

	// The auto type is resolved by a container format, see pkg/container.
	ErrAutoCodec = errors.New("auto codec must be resolved against a container format before use")

	ErrInvalidFrameDuration = errors.New("frame duration does not give a whole, positive number of samples")
	ErrInvalidProperties    = errors.New("sample rate and channel count must be strictly positive")
)

// Audio encoder/decoder interface.
//
// Used to encode frames of raw signed 16 bit little endian PCM (interleaved by channel)
// to an encoded frame, and to decode those frames back.
//
// Encode must be given exactly Properties().FrameByteSize() bytes.
// The returned slices may be reused by the next call, copy them to retain them.
type EncoderDecoder interface {
	Encode(pcmData []byte) (frame.EncodedFrame, error)
	Decode(encodedData frame.EncodedFrame) ([]byte, error)
	Properties() CodecProperties
}

// Everything a consumer needs to know to cut and time frames for an EncoderDecoder.
type CodecProperties struct {
	Type        EncoderDecoderTypeEnum
	SampleRate  int
	NumChannels int

	// Samples per channel in one encoder input frame
	SamplesPerFrame int

	// Bytes per sample of the *input* PCM, always 2 (S16LE)
	BytesPerSample int
}

// The number of raw bytes in one encoder input frame
func (p CodecProperties) FrameByteSize() int {
	size, err := frame.FrameByteSize(p.NumChannels, p.BytesPerSample, p.SamplesPerFrame)
	if err != nil {
		return 0
	}
	return size
}

// The duration of audio represented by one encoder frame
func (p CodecProperties) FrameDuration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.SamplesPerFrame) * time.Second / time.Duration(p.SampleRate)
}

func (p CodecProperties) String() string {
	return fmt.Sprintf("%s %dHz x%d, %d samples/frame", p.Type, p.SampleRate, p.NumChannels, p.SamplesPerFrame)
}

// Create a new encoder/decoder of the given type.
//
// frameDuration determines the number of samples in one frame, and must produce
// a whole number of samples at sampleRate. bitrate is only used by codecs that support it,
// a non-positive bitrate leaves the codec default.
//
// If something goes wrong during creation of an encoder/decoder
// (e.g. the type does not have an implementation) then a nil Encoder/Decoder
// and an error is returned.
func NewEncoderDecoder(
	encoderdecoderID EncoderDecoderTypeEnum,
	sampleRate int,
	numChannels int,
	frameDuration time.Duration,
	bitrate int,
) (EncoderDecoder, error) {
	if sampleRate <= 0 || numChannels <= 0 {
		return nil, ErrInvalidProperties
	}

	switch encoderdecoderID {
	case EncoderDecoderTypeNull:
		return NullEncoderDecoder{}, nil
	case EncoderDecoderTypeOpus:
		factory, err := NewOpusFactory(frameDuration, bitrate)
		if err != nil {
			return nil, err
		}
		return factory.NewOpusEncoderDecoder(sampleRate, numChannels)
	case EncoderDecoderTypePCMU:
		samplesPerFrame, err := samplesPerFrame(sampleRate, frameDuration)
		if err != nil {
			return nil, err
		}
		return newPCMUEncoderDecoder(sampleRate, numChannels, samplesPerFrame), nil
	case EncoderDecoderTypePCM:
		samplesPerFrame, err := samplesPerFrame(sampleRate, frameDuration)
		if err != nil {
			return nil, err
		}
		return newPCMEncoderDecoder(sampleRate, numChannels, samplesPerFrame), nil
	case EncoderDecoderTypeAuto:
		return nil, ErrAutoCodec
	default:
		return nil, errEncoderDecoderTypeNotImplemented
	}
}

// Find the number of samples (per channel) covering frameDuration at sampleRate
func samplesPerFrame(sampleRate int, frameDuration time.Duration) (int, error) {
	if frameDuration <= 0 {
		return 0, ErrInvalidFrameDuration
	}
	numerator := int64(sampleRate) * int64(frameDuration)
	if numerator%int64(time.Second) != 0 {
		return 0, ErrInvalidFrameDuration
	}
	return int(numerator / int64(time.Second)), nil
}
