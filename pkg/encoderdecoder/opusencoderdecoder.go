package encoderdecoder

import (
	"errors"
	"fmt"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
	"layeh.com/gopus"
)

const (
	// Recommended upper bound on the size of a single OPUS packet
	maxOpusPacketSize = 4000
)

var (
	errInvalidFrameDuration = errors.New("given frame duration is not a valid OPUS frame duration")
	errInvalidOpusRate      = errors.New("OPUS supports only 8000, 12000, 16000, 24000 and 48000Hz")
	errInvalidOpusChannels  = errors.New("OPUS supports only mono or stereo audio")
)

type OpusFactory struct {
	frameDuration OPUSFrameDuration
	bitrate       int
}

// Create a new OPUS factory that produces OpusEncoderDecoders with the specified values.
//
// frameDuration determines how many samples are required to encode a frame of audio.
// longer frameDurations reduce network bandwidth, increase audioQuality, and increase latency.
//
// bitrate is the target bitrate in bits per second. A non-positive bitrate leaves the libopus default.
func NewOpusFactory(frameDuration time.Duration, bitrate int) (OpusFactory, error) {
	opusFrameDuration := OPUSFrameDuration(frameDuration)
	if !opusFrameDuration.valid() {
		return OpusFactory{}, errInvalidFrameDuration
	}

	return OpusFactory{
		frameDuration: opusFrameDuration,
		bitrate:       bitrate,
	}, nil
}

func (f OpusFactory) NewOpusEncoderDecoder(sampleRate int, numChannels int) (*OpusEncoderDecoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, errInvalidOpusRate
	}
	if numChannels != 1 && numChannels != 2 {
		return nil, errInvalidOpusChannels
	}

	encoder, errEnc := gopus.NewEncoder(sampleRate, numChannels, gopus.Audio)
	decoder, errDec := gopus.NewDecoder(sampleRate, numChannels)
	if err := errors.Join(errEnc, errDec); err != nil {
		return nil, fmt.Errorf("create opus encoder/decoder: %w", err)
	}
	if f.bitrate > 0 {
		encoder.SetBitrate(f.bitrate)
	}

	samplesPerFrame := int(int64(sampleRate) * int64(f.frameDuration) / int64(time.Second))
	return &OpusEncoderDecoder{
		properties: CodecProperties{
			Type:            EncoderDecoderTypeOpus,
			SampleRate:      sampleRate,
			NumChannels:     numChannels,
			SamplesPerFrame: samplesPerFrame,
			BytesPerSample:  2,
		},
		encoder:  encoder,
		decoder:  decoder,
		pcmFrame: make([]int16, samplesPerFrame*numChannels),
	}, nil
}

// OPUS encoding of S16LE frames, backed by libopus through gopus.
//
// Not safe for concurrent use: libopus encoders and decoders carry state between frames.
type OpusEncoderDecoder struct {
	properties CodecProperties

	encoder  *gopus.Encoder
	decoder  *gopus.Decoder
	pcmFrame []int16
}

func (encdec *OpusEncoderDecoder) Encode(pcmData []byte) (frame.EncodedFrame, error) {
	if len(pcmData) != encdec.properties.FrameByteSize() {
		return nil, errFrameSizeMismatch
	}

	for i := range encdec.pcmFrame {
		encdec.pcmFrame[i] = int16(pcmData[2*i]) | int16(pcmData[2*i+1])<<8
	}

	encoded, err := encdec.encoder.Encode(encdec.pcmFrame, encdec.properties.SamplesPerFrame, maxOpusPacketSize)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return encoded, nil
}

func (encdec *OpusEncoderDecoder) Decode(encodedData frame.EncodedFrame) ([]byte, error) {
	pcm, err := encdec.decoder.Decode(encodedData, encdec.properties.SamplesPerFrame, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	out := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out, nil
}

func (encdec *OpusEncoderDecoder) Properties() CodecProperties {
	return encdec.properties
}
