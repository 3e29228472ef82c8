package encoderdecoder

import (
	"encoding/binary"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// G.711 mu-law companding. Each 16 bit sample becomes a single byte.
type PCMUEncoderDecoder struct {
	properties   CodecProperties
	encodedFrame frame.EncodedFrame
}

func newPCMUEncoderDecoder(sampleRate int, numChannels int, samplesPerFrame int) *PCMUEncoderDecoder {
	return &PCMUEncoderDecoder{
		properties: CodecProperties{
			Type:            EncoderDecoderTypePCMU,
			SampleRate:      sampleRate,
			NumChannels:     numChannels,
			SamplesPerFrame: samplesPerFrame,
			BytesPerSample:  2,
		},
		encodedFrame: make(frame.EncodedFrame, samplesPerFrame*numChannels),
	}
}

func (encdec *PCMUEncoderDecoder) Encode(pcmData []byte) (frame.EncodedFrame, error) {
	if len(pcmData) != encdec.properties.FrameByteSize() {
		return nil, errFrameSizeMismatch
	}
	for i := range encdec.encodedFrame {
		encdec.encodedFrame[i] = linearToMulaw(int16(binary.LittleEndian.Uint16(pcmData[2*i:])))
	}
	return encdec.encodedFrame, nil
}

func (encdec *PCMUEncoderDecoder) Decode(encodedData frame.EncodedFrame) ([]byte, error) {
	out := make([]byte, 2*len(encodedData))
	for i, b := range encodedData {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(mulawToLinear(b)))
	}
	return out, nil
}

func (encdec *PCMUEncoderDecoder) Properties() CodecProperties {
	return encdec.properties
}

// linearToMulaw converts a 16-bit linear PCM sample to μ-law encoding
func linearToMulaw(sample int16) byte {
	s := int32(sample)

	var sign byte
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	// The exponent is the position of the highest set bit above the bias
	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)

	return ^(sign | exponent<<4 | mantissa)
}

// mulawToLinear converts a μ-law encoded byte to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte
	exponent := (mulawByte >> 4) & 0x07
	mantissa := mulawByte & 0x0F

	s := ((int32(mantissa) << 3) + mulawBias) << exponent
	s -= mulawBias
	if mulawByte&0x80 != 0 {
		return int16(-s)
	}
	return int16(s)
}
