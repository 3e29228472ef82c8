package encoderdecoder

import (
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

// An encoder decoder that performs no compression, S16LE in and S16LE out.
//
// Useful for containers that carry raw PCM, such as WAV.
type PCMEncoderDecoder struct {
	properties   CodecProperties
	encodedFrame frame.EncodedFrame
}

func newPCMEncoderDecoder(sampleRate int, numChannels int, samplesPerFrame int) *PCMEncoderDecoder {
	properties := CodecProperties{
		Type:            EncoderDecoderTypePCM,
		SampleRate:      sampleRate,
		NumChannels:     numChannels,
		SamplesPerFrame: samplesPerFrame,
		BytesPerSample:  2,
	}
	return &PCMEncoderDecoder{
		properties:   properties,
		encodedFrame: make(frame.EncodedFrame, properties.FrameByteSize()),
	}
}

func (encdec *PCMEncoderDecoder) Encode(pcmData []byte) (frame.EncodedFrame, error) {
	if len(pcmData) != len(encdec.encodedFrame) {
		return nil, errFrameSizeMismatch
	}
	copy(encdec.encodedFrame, pcmData)
	return encdec.encodedFrame, nil
}

func (encdec *PCMEncoderDecoder) Decode(encodedData frame.EncodedFrame) ([]byte, error) {
	out := make([]byte, len(encodedData))
	copy(out, encodedData)
	return out, nil
}

func (encdec *PCMEncoderDecoder) Properties() CodecProperties {
	return encdec.properties
}
