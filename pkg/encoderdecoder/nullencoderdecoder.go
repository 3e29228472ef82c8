package encoderdecoder

import (
	"errors"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

var (
	errNullEncoderDecoderUsed error = errors.New("null encoder decoder used")
)

// An encoder decoder that does NO ENCODING/DECODING
// Instead, an error is *always* returned.
//
// This is not the PCMEncoderDecoder, i.e. passing raw frames through
// directly without compression, the NullEncoderDecoder throws away
// any frames and returns errors every time
type NullEncoderDecoder struct{}

func (encdec NullEncoderDecoder) Encode(_ []byte) (frame.EncodedFrame, error) {
	return nil, errNullEncoderDecoderUsed
}

func (encdec NullEncoderDecoder) Decode(_ frame.EncodedFrame) ([]byte, error) {
	return nil, errNullEncoderDecoderUsed
}

func (encdec NullEncoderDecoder) Properties() CodecProperties {
	return CodecProperties{Type: EncoderDecoderTypeNull}
}
