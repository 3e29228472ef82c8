package container

import (
	"errors"
	"fmt"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

const (
	// Ogg Opus granule positions always count samples at 48kHz
	oggOpusClockRate = 48000

	// Dynamic payload type conventionally used for OPUS
	opusPayloadType = 111
)

var (
	errOggNeedsOpus = errors.New("ogg segments only carry opus")
)

// Opus in Ogg, written through the pion oggwriter.
//
// The oggwriter consumes RTP packets and derives granule positions from the RTP timestamps,
// so each encoded frame is wrapped in a packet whose timestamp advances by one frame at 48kHz.
type oggSegmentWriter struct {
	writer *oggwriter.OggWriter

	sequenceNumber     uint16
	timestamp          uint32
	timestampIncrement uint32
}

func newOggSegment(path string, properties encoderdecoder.CodecProperties) (SegmentWriter, error) {
	if properties.Type != encoderdecoder.EncoderDecoderTypeOpus {
		return nil, errOggNeedsOpus
	}

	writer, err := oggwriter.New(path, uint32(properties.SampleRate), uint16(properties.NumChannels))
	if err != nil {
		return nil, fmt.Errorf("open ogg segment: %w", err)
	}

	return &oggSegmentWriter{
		writer:             writer,
		timestampIncrement: uint32(properties.SamplesPerFrame * oggOpusClockRate / properties.SampleRate),
	}, nil
}

func (s *oggSegmentWriter) WriteFrame(encodedFrame frame.EncodedFrame) error {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: s.sequenceNumber,
			Timestamp:      s.timestamp,
		},
		Payload: encodedFrame,
	}
	s.sequenceNumber++
	s.timestamp += s.timestampIncrement

	return s.writer.WriteRTP(packet)
}

func (s *oggSegmentWriter) Close() error {
	return s.writer.Close()
}
