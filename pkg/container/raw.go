package container

import (
	"fmt"
	"os"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

// Encoded frames concatenated with no framing at all, e.g. headerless G.711.
type rawSegmentWriter struct {
	fileHandle *os.File
}

func newRawSegment(path string, _ encoderdecoder.CodecProperties) (SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open raw segment: %w", err)
	}
	return &rawSegmentWriter{fileHandle: f}, nil
}

func (s *rawSegmentWriter) WriteFrame(encodedFrame frame.EncodedFrame) error {
	_, err := s.fileHandle.Write(encodedFrame)
	return err
}

func (s *rawSegmentWriter) Close() error {
	return s.fileHandle.Close()
}
