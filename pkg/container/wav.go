package container

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

var (
	errWAVNeedsPCM = errors.New("wav segments only carry pcm")
)

// 16 bit PCM in a RIFF/WAVE file. The header sizes are only valid once the segment is closed.
type wavSegmentWriter struct {
	fileHandle *os.File
	encoder    *wav.Encoder
	format     *goaudio.Format
}

func newWAVSegment(path string, properties encoderdecoder.CodecProperties) (SegmentWriter, error) {
	if properties.Type != encoderdecoder.EncoderDecoderTypePCM {
		return nil, errWAVNeedsPCM
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open wav segment: %w", err)
	}

	return &wavSegmentWriter{
		fileHandle: f,
		encoder:    wav.NewEncoder(f, properties.SampleRate, wavBitDepth, properties.NumChannels, wavFormatPCM),
		format: &goaudio.Format{
			SampleRate:  properties.SampleRate,
			NumChannels: properties.NumChannels,
		},
	}, nil
}

func (s *wavSegmentWriter) WriteFrame(encodedFrame frame.EncodedFrame) error {
	return s.encoder.Write(&goaudio.IntBuffer{
		Format:         s.format,
		Data:           frame.S16LEToInts(encodedFrame),
		SourceBitDepth: wavBitDepth,
	})
}

func (s *wavSegmentWriter) Close() error {
	errEnc := s.encoder.Close()
	errSync := s.fileHandle.Sync()
	errClose := s.fileHandle.Close()
	return errors.Join(errEnc, errSync, errClose)
}
