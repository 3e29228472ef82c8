package networking

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/adm"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

var ErrFormatMismatch = errors.New("recorded audio does not match the track codec")

// TrackTransport receives recorded 10ms frames from a device module, encodes them
// with Opus and writes them to a WebRTC track.
type TrackTransport struct {
	logger     *slog.Logger
	track      *webrtc.TrackLocalStaticSample
	encoder    encoderdecoder.EncoderDecoder
	properties encoderdecoder.CodecProperties
	metrics    *metrics.Metrics
}

var _ adm.AudioTransport = (*TrackTransport)(nil)

// Create a new TrackTransport writing to track. The recorded audio must have the
// clock rate and channel count of the track's codec.
func NewTrackTransport(track *webrtc.TrackLocalStaticSample, bitrate int, m *metrics.Metrics) (*TrackTransport, error) {
	codec := track.Codec()
	encoder, err := encoderdecoder.NewEncoderDecoder(
		encoderdecoder.EncoderDecoderTypeOpus,
		int(codec.ClockRate),
		int(codec.Channels),
		adm.FrameDuration,
		bitrate,
	)
	if err != nil {
		return nil, err
	}

	return &TrackTransport{
		logger: slog.Default().With(
			"track transport uuid", uuid.New(),
		),
		track:      track,
		encoder:    encoder,
		properties: encoder.Properties(),
		metrics:    metrics.OrUnregistered(m),
	}, nil
}

func (t *TrackTransport) Properties() encoderdecoder.CodecProperties {
	return t.properties
}

func (t *TrackTransport) RecordedDataIsAvailable(samples []byte, numSamples int, bytesPerSample int, numChannels int, sampleRate int) error {
	if numSamples != t.properties.SamplesPerFrame ||
		bytesPerSample != t.properties.BytesPerSample ||
		numChannels != t.properties.NumChannels ||
		sampleRate != t.properties.SampleRate {
		return fmt.Errorf(
			"%w: got %dHz x%d, %d samples of %d bytes, want %s",
			ErrFormatMismatch, sampleRate, numChannels, numSamples, bytesPerSample, t.properties,
		)
	}

	encoded, err := t.encoder.Encode(samples)
	if err != nil {
		return err
	}

	if err := t.track.WriteSample(media.Sample{Data: encoded, Duration: adm.FrameDuration}); err != nil {
		t.logger.Warn("could not write sample to track", "err", err)
		return err
	}
	t.metrics.SamplesSent.Inc()
	return nil
}
