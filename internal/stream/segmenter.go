package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/container"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/grafov/m3u8"
)

// Segments are kept on disk for one playlist window past their removal from the
// playlist, so that clients that fetched the previous playlist can still download them.
const retainedSegmentsPastWindow = 1

// segmenter receives encoded frames and muxes them into a rolling sequence of
// container segments, announced through a sliding m3u8 playlist.
type segmenter struct {
	logger *slog.Logger

	outPath       string
	playlistPath  string
	segmentPrefix string
	format        container.Format
	properties    encoderdecoder.CodecProperties

	frameDuration   time.Duration
	segmentDuration time.Duration
	playlistSize    uint

	playlist *m3u8.MediaPlaylist

	// Segment file names still on disk, oldest first
	retained []string

	current         container.SegmentWriter
	currentName     string
	currentDuration time.Duration
	nextIndex       int

	metrics *metrics.Metrics
}

func newSegmenter(
	logger *slog.Logger,
	config Config,
	format container.Format,
	properties encoderdecoder.CodecProperties,
	metrics *metrics.Metrics,
) (*segmenter, error) {
	playlist, err := m3u8.NewMediaPlaylist(config.PlaylistSize, config.PlaylistSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPlaylist, err)
	}
	playlist.TargetDuration = config.SegmentDuration.Seconds()

	return &segmenter{
		logger:          logger,
		outPath:         config.OutPath,
		playlistPath:    filepath.Join(config.OutPath, config.PlaylistFilename),
		segmentPrefix:   config.SegmentPrefix,
		format:          format,
		properties:      properties,
		frameDuration:   properties.FrameDuration(),
		segmentDuration: config.SegmentDuration,
		playlistSize:    config.PlaylistSize,
		playlist:        playlist,
		metrics:         metrics,
	}, nil
}

func (s *segmenter) segmentName(index int) string {
	return fmt.Sprintf("%s%05d%s", s.segmentPrefix, index, s.format.Extension)
}

// Append one encoded frame to the current segment, opening and cutting segments as needed.
func (s *segmenter) writeFrame(encodedFrame []byte) error {
	if s.current == nil {
		if err := s.openSegment(); err != nil {
			return err
		}
	}

	if err := s.current.WriteFrame(encodedFrame); err != nil {
		return err
	}
	s.currentDuration += s.frameDuration

	if s.currentDuration >= s.segmentDuration {
		return s.finishSegment()
	}
	return nil
}

func (s *segmenter) openSegment() error {
	name := s.segmentName(s.nextIndex)
	segment, err := s.format.NewSegment(filepath.Join(s.outPath, name), s.properties)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSegment, err)
	}

	s.nextIndex++
	s.current = segment
	s.currentName = name
	s.currentDuration = 0
	s.logger.Debug("Opened segment", "segment", name)
	return nil
}

// Close the current segment, announce it in the playlist, and expire old segments.
func (s *segmenter) finishSegment() error {
	if s.current == nil {
		return nil
	}

	name, duration := s.currentName, s.currentDuration
	// The file exists even if closing it fails, expiry and cleanup must see it
	s.retained = append(s.retained, name)
	err := s.current.Close()
	s.current = nil
	s.currentName = ""
	s.currentDuration = 0
	if err != nil {
		return errors.Join(fmt.Errorf("%w: %w", ErrSegment, err), s.expire())
	}

	if s.playlist.Count() >= s.playlistSize {
		if err := s.playlist.Remove(); err != nil {
			return fmt.Errorf("%w: %w", ErrPlaylist, err)
		}
	}
	if err := s.playlist.Append(name, duration.Seconds(), ""); err != nil {
		return fmt.Errorf("%w: %w", ErrPlaylist, err)
	}
	s.metrics.SegmentsWritten.Inc()
	s.metrics.SegmentDuration.Observe(duration.Seconds())
	s.logger.Debug("Finished segment", "segment", name, "duration", duration)

	return errors.Join(s.expire(), s.writePlaylist())
}

// Delete the oldest segments beyond the playlist window and its retained margin.
func (s *segmenter) expire() error {
	var err error
	for uint(len(s.retained)) > s.playlistSize+retainedSegmentsPastWindow {
		expired := s.retained[0]
		s.retained = s.retained[1:]
		if removeErr := os.Remove(filepath.Join(s.outPath, expired)); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			err = errors.Join(err, removeErr)
		}
	}
	return err
}

// Replace the playlist file atomically, so readers never observe a partial playlist.
func (s *segmenter) writePlaylist() error {
	tmpPath := s.playlistPath + ".tmp"
	if err := os.WriteFile(tmpPath, s.playlist.Encode().Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPlaylist, err)
	}
	if err := os.Rename(tmpPath, s.playlistPath); err != nil {
		return fmt.Errorf("%w: %w", ErrPlaylist, err)
	}
	return nil
}

// Finish the open segment (if it holds any frames) and mark the playlist as ended.
func (s *segmenter) close() error {
	err := s.finishSegment()
	s.playlist.Close()
	return errors.Join(err, s.writePlaylist())
}

// Remove the playlist and every segment still on disk, then the output directory if empty.
func (s *segmenter) cleanup() error {
	var err error
	remove := func(path string) {
		if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			err = errors.Join(err, removeErr)
		}
	}

	remove(s.playlistPath)
	remove(s.playlistPath + ".tmp")
	for _, name := range s.retained {
		remove(filepath.Join(s.outPath, name))
	}
	s.retained = nil

	entries, readErr := os.ReadDir(s.outPath)
	if readErr == nil && len(entries) == 0 {
		remove(s.outPath)
	} else if readErr == nil {
		s.logger.Debug("Output directory not empty, leaving it in place", "path", s.outPath, "entries", len(entries))
	}
	return err
}
