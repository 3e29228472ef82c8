// Package container muxes encoded frames into segment files.
//
// None of the built-in formats (Ogg, WAV, headerless mu-law) is an HLS segment
// type, so a playlist listing them is only playable by clients that decode the
// segments themselves.
package container

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/frame"
)

var (
	ErrUnknownFormat     = errors.New("no container format registered with that name")
	ErrFormatExists      = errors.New("a container format with that name is already registered")
	ErrInvalidFormat     = errors.New("container format needs a name, an extension, and a segment factory")
	ErrNoDefaultCodec    = errors.New("container format has no default codec")
	ErrCodecNotSupported = errors.New("container format cannot carry the requested codec")
)

// A single container file receiving encoded frames, e.g. one segment of a stream.
type SegmentWriter interface {
	// Append one encoded frame to the segment.
	WriteFrame(encodedFrame frame.EncodedFrame) error

	// Finalize the segment (trailers, headers with sizes, etc) and release the file.
	Close() error
}

// Open a new segment at path, for frames produced by an encoder with the given properties.
type SegmentFactory func(path string, properties encoderdecoder.CodecProperties) (SegmentWriter, error)

// A container format that encoded frames can be muxed into
type Format struct {
	// The name used to select this format, e.g. in config files
	Name string

	// File extension of segments, including the leading dot
	Extension string

	// The codec used when the "auto" codec is requested.
	// May be empty if the format has no sensible default.
	DefaultCodec encoderdecoder.EncoderDecoderTypeEnum

	// Every codec this format can carry
	Codecs []encoderdecoder.EncoderDecoderTypeEnum

	NewSegment SegmentFactory
}

// A set of container formats, looked up by name.
//
// Registries are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]Format
}

// Create a new Registry holding the built-in formats (ogg, wav, ulaw).
func NewRegistry() *Registry {
	r := &Registry{
		formats: make(map[string]Format),
	}
	for _, f := range builtinFormats() {
		// Built-ins are valid and unique
		_ = r.Register(f)
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Initialize the process-wide default Registry and return it.
//
// Safe to call any number of times, from any goroutine. Only the first call builds the Registry.
func Initialize() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

func (r *Registry) Register(format Format) error {
	if format.Name == "" || format.Extension == "" || format.NewSegment == nil {
		return ErrInvalidFormat
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.formats[format.Name]; ok {
		return fmt.Errorf("%w: %s", ErrFormatExists, format.Name)
	}
	r.formats[format.Name] = format
	return nil
}

func (r *Registry) Lookup(name string) (Format, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	format, ok := r.formats[name]
	if !ok {
		return Format{}, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
	return format, nil
}

// The names of all registered formats, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve the codec to use when writing the named format.
//
// The "auto" codec (or an empty string) resolves to the default codec of the format.
// Any other codec must be one the format can carry.
func (r *Registry) ResolveCodec(formatName string, codec encoderdecoder.EncoderDecoderTypeEnum) (encoderdecoder.EncoderDecoderTypeEnum, error) {
	format, err := r.Lookup(formatName)
	if err != nil {
		return "", err
	}

	if codec == "" || codec == encoderdecoder.EncoderDecoderTypeAuto {
		if format.DefaultCodec == "" {
			return "", fmt.Errorf("%w: %s", ErrNoDefaultCodec, formatName)
		}
		return format.DefaultCodec, nil
	}

	if !slices.Contains(format.Codecs, codec) {
		return "", fmt.Errorf("%w: %s in %s", ErrCodecNotSupported, codec, formatName)
	}
	return codec, nil
}

func builtinFormats() []Format {
	return []Format{
		{
			Name:         "ogg",
			Extension:    ".ogg",
			DefaultCodec: encoderdecoder.EncoderDecoderTypeOpus,
			Codecs:       []encoderdecoder.EncoderDecoderTypeEnum{encoderdecoder.EncoderDecoderTypeOpus},
			NewSegment:   newOggSegment,
		},
		{
			Name:         "wav",
			Extension:    ".wav",
			DefaultCodec: encoderdecoder.EncoderDecoderTypePCM,
			Codecs:       []encoderdecoder.EncoderDecoderTypeEnum{encoderdecoder.EncoderDecoderTypePCM},
			NewSegment:   newWAVSegment,
		},
		{
			Name:         "ulaw",
			Extension:    ".ul",
			DefaultCodec: encoderdecoder.EncoderDecoderTypePCMU,
			Codecs:       []encoderdecoder.EncoderDecoderTypeEnum{encoderdecoder.EncoderDecoderTypePCMU},
			NewSegment:   newRawSegment,
		},
	}
}
