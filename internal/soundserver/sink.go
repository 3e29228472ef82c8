// Package soundserver captures audio from a system sound server (PulseAudio,
// PipeWire, ALSA, ...) through miniaudio and writes it to an audio sink.
//
// The usual source is the monitor of a sound server sink, so that everything
// played to that sink is captured.
package soundserver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/gen2brain/malgo"
	"github.com/google/uuid"
)

var (
	ErrUnknownBackend = errors.New("unknown sound server backend")
	ErrSourceNotFound = errors.New("no capture source matches")
	ErrSinkMismatch   = errors.New("sink properties do not match the capture configuration")
	ErrClosed         = errors.New("sound server sink is closed")
	ErrStarted        = errors.New("sound server sink already started")
)

var backends = map[string]malgo.Backend{
	"pulseaudio": malgo.BackendPulseaudio,
	"alsa":       malgo.BackendAlsa,
	"jack":       malgo.BackendJack,
	"oss":        malgo.BackendOss,
	"sndio":      malgo.BackendSndio,
	"coreaudio":  malgo.BackendCoreaudio,
	"wasapi":     malgo.BackendWasapi,
	"dsound":     malgo.BackendDsound,
	"null":       malgo.BackendNull,
}

// Resolve a backend name. "auto" (or empty) lets miniaudio pick, which returns nil.
func parseBackend(name string) ([]malgo.Backend, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "auto" {
		return nil, nil
	}
	backend, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return []malgo.Backend{backend}, nil
}

type Config struct {
	// Sound server backend, e.g. "pulseaudio", or "auto"
	Backend string

	// Name or ID (or a part of either) of the capture source. Empty selects the default source.
	Source string

	SampleRate  int
	NumChannels int

	// Requested callback period. Zero leaves the backend default.
	PeriodMS int
}

// A capture source offered by the sound server
type SourceInfo struct {
	Index     int
	Name      string
	ID        string
	IsDefault bool
}

// Sound server device IDs are hex encoded. For PulseAudio the decoded ID is the
// source name, e.g. "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor".
func decodeID(info malgo.DeviceInfo) string {
	decoded, err := hex.DecodeString(info.ID.String())
	if err != nil {
		return info.ID.String()
	}
	return strings.TrimRight(string(decoded), "\x00")
}

func matchesSource(source SourceInfo, wanted string) bool {
	return source.ID == wanted ||
		source.Name == wanted ||
		strings.Contains(source.ID, wanted) ||
		strings.Contains(source.Name, wanted)
}

// Sink captures audio from a sound server source and writes it to an AudioSinkDevice.
type Sink struct {
	logger  *slog.Logger
	config  Config
	sink    audiodevice.AudioSinkDevice
	metrics *metrics.Metrics

	// Set while the sink keeps rejecting captured audio
	failing atomic.Bool

	mu         sync.Mutex
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	sourceName string
	started    bool
	closed     bool
	stop       chan struct{}
}

var _ audiodevice.AudioSourceDevice = (*Sink)(nil)

// Create a new Sink writing captured audio to sink. Nothing is opened until Start.
func NewSink(config Config, sink audiodevice.AudioSinkDevice, m *metrics.Metrics) (*Sink, error) {
	if _, err := parseBackend(config.Backend); err != nil {
		return nil, err
	}
	properties := audiodevice.DeviceProperties{SampleRate: config.SampleRate, NumChannels: config.NumChannels}
	if sink.GetDeviceProperties() != properties {
		return nil, fmt.Errorf("%w: capture %+v, sink %+v", ErrSinkMismatch, properties, sink.GetDeviceProperties())
	}

	return &Sink{
		logger: slog.Default().With(
			"sound server sink uuid", uuid.New(),
		),
		config:  config,
		sink:    sink,
		metrics: metrics.OrUnregistered(m),
		stop:    make(chan struct{}),
	}, nil
}

func (s *Sink) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  s.config.SampleRate,
		NumChannels: s.config.NumChannels,
	}
}

// The name of the source being captured, once started.
func (s *Sink) SourceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceName
}

// Called by miniaudio on its own thread with every captured period.
//
// Only the first failure of a run is logged, the rest are only counted.
func (s *Sink) onData(_, pInput []byte, _ uint32) {
	s.metrics.CallbackBytes.Add(float64(len(pInput)))
	if _, err := s.sink.Write(pInput); err != nil {
		s.metrics.CallbackErrors.Inc()
		if s.failing.CompareAndSwap(false, true) {
			s.logger.Warn("sink rejected captured audio, further failures are only counted", "err", err)
		}
		return
	}
	if s.failing.CompareAndSwap(true, false) {
		s.logger.Info("sink accepting captured audio again")
	}
}

func (s *Sink) onStop() {
	s.logger.Debug("capture device stopped")
}

// Connect to the sound server and start capturing. Capture stops when ctx is
// cancelled or Close is called.
func (s *Sink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrStarted
	}

	selected, _ := parseBackend(s.config.Backend)
	malgoCtx, err := malgo.InitContext(selected, malgo.ContextConfig{}, func(message string) {
		s.logger.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return fmt.Errorf("init sound server context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.config.NumChannels)
	deviceConfig.SampleRate = uint32(s.config.SampleRate)
	if s.config.PeriodMS > 0 {
		deviceConfig.PeriodSizeInMilliseconds = uint32(s.config.PeriodMS)
	}

	sourceName := "default"
	if s.config.Source != "" {
		infos, err := malgoCtx.Devices(malgo.Capture)
		if err != nil {
			freeContext(malgoCtx)
			return fmt.Errorf("list capture sources: %w", err)
		}
		info, err := selectSource(infos, s.config.Source)
		if err != nil {
			freeContext(malgoCtx)
			return err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
		sourceName = info.Name()
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		freeContext(malgoCtx)
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(malgoCtx)
		return fmt.Errorf("start capture device: %w", err)
	}

	s.malgoCtx = malgoCtx
	s.device = device
	s.sourceName = sourceName
	s.started = true
	s.logger.Info("capturing from sound server", "source", sourceName, "properties", s.GetDeviceProperties())

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.stop:
		}
	}()
	return nil
}

func selectSource(infos []malgo.DeviceInfo, wanted string) (malgo.DeviceInfo, error) {
	for i, info := range infos {
		source := SourceInfo{Index: i, Name: info.Name(), ID: decodeID(info)}
		if matchesSource(source, wanted) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("%w: %s", ErrSourceNotFound, wanted)
}

func freeContext(malgoCtx *malgo.AllocatedContext) {
	_ = malgoCtx.Uninit()
	malgoCtx.Free()
}

// Stop capturing and release the sound server connection. Safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stop)

	if !s.started {
		return nil
	}
	var err error
	if stopErr := s.device.Stop(); stopErr != nil {
		err = fmt.Errorf("stop capture device: %w", stopErr)
	}
	s.device.Uninit()
	if uninitErr := s.malgoCtx.Uninit(); uninitErr != nil {
		err = errors.Join(err, uninitErr)
	}
	s.malgoCtx.Free()
	s.logger.Info("stopped capturing", "source", s.sourceName)
	return err
}

// List the capture sources offered by a backend.
func ListSources(backend string) ([]SourceInfo, error) {
	selected, err := parseBackend(backend)
	if err != nil {
		return nil, err
	}
	malgoCtx, err := malgo.InitContext(selected, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init sound server context: %w", err)
	}
	defer freeContext(malgoCtx)

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture sources: %w", err)
	}

	sources := make([]SourceInfo, 0, len(infos))
	for i, info := range infos {
		sources = append(sources, SourceInfo{
			Index:     i,
			Name:      info.Name(),
			ID:        decodeID(info),
			IsDefault: info.IsDefault != 0,
		})
	}
	return sources, nil
}
