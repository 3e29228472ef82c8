package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/adm"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/networking"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/server"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/soundserver"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/stream"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/container"
	"github.com/pion/webrtc/v4"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	listSources := flag.Bool("listSources", false, "List the capture sources of the configured backend and exit.")
	flag.Parse()

	settings, err := config.LoadConfig(*configFilePath)
	if err != nil {
		panic(err)
	}
	logFilePointer, err := utils.ConfigureDefaultLogger(settings.LogLevel, settings.LogFile, slog.HandlerOptions{})
	if err != nil {
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	if *listSources {
		printSources(settings.SoundServer.Backend)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics()
	inputProperties := audiodevice.DeviceProperties{
		SampleRate:  settings.SoundServer.SampleRate,
		NumChannels: settings.SoundServer.NumChannels,
	}

	// --------------------------------------------------------------------------------
	// Streaming writer

	streamWriter, err := stream.New(settings.Stream, container.Initialize(), m)
	if err != nil {
		slog.Error("could not create stream writer", "err", err)
		panic(err)
	}
	defer func() {
		if err := streamWriter.Close(); err != nil {
			slog.Error("error while closing stream writer", "err", err)
		}
	}()
	slog.Info("streaming", "playlist", streamWriter.PlaylistPath(), "codec", streamWriter.CodecProperties())

	fanOut := device.NewFanOutDevice(inputProperties)
	if err := fanOut.AddSink(streamWriter); err != nil {
		slog.Error("stream writer does not accept the input format", "err", err)
		panic(err)
	}

	// --------------------------------------------------------------------------------
	// WebRTC track, fed by the audio device module

	var signaller server.Signaller
	if settings.WebRTC {
		connectionManager, deviceModule, err := setupWebRTC(settings, m)
		if err != nil {
			slog.Error("could not set up webrtc", "err", err)
			panic(err)
		}
		defer connectionManager.Close()
		defer deviceModule.Terminate()
		signaller = connectionManager

		var moduleSink audiodevice.AudioSinkDevice = deviceModule
		if deviceModule.GetDeviceProperties() != inputProperties {
			moduleSink, err = device.NewAudioFormatConversionDevice(inputProperties, deviceModule)
			if err != nil {
				slog.Error("could not convert input audio for the track", "err", err)
				panic(err)
			}
		}
		if err := fanOut.AddSink(moduleSink); err != nil {
			panic(err)
		}
	}

	// --------------------------------------------------------------------------------
	// Input

	var inputSink audiodevice.AudioSinkDevice = fanOut
	if settings.Gain != 1.0 {
		augmentation := device.NewAudioAugmentationDevice(fanOut)
		augmentation.SetVolumeAdjustMagnitude(settings.Gain)
		inputSink = augmentation
	}

	source, err := newSource(settings, inputProperties, inputSink, m)
	if err != nil {
		slog.Error("could not create input source", "input", settings.Input, "err", err)
		panic(err)
	}
	if err := source.Start(ctx); err != nil {
		slog.Error("could not start input source", "input", settings.Input, "err", err)
		panic(err)
	}
	defer source.Close()

	// --------------------------------------------------------------------------------
	// HTTP

	httpServer := server.New(server.Config{
		ListenAddr: settings.ListenAddr,
		StreamDir:  settings.Stream.OutPath,
	}, signaller, m)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	var sourceDone <-chan struct{}
	if fileSource, ok := source.(*device.FileAudioSourceDevice); ok {
		sourceDone = fileSource.Done()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case <-sourceDone:
		slog.Info("input finished, shutting down")
	case err := <-serverErr:
		slog.Error("http server stopped", "err", err)
	}

	// Stop the input first so nothing writes to a closing sink
	if err := source.Close(); err != nil {
		slog.Warn("error while closing input source", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("error while shutting down http server", "err", err)
	}
}

// Build the track, its transport, and the device module recording into it.
func setupWebRTC(settings config.Settings, m *metrics.Metrics) (*networking.ConnectionManager, *adm.SinkDeviceModule, error) {
	trackCodec, err := networking.GetCodec(settings.TrackCodec)
	if err != nil {
		return nil, nil, err
	}

	connectionConfig := webrtc.Configuration{}
	if len(settings.ICEServers) > 0 {
		connectionConfig.ICEServers = []webrtc.ICEServer{{URLs: settings.ICEServers}}
	}
	connectionManager, err := networking.NewConnectionManager(connectionConfig, trackCodec, m)
	if err != nil {
		return nil, nil, err
	}

	transport, err := networking.NewTrackTransport(connectionManager.Track(), settings.TrackBitrate, m)
	if err != nil {
		connectionManager.Close()
		return nil, nil, err
	}

	moduleProperties := audiodevice.DeviceProperties{
		SampleRate:  int(trackCodec.ClockRate),
		NumChannels: int(trackCodec.Channels),
	}
	deviceModule, err := adm.NewSinkDeviceModule(moduleProperties, sourceName(settings), m)
	if err != nil {
		connectionManager.Close()
		return nil, nil, err
	}

	err = errors.Join(
		deviceModule.Init(),
		deviceModule.RegisterAudioCallback(transport),
		deviceModule.InitRecording(),
		deviceModule.StartRecording(),
	)
	if err != nil {
		connectionManager.Close()
		return nil, nil, err
	}
	return connectionManager, deviceModule, nil
}

func sourceName(settings config.Settings) string {
	switch {
	case settings.Input == config.InputFile:
		return settings.InputFile
	case settings.SoundServer.Source != "":
		return settings.SoundServer.Source
	}
	return "default"
}

func newSource(
	settings config.Settings,
	inputProperties audiodevice.DeviceProperties,
	sink audiodevice.AudioSinkDevice,
	m *metrics.Metrics,
) (audiodevice.AudioSourceDevice, error) {
	if settings.Input == config.InputSoundServer {
		return soundserver.NewSink(settings.SoundServer, sink, m)
	}

	fileProperties, err := device.ReadWAVProperties(settings.InputFile)
	if err != nil {
		return nil, err
	}
	if fileProperties != inputProperties {
		slog.Info("converting input file", "from", fileProperties, "to", inputProperties)
		sink, err = device.NewAudioFormatConversionDevice(fileProperties, sink)
		if err != nil {
			return nil, err
		}
	}
	chunkDuration := time.Duration(settings.SoundServer.PeriodMS) * time.Millisecond
	if chunkDuration <= 0 {
		chunkDuration = settings.Stream.FrameDuration
	}
	return device.NewFileAudioSourceDevice(settings.InputFile, chunkDuration, settings.LoopInput, sink)
}

func printSources(backend string) {
	sources, err := soundserver.ListSources(backend)
	if err != nil {
		slog.Error("could not list capture sources", "backend", backend, "err", err)
		os.Exit(1)
	}
	for _, source := range sources {
		marker := " "
		if source.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %d\t%s\t%s\n", marker, source.Index, source.Name, source.ID)
	}
}
