package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/stream"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	settings, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", settings.LogLevel)
	assert.Equal(t, InputSoundServer, settings.Input)
	assert.Equal(t, float32(1.0), settings.Gain)
	assert.Equal(t, "pulseaudio", settings.SoundServer.Backend)
	assert.Equal(t, 48000, settings.SoundServer.SampleRate)
	assert.Equal(t, 2, settings.SoundServer.NumChannels)
	assert.Equal(t, stream.DefaultConfig(), settings.Stream)
	assert.Equal(t, ":8080", settings.ListenAddr)
	assert.True(t, settings.WebRTC)
	assert.Equal(t, "CodecOpus48000Stereo", settings.TrackCodec)
	assert.Empty(t, settings.ICEServers)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
loglevel: debug
input: file
inputfile: music.wav
loopinput: false
gain: 0.5
source: alsa_output.monitor
samplerate: 8000
channels: 1
outpath: /tmp/sinkcast-test
format: ulaw
codec: pcmu
frameduration: 10ms
segmentduration: 4s
playlistsize: 3
cleanuponclose: false
webrtc: false
ICEServers:
  - stun:stun.l.google.com:19302
`)

	settings, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", settings.LogLevel)
	assert.Equal(t, InputFile, settings.Input)
	assert.Equal(t, "music.wav", settings.InputFile)
	assert.False(t, settings.LoopInput)
	assert.Equal(t, float32(0.5), settings.Gain)
	assert.Equal(t, "alsa_output.monitor", settings.SoundServer.Source)
	assert.Equal(t, 8000, settings.SoundServer.SampleRate)
	assert.Equal(t, 1, settings.SoundServer.NumChannels)

	assert.Equal(t, "/tmp/sinkcast-test", settings.Stream.OutPath)
	assert.Equal(t, "ulaw", settings.Stream.Format)
	assert.Equal(t, encoderdecoder.EncoderDecoderTypePCMU, settings.Stream.Codec)
	assert.Equal(t, 8000, settings.Stream.SampleRate)
	assert.Equal(t, 1, settings.Stream.NumChannels)
	assert.Equal(t, 10*time.Millisecond, settings.Stream.FrameDuration)
	assert.Equal(t, 4*time.Second, settings.Stream.SegmentDuration)
	assert.Equal(t, uint(3), settings.Stream.PlaylistSize)
	assert.False(t, settings.Stream.CleanupOnClose)

	assert.False(t, settings.WebRTC)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, settings.ICEServers)
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"unknown input":         "input: microphone\n",
		"file without path":     "input: file\n",
		"zero channels":         "channels: 0\n",
		"segment shorter":       "frameduration: 20ms\nsegmentduration: 10ms\n",
		"empty playlist window": "playlistsize: 0\n",
		"long period":           "periodms: 2000\n",
		"negative gain":         "gain: -1\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, contents))
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "loglevel: [unterminated\n"))
	assert.Error(t, err)
}
