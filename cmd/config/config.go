package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/soundserver"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/internal/stream"
	"github.com/Honorable-Knights-of-the-Roundtable/sinkcast/pkg/encoderdecoder"
	"github.com/spf13/viper"
)

const (
	InputSoundServer = "soundserver"
	InputFile        = "file"
)

var ErrInvalidSettings = errors.New("invalid settings")

func setViperDefaults() {
	streamDefaults := stream.DefaultConfig()

	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	viper.SetDefault("input", InputSoundServer)
	viper.SetDefault("inputfile", "")
	viper.SetDefault("loopinput", true)
	viper.SetDefault("backend", "pulseaudio")
	viper.SetDefault("source", "")
	viper.SetDefault("samplerate", streamDefaults.SampleRate)
	viper.SetDefault("channels", streamDefaults.NumChannels)
	viper.SetDefault("periodms", 10)
	viper.SetDefault("gain", 1.0)

	viper.SetDefault("outpath", streamDefaults.OutPath)
	viper.SetDefault("playlistfilename", streamDefaults.PlaylistFilename)
	viper.SetDefault("segmentprefix", streamDefaults.SegmentPrefix)
	viper.SetDefault("format", streamDefaults.Format)
	viper.SetDefault("codec", string(streamDefaults.Codec))
	viper.SetDefault("bitrate", streamDefaults.Bitrate)
	viper.SetDefault("frameduration", streamDefaults.FrameDuration)
	viper.SetDefault("segmentduration", streamDefaults.SegmentDuration)
	viper.SetDefault("playlistsize", streamDefaults.PlaylistSize)
	viper.SetDefault("cleanuponclose", streamDefaults.CleanupOnClose)

	viper.SetDefault("listenaddr", ":8080")
	viper.SetDefault("webrtc", true)
	viper.SetDefault("trackcodec", "CodecOpus48000Stereo")
	viper.SetDefault("trackbitrate", 0)
	viper.SetDefault("ICEServers", []string{})
}

// Settings holds every configuration value of a sinkcast instance.
type Settings struct {
	LogLevel string
	LogFile  string

	// Either InputSoundServer or InputFile
	Input     string
	InputFile string
	LoopInput bool

	// Volume applied to the input, 1.0 leaves it untouched
	Gain float32

	SoundServer soundserver.Config
	Stream      stream.Config

	ListenAddr   string
	WebRTC       bool
	TrackCodec   string
	TrackBitrate int
	ICEServers   []string
}

// Load the config file (if any) over the defaults and build the Settings.
//
// A missing config file is not an error, the defaults are used.
func LoadConfig(configFilePath string) (Settings, error) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			return Settings{}, err
		}
	}

	settings := fromViper()
	if err := settings.validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func fromViper() Settings {
	return Settings{
		LogLevel:  viper.GetString("loglevel"),
		LogFile:   viper.GetString("logfile"),
		Input:     viper.GetString("input"),
		InputFile: viper.GetString("inputfile"),
		LoopInput: viper.GetBool("loopinput"),
		Gain:      float32(viper.GetFloat64("gain")),
		SoundServer: soundserver.Config{
			Backend:     viper.GetString("backend"),
			Source:      viper.GetString("source"),
			SampleRate:  viper.GetInt("samplerate"),
			NumChannels: viper.GetInt("channels"),
			PeriodMS:    viper.GetInt("periodms"),
		},
		Stream: stream.Config{
			OutPath:          viper.GetString("outpath"),
			PlaylistFilename: viper.GetString("playlistfilename"),
			SegmentPrefix:    viper.GetString("segmentprefix"),
			Format:           viper.GetString("format"),
			Codec:            encoderdecoder.EncoderDecoderTypeEnum(viper.GetString("codec")),
			SampleRate:       viper.GetInt("samplerate"),
			NumChannels:      viper.GetInt("channels"),
			FrameDuration:    viper.GetDuration("frameduration"),
			Bitrate:          viper.GetInt("bitrate"),
			SegmentDuration:  viper.GetDuration("segmentduration"),
			PlaylistSize:     viper.GetUint("playlistsize"),
			CleanupOnClose:   viper.GetBool("cleanuponclose"),
		},
		ListenAddr:   viper.GetString("listenaddr"),
		WebRTC:       viper.GetBool("webrtc"),
		TrackCodec:   viper.GetString("trackcodec"),
		TrackBitrate: viper.GetInt("trackbitrate"),
		ICEServers:   viper.GetStringSlice("ICEServers"),
	}
}

func (s Settings) validate() error {
	switch s.Input {
	case InputSoundServer:
	case InputFile:
		if s.InputFile == "" {
			return fmt.Errorf("%w: input %q requires inputfile", ErrInvalidSettings, InputFile)
		}
	default:
		return fmt.Errorf("%w: unknown input %q", ErrInvalidSettings, s.Input)
	}

	if s.Gain < 0 {
		return fmt.Errorf("%w: gain must not be negative", ErrInvalidSettings)
	}
	if s.SoundServer.SampleRate <= 0 || s.SoundServer.NumChannels <= 0 {
		return fmt.Errorf("%w: samplerate and channels must be positive", ErrInvalidSettings)
	}
	if s.Stream.FrameDuration <= 0 || s.Stream.SegmentDuration < s.Stream.FrameDuration {
		return fmt.Errorf(
			"%w: segmentduration (%s) must be at least frameduration (%s), which must be positive",
			ErrInvalidSettings, s.Stream.SegmentDuration, s.Stream.FrameDuration,
		)
	}
	if s.Stream.PlaylistSize == 0 {
		return fmt.Errorf("%w: playlistsize must be positive", ErrInvalidSettings)
	}
	if s.SoundServer.PeriodMS < 0 || time.Duration(s.SoundServer.PeriodMS)*time.Millisecond > time.Second {
		return fmt.Errorf("%w: periodms must be between 0 and 1000", ErrInvalidSettings)
	}
	return nil
}
