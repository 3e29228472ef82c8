package adm

// --------------------------------------------------------------------------------
// Playout

// Playout and mixer controls for modules that only capture.
// Embed it to satisfy Player and Mixer.
type Unsupported struct{}

func (Unsupported) PlayoutIsAvailable() bool { return false }
func (Unsupported) InitPlayout() error { return ErrUnsupported }
func (Unsupported) StartPlayout() error { return ErrUnsupported }
func (Unsupported) StopPlayout() error { return ErrUnsupported }
func (Unsupported) Playing() bool { return false }

// --------------------------------------------------------------------------------
// Mixer

func (Unsupported) SpeakerVolumeIsAvailable() bool { return false }
func (Unsupported) SetSpeakerVolume(uint32) error { return ErrUnsupported }
func (Unsupported) SpeakerVolume() (uint32, error) { return 0, ErrUnsupported }
func (Unsupported) MicrophoneVolumeIsAvailable() bool { return false }
func (Unsupported) SetMicrophoneVolume(uint32) error { return ErrUnsupported }
func (Unsupported) MicrophoneVolume() (uint32, error) { return 0, ErrUnsupported }
func (Unsupported) SpeakerMuteIsAvailable() bool { return false }
func (Unsupported) SetSpeakerMute(bool) error { return ErrUnsupported }
func (Unsupported) MicrophoneMuteIsAvailable() bool { return false }
func (Unsupported) SetMicrophoneMute(bool) error { return ErrUnsupported }
func (Unsupported) MicrophoneBoostIsAvailable() bool { return false }
func (Unsupported) SetMicrophoneBoost(bool) error { return ErrUnsupported }
