package domain

// VoiceCount is the number of synthesizer voices in the shared sound state.
const VoiceCount = 4

// Voice is one synthesizer voice. The single-letter field names match the
// TIA-style wire encoding produced by game bridges.
type Voice struct {
	Gate int `json:"g"`
	Freq int `json:"f"`
	Wave int `json:"w"`
	Vol  int `json:"v"`
}

// SoundState is the shared synthesizer state. It is mirrored verbatim to
// every newly connected viewer so late joiners never hear a stale default.
type SoundState struct {
	Mode   string  `json:"mode"`
	Voices []Voice `json:"v"`
}

// NewSoundState returns the initial sound state: TIA mode, all voices silent.
func NewSoundState() *SoundState {
	return &SoundState{Mode: "tia", Voices: make([]Voice, VoiceCount)}
}

// Fold merges a sound delta carried on a frame into the shared state.
// Voices present in the delta overwrite the corresponding voice; missing
// trailing voices are left untouched.
func (s *SoundState) Fold(delta *SoundState) {
	if delta == nil {
		return
	}
	if delta.Mode != "" {
		s.Mode = delta.Mode
	}
	for i, v := range delta.Voices {
		if i >= len(s.Voices) {
			break
		}
		s.Voices[i] = v
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SoundState) Clone() *SoundState {
	c := &SoundState{Mode: s.Mode, Voices: make([]Voice, len(s.Voices))}
	copy(c.Voices, s.Voices)
	return c
}

// Frame is one rendered payload. Seq is monotonic per producer; a gap
// implies loss. Ts is the producer timestamp, ServerTs is stamped when the
// frame is published on the bus, and Tick is set only on master-tick
// re-broadcasts.
type Frame struct {
	T        string      `json:"t"`
	Seq      int64       `json:"seq,omitempty"`
	Ts       int64       `json:"ts,omitempty"`
	ServerTs int64       `json:"serverTs,omitempty"`
	Tick     int64       `json:"tick,omitempty"`
	Slot     *int        `json:"slot,omitempty"`
	Display  string      `json:"display,omitempty"`
	Snd      *SoundState `json:"snd,omitempty"`
}

// Clone returns a shallow copy for restamping. The sound delta is shared;
// restamping never mutates it.
func (f *Frame) Clone() *Frame {
	c := *f
	return &c
}
