package domain

// Envelope carries only the routing tag. Handlers re-unmarshal the raw
// payload into the concrete message type once the tag is known.
type Envelope struct {
	T string `json:"t"`
}

// RegisterMsg is sent by a source right after connecting to declare which
// game it carries frames for.
type RegisterMsg struct {
	T        string `json:"t"`
	GameType string `json:"gameType"`
}

// PingMsg is a viewer latency probe. Ts is the viewer's clock in unix ms.
type PingMsg struct {
	T  string `json:"t"`
	Ts int64  `json:"ts"`
}

// PongMsg echoes the ping timestamp and reports how stale the last relayed
// frame was at reply time.
type PongMsg struct {
	T        string `json:"t"`
	ClientTs int64  `json:"clientTs"`
	ServerTs int64  `json:"serverTs"`
	FrameAge int64  `json:"frameAge"`
	LastSeq  int64  `json:"lastSeq"`
}

// SyncMsg is the first message a viewer receives: its identity plus the
// current shared sound state.
type SyncMsg struct {
	T        string      `json:"t"`
	ID       string      `json:"id"`
	Monogram string      `json:"monogram,omitempty"`
	Snd      *SoundState `json:"snd"`
}

// ErrorMsg is the reply to an unrecognized viewer message type.
type ErrorMsg struct {
	T     string `json:"t"`
	Error string `json:"error"`
}

// PollMsg triggers a source (or the server, when sent by a viewer) to emit
// its cached last frame.
type PollMsg struct {
	T string `json:"t"`
}

// SourceFrame pairs a source's declared game type with its cached frame
// inside the diagnostic tick envelope.
type SourceFrame struct {
	GameType string `json:"gameType"`
	Frame    *Frame `json:"frame"`
}

// TickMsg is the diagnostic aggregate broadcast by the master tick loop.
type TickMsg struct {
	T       string        `json:"t"`
	Tick    int64         `json:"tick"`
	Ts      int64         `json:"ts"`
	Sources []SourceFrame `json:"sources"`
}

// VolumeMsg sets a viewer's local volume. Never relayed.
type VolumeMsg struct {
	T      string  `json:"t"`
	Volume float64 `json:"volume"`
}

// ScreenMsg is a viewer's self-reported screen state.
type ScreenMsg struct {
	T      string `json:"t"`
	Screen string `json:"screen"`
}

// SpawnRequest asks for a game instance on a slot. Channel is the slot
// index and defaults to 0.
type SpawnRequest struct {
	Game    string `json:"game"`
	Channel int    `json:"channel"`
}

// BridgeReadyMsg acknowledges a spawn request. It means "spawn issued",
// not "game initialized". Status is "builtin" for client-side games.
type BridgeReadyMsg struct {
	T       string `json:"t"`
	Game    string `json:"game"`
	Channel int    `json:"channel"`
	Status  string `json:"status,omitempty"`
}

// BridgeErrorMsg reports a spawn or supervision failure.
type BridgeErrorMsg struct {
	T       string `json:"t"`
	Game    string `json:"game"`
	Channel int    `json:"channel"`
	Error   string `json:"error"`
}

// ScoreMsg reports a finished-game score for the leaderboard.
type ScoreMsg struct {
	T     string  `json:"t"`
	Game  string  `json:"game"`
	Score float64 `json:"score"`
}
