package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	SessionID       string       `json:"session_id"`
	Tick            uint64       `json:"tick"`
	StreamParams    StreamParams `json:"stream_params"`
}

type StreamParams struct {
	TickRateHz     int     `json:"tick_rate_hz"`
	CellSize       float64 `json:"cell_size"`
	RenderDistance int     `json:"render_distance"`
	BaseElevation  float64 `json:"base_elevation"`
}

// PATCHES (server -> client), one per non-no-op update.
type PatchesMsg struct {
	Type      string   `json:"type"`
	Tick      uint64   `json:"tick"`
	Cell      [2]int   `json:"cell"`
	Created   [][2]int `json:"created"`
	Destroyed [][2]int `json:"destroyed"`
	Loaded    int      `json:"loaded"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
