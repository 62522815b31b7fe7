package ipc

import "screentrail/internal/record"

const SocketPath = "/tmp/screentrail.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// --- Command Names (Constants) ---

const (
	CmdPing      = "ping"       // health check
	CmdGetStatus = "get_status" // recording state and per-monitor counters
	CmdPause     = "pause"      // quiesce capture; open segments are closed
	CmdResume    = "resume"     // resume capture after pause
	CmdStop      = "stop"       // graceful shutdown of the session
)

// --- Status Response Data ---

type StatusData struct {
	Session  string          `json:"session"`
	Paused   bool            `json:"paused"`
	Monitors []record.Status `json:"monitors"`
}
