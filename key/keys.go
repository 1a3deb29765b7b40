// Package key defines the canonical set of configuration identifiers used for centralized settings management.
package key

// Player Process - these keys govern how the external mpv process is located and spawned.
const (
	PlayerPath              = "player.path"
	PlayerArgs              = "player.args"
	PlayerAggressiveCleanup = "player.aggressive_cleanup"
)

// Device Identity - these keys control how the receiver presents itself to the media server.
const (
	DeviceName = "device.name"
)

// Server Connection - these keys hold connection defaults for the login flow.
const (
	ServerURL = "server.url"
)

// Progress Reporting - these keys tune the cadence of playback state reports toward the server.
const (
	ReportProgressInterval = "report.progress_interval"
)

// Player Keybindings - these keys define the chords written into the player's key-binding snippet.
const (
	KeybindNext = "keybind.next"
	KeybindPrev = "keybind.prev"
)

// Logging Infrastructure - these keys manage the application's internal diagnostics and auditing system.
const (
	LogsWrite = "logs.write"
	LogsLevel = "logs.level"
	LogsJson  = "logs.json"
)

// CLI Execution Environment - these flags and settings govern terminal output behavior.
const (
	CliColored = "cli.colored"
)
