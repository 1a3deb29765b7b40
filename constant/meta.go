// Package constant defines immutable application-level identifiers and configuration defaults.
package constant

const (
	// Jmsr is the canonical application identifier used for filesystem paths and CLI branding.
	Jmsr = "jmsr"

	// Version is the current application semantic version string.
	Version = "0.1.0"

	// ClientName identifies this application to the media server.
	ClientName = "Jellyfin MPV Session Receiver"

	// DeviceName is the default display name shown in the server's cast menu.
	DeviceName = "JMSR"
)
