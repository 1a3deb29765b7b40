package mpv

import (
	"fmt"
	"path/filepath"

	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/where"
	"github.com/spf13/viper"
)

// Client-side message tokens the key chords emit back over IPC.
const (
	TokenNext = "jmsr-next"
	TokenPrev = "jmsr-prev"
)

const keybindFile = "jmsr-keys.conf"

// writeKeybindSnippet drops a key-binding file into the player's config
// directory on first run, mapping the configured chords to our client
// message tokens. An existing file is never overwritten: the user may have
// edited it.
func writeKeybindSnippet() error {
	path := filepath.Join(where.PlayerConfig(), keybindFile)

	exists, err := filesystem.API().Exists(path)
	if err != nil {
		return fmt.Errorf("mpv: check keybind snippet: %w", err)
	}
	if exists {
		return nil
	}

	next := viper.GetString(key.KeybindNext)
	prev := viper.GetString(key.KeybindPrev)

	content := fmt.Sprintf(
		"# Generated by jmsr. Edit freely; this file is written once.\n%s script-message %s\n%s script-message %s\n",
		next, TokenNext,
		prev, TokenPrev,
	)

	if err := filesystem.API().WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("mpv: write keybind snippet: %w", err)
	}

	log.Infof("mpv: wrote key-binding snippet to %s", path)
	return nil
}
