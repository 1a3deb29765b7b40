package jellyfin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jmsr-app/jmsr/constant"
	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/where"
	"github.com/zalando/go-keyring"
)

// SavedSession is the persisted server session. The access token is not part
// of the file; it lives in the OS keyring.
type SavedSession struct {
	ServerURL  string `json:"serverUrl"`
	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	ServerName string `json:"serverName,omitempty"`
	DeviceID   string `json:"deviceId,omitempty"`
}

// ErrNoSavedSession means no session has been saved yet.
var ErrNoSavedSession = errors.New("jellyfin: no saved session")

const keyringUser = "access-token"

// SaveSession persists the session file and stores the token in the keyring.
func SaveSession(session *SavedSession, token string) error {
	payload, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("jellyfin: encode session: %w", err)
	}

	if err := filesystem.API().WriteFile(where.Session(), payload, 0600); err != nil {
		return fmt.Errorf("jellyfin: write session: %w", err)
	}

	if err := keyring.Set(constant.Jmsr, keyringUser, token); err != nil {
		return fmt.Errorf("jellyfin: store token: %w", err)
	}

	return nil
}

// LoadSession reads the saved session and its token.
func LoadSession() (*SavedSession, string, error) {
	raw, err := filesystem.API().ReadFile(where.Session())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNoSavedSession
		}
		return nil, "", fmt.Errorf("jellyfin: read session: %w", err)
	}

	var session SavedSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, "", fmt.Errorf("jellyfin: decode session: %w", err)
	}

	token, err := keyring.Get(constant.Jmsr, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, "", ErrNoSavedSession
		}
		return nil, "", fmt.Errorf("jellyfin: read token: %w", err)
	}

	return &session, token, nil
}

// ClearSession removes both the session file and the keyring entry.
func ClearSession() error {
	if err := filesystem.API().Remove(where.Session()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("jellyfin: remove session: %w", err)
	}

	if err := keyring.Delete(constant.Jmsr, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		log.Warnf("jellyfin: remove token: %v", err)
	}

	return nil
}
