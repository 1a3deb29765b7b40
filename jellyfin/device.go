package jellyfin

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/where"
)

const deviceIDPrefix = "jmsr-"

var (
	deviceIDOnce   sync.Once
	cachedDeviceID string
)

// DeviceID returns the stable device identifier, generating and persisting
// one on first launch. The id survives restarts so the server keeps treating
// the receiver as the same device.
func DeviceID() string {
	deviceIDOnce.Do(func() {
		path := where.DeviceID()

		if raw, err := filesystem.API().ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				cachedDeviceID = id
				return
			}
		}

		cachedDeviceID = deviceIDPrefix + uuid.NewString()
		if err := filesystem.API().WriteFile(path, []byte(cachedDeviceID+"\n"), 0600); err != nil {
			log.Warnf("jellyfin: persist device id: %v", err)
		}
	})

	return cachedDeviceID
}
