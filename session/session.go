// Package session implements the orchestrator between the media server and
// the local player: it translates server directives into player commands,
// projects player events back into server reports, auto-advances series
// episodes, and applies remembered per-series track preferences.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/mpv"
	"github.com/jmsr-app/jmsr/notify"
	"github.com/jmsr-app/jmsr/prefs"
	"github.com/spf13/viper"
)

// Player is the control surface the orchestrator drives. *mpv.Player
// satisfies it; tests substitute a fake.
type Player interface {
	Start() error
	Running() bool
	Load(url string) error
	Set(name string, value any) error
	GetBool(name string) (bool, error)
	Seek(seconds float64, mode mpv.SeekMode) error
	Cycle(name string) error
	Stop() error
	Quit() error
	Observe(name string) (*mpv.Subscription, error)
	Events() (<-chan mpv.Event, error)
}

// Server is the slice of the server client the orchestrator needs.
type Server interface {
	GetItem(ctx context.Context, itemID string) (*jellyfin.MediaItem, error)
	GetPlaybackInfo(ctx context.Context, itemID string, audioIndex, subtitleIndex *int) (*jellyfin.PlaybackInfoResponse, error)
	StreamURL(itemID string, source *jellyfin.MediaSource) (string, error)
	GetNextEpisode(ctx context.Context, current *jellyfin.MediaItem) (*jellyfin.MediaItem, error)
	GetPreviousEpisode(ctx context.Context, current *jellyfin.MediaItem) (*jellyfin.MediaItem, error)
	ReportStart(ctx context.Context, info *jellyfin.PlaybackStartInfo) error
	ReportProgress(ctx context.Context, info *jellyfin.PlaybackProgressInfo) error
	ReportStopped(ctx context.Context, info *jellyfin.PlaybackStopInfo) error
}

// Manager owns the session state. It is the single writer: directives apply
// strictly in arrival order on one task, and event projection goes through
// the same lock.
type Manager struct {
	server Server
	player Player
	bus    *notify.Bus
	prefs  *prefs.Store

	ctx context.Context

	mu              sync.RWMutex
	playback        *jellyfin.PlaybackSession
	currentItem     *jellyfin.MediaItem
	currentSeriesID string
	currentStreams  []jellyfin.MediaStream
	lastReport      time.Time
	loaded          bool
	suppressEndFile int

	pumpMu      sync.Mutex
	pumpRunning bool
}

// New wires the orchestrator to its collaborators.
func New(server Server, player Player, bus *notify.Bus, store *prefs.Store) *Manager {
	return &Manager{
		server: server,
		player: player,
		bus:    bus,
		prefs:  store,
		ctx:    context.Background(),
	}
}

// Run consumes directives until the context is cancelled.
func (m *Manager) Run(ctx context.Context, directives <-chan jellyfin.Directive) {
	m.ctx = ctx

	for {
		select {
		case <-ctx.Done():
			return
		case directive, ok := <-directives:
			if !ok {
				return
			}
			m.handleDirective(directive)
		}
	}
}

// handleDirective dispatches one server command. Failures abandon the
// directive with a notice; they never take the process down.
func (m *Manager) handleDirective(directive jellyfin.Directive) {
	var err error

	switch d := directive.(type) {
	case jellyfin.PlayDirective:
		err = m.handlePlay(d.PlayRequest)
	case jellyfin.PlaystateDirective:
		err = m.handlePlaystate(d.PlaystateRequest)
	case jellyfin.GeneralDirective:
		err = m.handleGeneral(d.GeneralCommand)
	default:
		log.Warnf("session: unknown directive %T", directive)
	}

	if err != nil {
		log.Errorf("session: directive failed: %v", err)
		m.bus.Publish(notify.Error, "Command failed: %v", err)
	}
}

// progressInterval is the configured time-pos report cadence.
func progressInterval() time.Duration {
	seconds := viper.GetInt(key.ReportProgressInterval)
	if seconds < 1 {
		seconds = 5
	}
	return time.Duration(seconds) * time.Second
}

// snapshotPlayback copies the live playback session, if any.
func (m *Manager) snapshotPlayback() (jellyfin.PlaybackSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.playback == nil {
		return jellyfin.PlaybackSession{}, false
	}
	return *m.playback, true
}

// reportProgress posts the current session state; it is a no-op without a
// playback session.
func (m *Manager) reportProgress() {
	session, ok := m.snapshotPlayback()
	if !ok {
		return
	}

	info := &jellyfin.PlaybackProgressInfo{
		ItemID:              session.ItemID,
		MediaSourceID:       session.MediaSourceID,
		PlaySessionID:       session.PlaySessionID,
		PositionTicks:       session.PositionTicks,
		IsPaused:            session.IsPaused,
		IsMuted:             session.IsMuted,
		VolumeLevel:         session.Volume,
		AudioStreamIndex:    session.AudioStreamIndex,
		SubtitleStreamIndex: session.SubtitleStreamIndex,
		PlayMethod:          "DirectPlay",
		CanSeek:             true,
	}

	if err := m.server.ReportProgress(m.ctx, info); err != nil {
		log.Errorf("session: progress report failed: %v", err)
	}

	m.mu.Lock()
	m.lastReport = time.Now()
	m.mu.Unlock()
}

// reportStopped takes the playback session and posts its final position.
// Clearing the session here guarantees at most one stop report per playback.
func (m *Manager) reportStopped() {
	m.mu.Lock()
	session := m.playback
	m.playback = nil
	m.mu.Unlock()

	if session == nil {
		return
	}

	info := &jellyfin.PlaybackStopInfo{
		ItemID:        session.ItemID,
		MediaSourceID: session.MediaSourceID,
		PlaySessionID: session.PlaySessionID,
		PositionTicks: session.PositionTicks,
	}

	if err := m.server.ReportStopped(m.ctx, info); err != nil {
		log.Errorf("session: stop report failed: %v", err)
	}
}

// ClearPlayback reports a stop if a session exists and clears all playback
// context. Invoked on server disconnect and player death.
func (m *Manager) ClearPlayback() {
	m.reportStopped()

	m.mu.Lock()
	m.currentItem = nil
	m.currentSeriesID = ""
	m.currentStreams = nil
	m.loaded = false
	m.suppressEndFile = 0
	m.mu.Unlock()
}

// playerTrackID converts a server stream index, absolute across all stream
// kinds, into the player's 1-based ordinal within the kind.
func playerTrackID(streams []jellyfin.MediaStream, streamType string, index int) int {
	ordinal := 0
	for _, s := range streams {
		if s.Type == streamType {
			ordinal++
			if s.Index == index {
				return ordinal
			}
		}
	}
	return 1
}
