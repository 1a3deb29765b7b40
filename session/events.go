package session

import (
	"time"

	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/mpv"
	"github.com/jmsr-app/jmsr/notify"
)

// observedProperties are mirrored into the playback session as they change.
var observedProperties = []string{"pause", "volume", "mute", "time-pos"}

// startEventPump attaches the projection tasks to the current player
// process: one consumer per observed property plus the general event pump.
// It is a no-op while a pump is already attached; the flag clears when the
// player dies and its channels close.
func (m *Manager) startEventPump() {
	m.pumpMu.Lock()
	defer m.pumpMu.Unlock()
	if m.pumpRunning {
		return
	}

	events, err := m.player.Events()
	if err != nil {
		log.Warnf("session: event pump unavailable: %v", err)
		return
	}

	for _, name := range observedProperties {
		sub, err := m.player.Observe(name)
		if err != nil {
			log.Warnf("session: observe %s: %v", name, err)
			continue
		}
		go m.pumpProperty(sub)
	}

	m.pumpRunning = true
	go m.pumpEvents(events)
}

// pumpProperty projects one property's change stream. The pause, volume and
// mute flags report immediately; time-pos is throttled to the configured
// progress interval.
func (m *Manager) pumpProperty(sub *mpv.Subscription) {
	defer log.Recover("property pump")

	for event := range sub.C {
		switch sub.Name {
		case "pause":
			if paused, ok := event.Bool(); ok {
				m.mu.Lock()
				if m.playback != nil {
					m.playback.IsPaused = paused
				}
				m.mu.Unlock()
				m.reportProgress()
			}
		case "volume":
			if volume, ok := event.Float(); ok {
				m.mu.Lock()
				if m.playback != nil {
					m.playback.Volume = int(volume)
				}
				m.mu.Unlock()
				m.reportProgress()
			}
		case "mute":
			if muted, ok := event.Bool(); ok {
				m.mu.Lock()
				if m.playback != nil {
					m.playback.IsMuted = muted
				}
				m.mu.Unlock()
				m.reportProgress()
			}
		case "time-pos":
			if position, ok := event.Float(); ok {
				m.mu.Lock()
				if m.playback != nil {
					m.playback.PositionTicks = jellyfin.SecondsToTicks(position)
				}
				due := time.Since(m.lastReport) >= progressInterval()
				m.mu.Unlock()
				if due {
					m.reportProgress()
				}
			}
		}
	}
}

// pumpEvents consumes the general event bus until the player dies, then
// clears the playback context and surfaces the loss.
func (m *Manager) pumpEvents(events <-chan mpv.Event) {
	defer log.Recover("event pump")

	for event := range events {
		switch event.Event {
		case mpv.EventEndFile:
			m.handleEndFile(event)
		case mpv.EventClientMessage:
			m.handleClientMessage(event)
		}
	}

	m.pumpMu.Lock()
	m.pumpRunning = false
	m.pumpMu.Unlock()

	log.Warn("session: player connection lost")
	m.bus.Publish(notify.Warning, "Player disconnected")
	m.ClearPlayback()
}

// handleEndFile treats a natural end of file as "advance to the next
// episode"; every other reason stops the session without advancing.
func (m *Manager) handleEndFile(event mpv.Event) {
	log.Infof("session: end-file reason=%q", event.Reason)

	if event.Reason != mpv.EndFileEOF {
		m.mu.Lock()
		if m.suppressEndFile > 0 {
			m.suppressEndFile--
			m.mu.Unlock()
			return
		}
		m.loaded = false
		m.mu.Unlock()
		m.reportStopped()
		return
	}

	// keep-open holds the ended file in the player, so it stays loaded: the
	// auto-advance load below replaces it and must arm the suppression
	// counter in handlePlay, exactly like a directive-triggered replacement.
	m.playAdjacent(true)
}

// handleClientMessage maps the player-side key chords onto episode
// navigation.
func (m *Manager) handleClientMessage(event mpv.Event) {
	if len(event.Args) == 0 {
		return
	}

	switch event.Args[0] {
	case mpv.TokenNext:
		log.Info("session: player keybinding: next episode")
		m.playAdjacent(true)
	case mpv.TokenPrev:
		log.Info("session: player keybinding: previous episode")
		m.playAdjacent(false)
	default:
		log.Debugf("session: unknown client message %q", event.Args[0])
	}
}
