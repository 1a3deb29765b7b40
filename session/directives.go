package session

import (
	"errors"
	"fmt"

	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/mpv"
	"github.com/jmsr-app/jmsr/notify"
	"github.com/spf13/viper"
)

// handlePlay resolves the first queued item, applies remembered track
// preferences, ensures the player is alive, loads the stream, and posts the
// initial reports.
func (m *Manager) handlePlay(request jellyfin.PlayRequest) error {
	if len(request.ItemIDs) == 0 {
		return errors.New("play directive without items")
	}
	itemID := request.ItemIDs[0]

	item, err := m.server.GetItem(m.ctx, itemID)
	if err != nil {
		return fmt.Errorf("fetch item: %w", err)
	}

	info, err := m.server.GetPlaybackInfo(m.ctx, itemID, request.AudioStreamIndex, request.SubtitleStreamIndex)
	if err != nil {
		return fmt.Errorf("playback info: %w", err)
	}
	if len(info.MediaSources) == 0 {
		return fmt.Errorf("no media source for item %s", itemID)
	}
	source := &info.MediaSources[0]

	audioIndex, subtitleIndex := m.effectiveIndices(item, source.MediaStreams, request)

	url, err := m.server.StreamURL(itemID, source)
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}

	if !m.player.Running() {
		if err := m.player.Start(); err != nil {
			m.bus.Publish(notify.Error, "Failed to start player: %v", err)
			return err
		}
	}

	// Replacing a playing file makes the player emit an end-file for the old
	// one; that event must not stop the session we are about to create.
	m.mu.Lock()
	if m.loaded {
		m.suppressEndFile++
	}
	m.mu.Unlock()

	log.Infof("session: loading %s (%s)", item.DisplayTitle(), jellyfin.RedactURL(url))
	if err := m.player.Load(url); err != nil {
		m.bus.Publish(notify.Error, "Failed to load media: %v", err)
		return err
	}

	m.mu.Lock()
	m.loaded = true
	m.currentItem = item
	m.currentSeriesID = item.SeriesID
	m.currentStreams = source.MediaStreams
	m.playback = &jellyfin.PlaybackSession{
		ItemID:              itemID,
		MediaSourceID:       source.ID,
		PlaySessionID:       info.PlaySessionID,
		PositionTicks:       request.StartPositionTicks,
		Volume:              100,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: subtitleIndex,
	}
	m.mu.Unlock()

	start := &jellyfin.PlaybackStartInfo{
		ItemID:              itemID,
		MediaSourceID:       source.ID,
		PlaySessionID:       info.PlaySessionID,
		PositionTicks:       request.StartPositionTicks,
		VolumeLevel:         100,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: subtitleIndex,
		PlayMethod:          source.PlayMethod(),
		CanSeek:             true,
	}
	if err := m.server.ReportStart(m.ctx, start); err != nil {
		log.Errorf("session: start report failed: %v", err)
	}

	// Seek before selecting tracks; a missing track is logged and playback
	// proceeds with the player's own choice.
	if request.StartPositionTicks > 0 {
		if err := m.player.Seek(jellyfin.TicksToSeconds(request.StartPositionTicks), mpv.SeekAbsolute); err != nil {
			log.Warnf("session: start seek failed: %v", err)
		}
	}
	m.applyTracks(source.MediaStreams, audioIndex, subtitleIndex)

	if err := m.player.Set("force-media-title", item.DisplayTitle()); err != nil {
		log.Warnf("session: set title failed: %v", err)
	}

	m.startEventPump()
	m.reportProgress()

	return nil
}

// effectiveIndices starts from the server-supplied stream indices and
// overrides them with the remembered preference for the item's series.
func (m *Manager) effectiveIndices(item *jellyfin.MediaItem, streams []jellyfin.MediaStream, request jellyfin.PlayRequest) (audio, subtitle *int) {
	audio = request.AudioStreamIndex
	subtitle = request.SubtitleStreamIndex

	if item.SeriesID == "" {
		return audio, subtitle
	}
	pref, ok := m.prefs.Get(item.SeriesID)
	if !ok {
		return audio, subtitle
	}

	if pref.AudioLanguage != "" {
		if idx, found := jellyfin.FindStreamByPreference(streams, jellyfin.StreamAudio, pref.AudioLanguage, pref.AudioTitle); found {
			log.Infof("session: preferred audio %q -> stream %d", pref.AudioLanguage, idx)
			audio = &idx
		}
	}

	if pref.SubtitleEnabled {
		if pref.SubtitleLanguage != "" {
			if idx, found := jellyfin.FindStreamByPreference(streams, jellyfin.StreamSubtitle, pref.SubtitleLanguage, pref.SubtitleTitle); found {
				log.Infof("session: preferred subtitle %q -> stream %d", pref.SubtitleLanguage, idx)
				subtitle = &idx
			}
		}
	} else {
		off := -1
		subtitle = &off
	}

	return audio, subtitle
}

// applyTracks pushes the effective selections to the player.
func (m *Manager) applyTracks(streams []jellyfin.MediaStream, audio, subtitle *int) {
	if audio != nil && *audio >= 0 {
		if err := m.player.Set("aid", playerTrackID(streams, jellyfin.StreamAudio, *audio)); err != nil {
			log.Warnf("session: set audio track: %v", err)
		}
	}

	if subtitle != nil {
		if *subtitle == -1 {
			if err := m.player.Set("sid", "no"); err != nil {
				log.Warnf("session: disable subtitles: %v", err)
			}
		} else {
			if err := m.player.Set("sid", playerTrackID(streams, jellyfin.StreamSubtitle, *subtitle)); err != nil {
				log.Warnf("session: set subtitle track: %v", err)
			}
		}
	}
}

// handlePlaystate translates a transport-control directive.
func (m *Manager) handlePlaystate(request jellyfin.PlaystateRequest) error {
	switch request.Command {
	case "Pause":
		m.setPaused(true)

	case "Unpause":
		m.setPaused(false)

	case "PlayPause":
		// The player is the ground truth: the user may have toggled pause
		// through the player's own keybindings.
		paused, err := m.player.GetBool("pause")
		if err != nil {
			log.Warnf("session: live pause query failed, using mirrored state: %v", err)
			session, ok := m.snapshotPlayback()
			paused = ok && session.IsPaused
		}
		m.setPaused(!paused)

	case "Seek":
		m.mu.Lock()
		if m.playback != nil {
			m.playback.PositionTicks = request.SeekPositionTicks
		}
		m.mu.Unlock()
		return m.player.Seek(jellyfin.TicksToSeconds(request.SeekPositionTicks), mpv.SeekAbsolute)

	case "Stop":
		m.mu.Lock()
		m.loaded = false
		m.mu.Unlock()
		m.reportStopped()
		if err := m.player.Stop(); err != nil && !errors.Is(err, mpv.ErrDisconnected) {
			log.Warnf("session: player stop: %v", err)
		}
		if viper.GetBool(key.PlayerAggressiveCleanup) {
			log.Info("session: aggressive cleanup, quitting player")
			return m.player.Quit()
		}

	case "NextTrack":
		m.playAdjacent(true)

	case "PreviousTrack":
		m.playAdjacent(false)

	default:
		log.Warnf("session: unhandled playstate command %q", request.Command)
	}

	return nil
}

// setPaused mirrors the flag and pushes it to the player.
func (m *Manager) setPaused(paused bool) {
	m.mu.Lock()
	if m.playback != nil {
		m.playback.IsPaused = paused
	}
	m.mu.Unlock()

	if err := m.player.Set("pause", paused); err != nil {
		log.Errorf("session: set pause: %v", err)
	}
}

// playAdjacent stops the current item and plays its neighbour in the series.
func (m *Manager) playAdjacent(next bool) {
	m.mu.RLock()
	item := m.currentItem
	m.mu.RUnlock()

	if item == nil {
		log.Warn("session: no current item for episode navigation")
		return
	}

	m.reportStopped()

	var (
		adjacent *jellyfin.MediaItem
		err      error
	)
	if next {
		adjacent, err = m.server.GetNextEpisode(m.ctx, item)
	} else {
		adjacent, err = m.server.GetPreviousEpisode(m.ctx, item)
	}
	if err != nil {
		log.Errorf("session: episode lookup failed: %v", err)
		return
	}
	if adjacent == nil {
		log.Info("session: no adjacent episode")
		m.mu.Lock()
		m.currentItem = nil
		m.currentSeriesID = ""
		m.mu.Unlock()
		return
	}

	log.Infof("session: advancing to %s", adjacent.DisplayTitle())
	if err := m.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{adjacent.ID}, PlayCommand: "PlayNow"}); err != nil {
		log.Errorf("session: adjacent play failed: %v", err)
	}
}

// handleGeneral translates a named general command.
func (m *Manager) handleGeneral(request jellyfin.GeneralCommand) error {
	switch request.Name {
	case "SetVolume":
		volume, ok := request.ArgumentInt("Volume")
		if !ok {
			return fmt.Errorf("SetVolume without volume argument")
		}
		m.mu.Lock()
		if m.playback != nil {
			m.playback.Volume = volume
		}
		m.mu.Unlock()
		return m.player.Set("volume", volume)

	case "Mute":
		return m.setMuted(true)

	case "Unmute":
		return m.setMuted(false)

	case "ToggleMute":
		return m.player.Cycle("mute")

	case "ToggleFullscreen":
		return m.player.Cycle("fullscreen")

	case "SetAudioStreamIndex":
		index, ok := request.ArgumentInt("Index")
		if !ok {
			return fmt.Errorf("SetAudioStreamIndex without index argument")
		}
		return m.selectAudioTrack(index)

	case "SetSubtitleStreamIndex":
		index, ok := request.ArgumentInt("Index")
		if !ok {
			return fmt.Errorf("SetSubtitleStreamIndex without index argument")
		}
		return m.selectSubtitleTrack(index)

	case "DisplayMessage":
		if text, ok := request.ArgumentString("Text"); ok {
			m.bus.Publish(notify.Info, "%s", text)
		}

	default:
		log.Debugf("session: unhandled general command %q", request.Name)
	}

	return nil
}

// setMuted mirrors the flag and pushes it to the player.
func (m *Manager) setMuted(muted bool) error {
	m.mu.Lock()
	if m.playback != nil {
		m.playback.IsMuted = muted
	}
	m.mu.Unlock()
	return m.player.Set("mute", muted)
}

// selectAudioTrack applies a server-chosen audio stream and remembers its
// language for the current series.
func (m *Manager) selectAudioTrack(index int) error {
	m.mu.Lock()
	if m.playback != nil {
		m.playback.AudioStreamIndex = &index
	}
	streams := m.currentStreams
	seriesID := m.currentSeriesID
	m.mu.Unlock()

	if seriesID != "" {
		for _, s := range streams {
			if s.Type == jellyfin.StreamAudio && s.Index == index {
				log.Infof("session: remembering audio %q for series %s", s.Language, seriesID)
				m.prefs.SetAudio(seriesID, s.Language, s.DisplayTitle)
				break
			}
		}
	}

	return m.player.Set("aid", playerTrackID(streams, jellyfin.StreamAudio, index))
}

// selectSubtitleTrack applies a server-chosen subtitle stream; -1 disables
// subtitles. Either way the choice is remembered for the current series.
func (m *Manager) selectSubtitleTrack(index int) error {
	m.mu.Lock()
	if m.playback != nil {
		m.playback.SubtitleStreamIndex = &index
	}
	streams := m.currentStreams
	seriesID := m.currentSeriesID
	m.mu.Unlock()

	if index == -1 {
		if seriesID != "" {
			log.Infof("session: remembering subtitles off for series %s", seriesID)
			m.prefs.SetSubtitle(seriesID, "", "", false)
		}
		return m.player.Set("sid", "no")
	}

	if seriesID != "" {
		for _, s := range streams {
			if s.Type == jellyfin.StreamSubtitle && s.Index == index {
				log.Infof("session: remembering subtitle %q for series %s", s.Language, seriesID)
				m.prefs.SetSubtitle(seriesID, s.Language, s.DisplayTitle, true)
				break
			}
		}
	}

	return m.player.Set("sid", playerTrackID(streams, jellyfin.StreamSubtitle, index))
}
