// Package prefs implements the per-series track preference store: remembered
// audio and subtitle language choices applied automatically when any episode
// of a series starts playing.
package prefs

import (
	"sync"
	"time"

	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/where"
	"github.com/metafates/gache"
)

// saveDebounce delays the disk write so rapid track cycling collapses into
// one save.
const saveDebounce = 500 * time.Millisecond

// Preference is the remembered track selection for one series. An empty
// language means no preference was expressed for that kind.
type Preference struct {
	AudioLanguage    string `json:"audio_language,omitempty"`
	AudioTitle       string `json:"audio_title,omitempty"`
	SubtitleLanguage string `json:"subtitle_language,omitempty"`
	SubtitleTitle    string `json:"subtitle_title,omitempty"`
	SubtitleEnabled  bool   `json:"is_subtitle_enabled"`
}

// Store is the disk-backed preference registry keyed by series id.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Preference
	cacher  *gache.Cache[map[string]*Preference]
	timer   *time.Timer
}

// Open loads the persisted registry.
func Open() (*Store, error) {
	cacher := gache.New[map[string]*Preference](
		&gache.Options{
			Path:       where.Preferences(),
			FileSystem: &filesystem.GacheFs{},
		},
	)

	entries, expired, err := cacher.Get()
	if err != nil {
		return nil, err
	}
	if expired || entries == nil {
		entries = make(map[string]*Preference)
	}

	return &Store{entries: entries, cacher: cacher}, nil
}

// Get returns a copy of the preference for a series.
func (s *Store) Get(seriesID string) (Preference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pref, ok := s.entries[seriesID]
	if !ok {
		return Preference{}, false
	}
	return *pref, true
}

// SetAudio remembers the audio language for a series.
func (s *Store) SetAudio(seriesID, language, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pref := s.entry(seriesID)
	pref.AudioLanguage = language
	pref.AudioTitle = title
	s.scheduleSave()
}

// SetSubtitle remembers the subtitle selection for a series. Disabling
// clears the remembered language.
func (s *Store) SetSubtitle(seriesID, language, title string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pref := s.entry(seriesID)
	pref.SubtitleEnabled = enabled
	if enabled {
		pref.SubtitleLanguage = language
		pref.SubtitleTitle = title
	} else {
		pref.SubtitleLanguage = ""
		pref.SubtitleTitle = ""
	}
	s.scheduleSave()
}

// entry returns the mutable record for a series; callers hold s.mu.
func (s *Store) entry(seriesID string) *Preference {
	pref, ok := s.entries[seriesID]
	if !ok {
		pref = &Preference{}
		s.entries[seriesID] = pref
	}
	return pref
}

// scheduleSave arms the trailing-edge debounce timer; callers hold s.mu.
func (s *Store) scheduleSave() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(saveDebounce, func() {
		if err := s.Flush(); err != nil {
			log.Errorf("prefs: save failed: %v", err)
		}
	})
}

// Flush writes the registry to disk immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	snapshot := make(map[string]*Preference, len(s.entries))
	for id, pref := range s.entries {
		copied := *pref
		snapshot[id] = &copied
	}
	s.mu.Unlock()

	return s.cacher.Set(snapshot)
}
