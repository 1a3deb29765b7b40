package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmsr-app/jmsr/config"
	"github.com/jmsr-app/jmsr/filesystem"
	"github.com/jmsr-app/jmsr/jellyfin"
	"github.com/jmsr-app/jmsr/mpv"
	"github.com/jmsr-app/jmsr/notify"
	"github.com/jmsr-app/jmsr/prefs"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	filesystem.SetMemMapFs()
	if err := config.Setup(); err != nil {
		panic(err)
	}
}

// propertySet records one property write against the fake player.
type propertySet struct {
	name  string
	value any
}

// fakePlayer satisfies Player and records every command.
type fakePlayer struct {
	mu      sync.Mutex
	running bool
	paused  bool
	loads   []string
	sets    []propertySet
	seeks   []float64
	stops   int
	quits   int
	events  chan mpv.Event
	subSeq  int64
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan mpv.Event, 16)}
}

func (f *fakePlayer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakePlayer) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePlayer) Load(url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	return nil
}

func (f *fakePlayer) Set(name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, propertySet{name, value})
	if name == "pause" {
		f.paused = value.(bool)
	}
	return nil
}

func (f *fakePlayer) GetBool(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "pause" {
		return f.paused, nil
	}
	return false, nil
}

func (f *fakePlayer) Seek(seconds float64, _ mpv.SeekMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	return nil
}

func (f *fakePlayer) Cycle(string) error { return nil }

func (f *fakePlayer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakePlayer) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	f.running = false
	return nil
}

func (f *fakePlayer) Observe(name string) (*mpv.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subSeq++
	return &mpv.Subscription{ID: f.subSeq, Name: name, C: make(chan mpv.Event, 16)}, nil
}

func (f *fakePlayer) Events() (<-chan mpv.Event, error) {
	return f.events, nil
}

// lastSet returns the most recent write to the named property.
func (f *fakePlayer) lastSet(name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sets) - 1; i >= 0; i-- {
		if f.sets[i].name == name {
			return f.sets[i].value, true
		}
	}
	return nil, false
}

func (f *fakePlayer) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

// fakeServer satisfies Server over an in-memory library.
type fakeServer struct {
	mu         sync.Mutex
	items      map[string]*jellyfin.MediaItem
	streams    map[string][]jellyfin.MediaStream
	next       map[string]string
	prev       map[string]string
	starts     []jellyfin.PlaybackStartInfo
	progresses []jellyfin.PlaybackProgressInfo
	stopped    []jellyfin.PlaybackStopInfo
	nextCalls  int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		items:   map[string]*jellyfin.MediaItem{},
		streams: map[string][]jellyfin.MediaStream{},
		next:    map[string]string{},
		prev:    map[string]string{},
	}
}

func (f *fakeServer) GetItem(_ context.Context, itemID string) (*jellyfin.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[itemID]
	if !ok {
		return nil, fmt.Errorf("no such item %s", itemID)
	}
	copied := *item
	return &copied, nil
}

func (f *fakeServer) GetPlaybackInfo(_ context.Context, itemID string, _, _ *int) (*jellyfin.PlaybackInfoResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &jellyfin.PlaybackInfoResponse{
		MediaSources: []jellyfin.MediaSource{{
			ID:                 "src-" + itemID,
			Protocol:           "Http",
			Container:          "mkv",
			MediaStreams:       f.streams[itemID],
			SupportsDirectPlay: true,
		}},
		PlaySessionID: "ps-" + itemID,
	}, nil
}

func (f *fakeServer) StreamURL(itemID string, source *jellyfin.MediaSource) (string, error) {
	return fmt.Sprintf("http://server/Videos/%s/stream.%s?Static=true&MediaSourceId=%s&api_key=secret",
		itemID, source.Container, source.ID), nil
}

func (f *fakeServer) GetNextEpisode(_ context.Context, current *jellyfin.MediaItem) (*jellyfin.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCalls++
	id, ok := f.next[current.ID]
	if !ok {
		return nil, nil
	}
	copied := *f.items[id]
	return &copied, nil
}

func (f *fakeServer) GetPreviousEpisode(_ context.Context, current *jellyfin.MediaItem) (*jellyfin.MediaItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.prev[current.ID]
	if !ok {
		return nil, nil
	}
	copied := *f.items[id]
	return &copied, nil
}

func (f *fakeServer) ReportStart(_ context.Context, info *jellyfin.PlaybackStartInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, *info)
	return nil
}

func (f *fakeServer) ReportProgress(_ context.Context, info *jellyfin.PlaybackProgressInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progresses = append(f.progresses, *info)
	return nil
}

func (f *fakeServer) ReportStopped(_ context.Context, info *jellyfin.PlaybackStopInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, *info)
	return nil
}

func (f *fakeServer) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stopped)
}

func (f *fakeServer) nextCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextCalls
}

// episodeStreams is the stream layout of the series used across scenarios:
// audio eng(0) and jpn(2), subtitles eng(1) and chi(3).
func episodeStreams() []jellyfin.MediaStream {
	return []jellyfin.MediaStream{
		{Index: 0, Type: "Audio", Language: "eng", DisplayTitle: "English - AAC", IsDefault: true},
		{Index: 1, Type: "Subtitle", Language: "eng", DisplayTitle: "English - SRT"},
		{Index: 2, Type: "Audio", Language: "jpn", DisplayTitle: "Japanese - AAC"},
		{Index: 3, Type: "Subtitle", Language: "chi", DisplayTitle: "Chinese - SRT"},
	}
}

func newHarness(t *testing.T) (*Manager, *fakePlayer, *fakeServer, *prefs.Store) {
	t.Helper()

	// Each harness gets a pristine filesystem so preferences never leak
	// between scenarios.
	filesystem.SetMemMapFs()

	server := newFakeServer()
	server.items["ep-7"] = &jellyfin.MediaItem{ID: "ep-7", Name: "Seven", Type: "Episode", SeriesID: "series-S", SeriesName: "S", IndexNumber: 7, ParentIndexNumber: 1}
	server.items["ep-8"] = &jellyfin.MediaItem{ID: "ep-8", Name: "Eight", Type: "Episode", SeriesID: "series-S", SeriesName: "S", IndexNumber: 8, ParentIndexNumber: 1}
	server.streams["ep-7"] = episodeStreams()
	server.streams["ep-8"] = episodeStreams()
	server.next["ep-7"] = "ep-8"
	server.prev["ep-8"] = "ep-7"

	store, err := prefs.Open()
	if err != nil {
		t.Fatal(err)
	}

	player := newFakePlayer()
	manager := New(server, player, notify.NewBus(), store)
	return manager, player, server, store
}

func intp(v int) *int { return &v }

func TestPlayDirective(t *testing.T) {
	Convey("Play directive", t, func() {
		manager, player, server, _ := newHarness(t)

		Convey("Spawns the player, loads, applies tracks and reports", func() {
			err := manager.handlePlay(jellyfin.PlayRequest{
				ItemIDs:             []string{"ep-7"},
				AudioStreamIndex:    intp(2),
				SubtitleStreamIndex: intp(-1),
			})
			So(err, ShouldBeNil)

			So(player.Running(), ShouldBeTrue)
			So(player.loadCount(), ShouldEqual, 1)

			// Server stream 2 is the second audio track.
			aid, ok := player.lastSet("aid")
			So(ok, ShouldBeTrue)
			So(aid, ShouldEqual, 2)

			sid, ok := player.lastSet("sid")
			So(ok, ShouldBeTrue)
			So(sid, ShouldEqual, "no")

			So(len(server.starts), ShouldEqual, 1)
			So(len(server.progresses), ShouldEqual, 1)
			So(server.progresses[0].PositionTicks, ShouldEqual, 0)
		})

		Convey("A nonzero start position seeks before track selection", func() {
			err := manager.handlePlay(jellyfin.PlayRequest{
				ItemIDs:            []string{"ep-7"},
				StartPositionTicks: 30 * jellyfin.TicksPerSecond,
			})
			So(err, ShouldBeNil)
			So(player.seeks, ShouldResemble, []float64{30})
		})

		Convey("Remembered preferences override server-supplied indices", func() {
			// Scenario: preference audio=jpn, subtitle=chi enabled; the
			// effective indices must resolve to streams 2 and 3.
			manager.prefs.SetAudio("series-S", "jpn", "")
			manager.prefs.SetSubtitle("series-S", "chi", "", true)

			err := manager.handlePlay(jellyfin.PlayRequest{
				ItemIDs:             []string{"ep-7"},
				AudioStreamIndex:    intp(0),
				SubtitleStreamIndex: intp(0),
			})
			So(err, ShouldBeNil)

			So(*server.starts[0].AudioStreamIndex, ShouldEqual, 2)
			So(*server.starts[0].SubtitleStreamIndex, ShouldEqual, 3)

			// Player ordinals within each kind: jpn is audio #2, chi is
			// subtitle #2.
			aid, _ := player.lastSet("aid")
			So(aid, ShouldEqual, 2)
			sid, _ := player.lastSet("sid")
			So(sid, ShouldEqual, 2)
		})

		Convey("A disabled subtitle preference forces subtitles off", func() {
			manager.prefs.SetSubtitle("series-S", "", "", false)

			err := manager.handlePlay(jellyfin.PlayRequest{
				ItemIDs:             []string{"ep-7"},
				SubtitleStreamIndex: intp(1),
			})
			So(err, ShouldBeNil)

			So(*server.starts[0].SubtitleStreamIndex, ShouldEqual, -1)
			sid, _ := player.lastSet("sid")
			So(sid, ShouldEqual, "no")
		})
	})
}

func TestPlayPauseTruth(t *testing.T) {
	Convey("PlayPause consults the live player state", t, func() {
		manager, player, _, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		// The user paused through the player's own keybinding; the mirrored
		// session still believes playback is running.
		player.mu.Lock()
		player.paused = true
		player.mu.Unlock()

		err := manager.handlePlaystate(jellyfin.PlaystateRequest{Command: "PlayPause"})
		So(err, ShouldBeNil)

		paused, ok := player.lastSet("pause")
		So(ok, ShouldBeTrue)
		So(paused, ShouldEqual, false)
	})
}

func TestStopDirective(t *testing.T) {
	Convey("Stop reports once and clears the session", t, func() {
		manager, player, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		err := manager.handlePlaystate(jellyfin.PlaystateRequest{Command: "Stop"})
		So(err, ShouldBeNil)

		So(server.stopCount(), ShouldEqual, 1)
		So(player.stops, ShouldEqual, 1)
		So(player.quits, ShouldEqual, 0)

		_, active := manager.snapshotPlayback()
		So(active, ShouldBeFalse)

		Convey("A second stop does not report again", func() {
			So(manager.handlePlaystate(jellyfin.PlaystateRequest{Command: "Stop"}), ShouldBeNil)
			So(server.stopCount(), ShouldEqual, 1)
		})
	})
}

func TestNaturalEndAutoAdvance(t *testing.T) {
	Convey("end-file with reason eof advances exactly once", t, func() {
		manager, player, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		manager.handleEndFile(mpv.Event{Event: mpv.EventEndFile, Reason: mpv.EndFileEOF})

		So(server.stopCount(), ShouldEqual, 1)
		So(server.stopped[0].ItemID, ShouldEqual, "ep-7")
		So(server.nextCalls, ShouldEqual, 1)

		// One subsequent play for the next episode.
		So(player.loadCount(), ShouldEqual, 2)
		So(len(server.starts), ShouldEqual, 2)
		So(server.starts[1].ItemID, ShouldEqual, "ep-8")

		// Loading ep-8 replaced the keep-open-held ep-7, for which the
		// player emits one more non-eof end-file. It must be swallowed:
		// no extra stop report, and the new session stays alive.
		manager.handleEndFile(mpv.Event{Event: mpv.EventEndFile, Reason: "stop"})

		So(server.stopCount(), ShouldEqual, 1)
		_, active := manager.snapshotPlayback()
		So(active, ShouldBeTrue)
	})

	Convey("Any other end-file reason stops without advancing", t, func() {
		manager, player, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		manager.handleEndFile(mpv.Event{Event: mpv.EventEndFile, Reason: "quit"})

		So(server.stopCount(), ShouldEqual, 1)
		So(server.nextCalls, ShouldEqual, 0)
		So(player.loadCount(), ShouldEqual, 1)
	})
}

func TestClientMessageTokens(t *testing.T) {
	Convey("Player key chords drive episode navigation", t, func() {
		manager, player, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		manager.handleClientMessage(mpv.Event{Event: mpv.EventClientMessage, Args: []string{mpv.TokenNext}})

		So(server.stopCount(), ShouldEqual, 1)
		So(player.loadCount(), ShouldEqual, 2)
		So(server.starts[1].ItemID, ShouldEqual, "ep-8")
	})
}

func TestTrackChangePersistsPreference(t *testing.T) {
	Convey("SetAudioStreamIndex updates the player and the preference map", t, func() {
		manager, player, _, store := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		err := manager.handleGeneral(jellyfin.GeneralCommand{
			Name:      "SetAudioStreamIndex",
			Arguments: rawArgs(`{"Index": 2}`),
		})
		So(err, ShouldBeNil)

		aid, _ := player.lastSet("aid")
		So(aid, ShouldEqual, 2)

		pref, ok := store.Get("series-S")
		So(ok, ShouldBeTrue)
		So(pref.AudioLanguage, ShouldEqual, "jpn")
	})

	Convey("Subtitle off persists the disabled flag", t, func() {
		manager, player, _, store := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		err := manager.handleGeneral(jellyfin.GeneralCommand{
			Name:      "SetSubtitleStreamIndex",
			Arguments: rawArgs(`{"Index": "-1"}`),
		})
		So(err, ShouldBeNil)

		sid, _ := player.lastSet("sid")
		So(sid, ShouldEqual, "no")

		pref, ok := store.Get("series-S")
		So(ok, ShouldBeTrue)
		So(pref.SubtitleEnabled, ShouldBeFalse)
	})
}

func TestServerDropClearsSession(t *testing.T) {
	Convey("Losing the control link clears playback with one stop report", t, func() {
		manager, _, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		manager.ClearPlayback()

		So(server.stopCount(), ShouldEqual, 1)
		_, active := manager.snapshotPlayback()
		So(active, ShouldBeFalse)
	})
}

func TestEventPumpProjection(t *testing.T) {
	Convey("The event pump projects player events", t, func() {
		manager, player, server, _ := newHarness(t)
		So(manager.handlePlay(jellyfin.PlayRequest{ItemIDs: []string{"ep-7"}}), ShouldBeNil)

		Convey("An eof on the bus triggers the auto-advance", func() {
			player.events <- mpv.Event{Event: mpv.EventEndFile, Reason: mpv.EndFileEOF}

			So(eventually(func() bool { return player.loadCount() == 2 }), ShouldBeTrue)
			So(server.nextCount(), ShouldEqual, 1)
		})

		Convey("Closing the bus clears the playback context", func() {
			close(player.events)

			So(eventually(func() bool { return server.stopCount() == 1 }), ShouldBeTrue)
			_, active := manager.snapshotPlayback()
			So(active, ShouldBeFalse)
		})
	})
}

// eventually polls a condition for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func rawArgs(s string) map[string]json.RawMessage {
	var args map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		panic(err)
	}
	return args
}
