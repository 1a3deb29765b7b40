package jellyfin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmsr-app/jmsr/filesystem"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	filesystem.SetMemMapFs()
}

// newTestClient authenticates a client against a stub server handling the
// given extra routes.
func newTestClient(t *testing.T, routes map[string]http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Users/AuthenticateByName", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Authorization") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(AuthResponse{
			User:        User{ID: "user-1", Name: "alice"},
			AccessToken: "secret-token",
			ServerID:    "srv-1",
		})
	})
	mux.HandleFunc("/System/Info/Public", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ServerInfo{ServerName: "Home", Version: "10.9", ID: "srv-1"})
	})
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := NewClient()
	if _, err := client.Authenticate(context.Background(), server.URL, "alice", "hunter2"); err != nil {
		t.Fatal(err)
	}
	return client, server
}

func TestAuthenticate(t *testing.T) {
	Convey("Authentication", t, func() {
		client, _ := newTestClient(t, nil)

		So(client.Connected(), ShouldBeTrue)

		saved, token, ok := client.Session()
		So(ok, ShouldBeTrue)
		So(token, ShouldEqual, "secret-token")
		So(saved.UserID, ShouldEqual, "user-1")
		So(saved.ServerName, ShouldEqual, "Home")

		Convey("Disconnect forgets the session", func() {
			client.Disconnect()
			So(client.Connected(), ShouldBeFalse)
			_, err := client.GetItem(context.Background(), "x")
			So(err, ShouldEqual, ErrNotConnected)
		})

		Convey("A malformed server URL is rejected", func() {
			fresh := NewClient()
			_, err := fresh.Authenticate(context.Background(), "example.com", "a", "b")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestHTTPErrors(t *testing.T) {
	Convey("Non-2xx responses surface as typed errors", t, func() {
		client, _ := newTestClient(t, map[string]http.HandlerFunc{
			"/Users/user-1/Items/": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte("Item not found"))
			},
		})

		_, err := client.GetItem(context.Background(), "missing")
		So(err, ShouldNotBeNil)

		var httpErr *HTTPError
		So(errors.As(err, &httpErr), ShouldBeTrue)
		So(httpErr.Status, ShouldEqual, 404)
		So(httpErr.Body, ShouldContainSubstring, "Item not found")
	})
}

func TestGetItemAndEpisodes(t *testing.T) {
	Convey("Item and episode fetches", t, func() {
		episodes := EpisodesResponse{
			Items: []MediaItem{
				{ID: "ep-6", SeriesID: "series-S"},
				{ID: "ep-7", SeriesID: "series-S"},
				{ID: "ep-8", SeriesID: "series-S"},
			},
			TotalRecordCount: 3,
		}

		client, _ := newTestClient(t, map[string]http.HandlerFunc{
			"/Users/user-1/Items/ep-7": func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(MediaItem{ID: "ep-7", Name: "Seven", Type: "Episode", SeriesID: "series-S"})
			},
			"/Shows/series-S/Episodes": func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(episodes)
			},
		})

		item, err := client.GetItem(context.Background(), "ep-7")
		So(err, ShouldBeNil)
		So(item.Name, ShouldEqual, "Seven")

		Convey("Next episode is the series-order successor", func() {
			next, err := client.GetNextEpisode(context.Background(), item)
			So(err, ShouldBeNil)
			So(next.ID, ShouldEqual, "ep-8")
		})

		Convey("Previous episode is the predecessor", func() {
			prev, err := client.GetPreviousEpisode(context.Background(), item)
			So(err, ShouldBeNil)
			So(prev.ID, ShouldEqual, "ep-6")
		})

		Convey("The last episode has no successor", func() {
			last := &MediaItem{ID: "ep-8", SeriesID: "series-S"}
			next, err := client.GetNextEpisode(context.Background(), last)
			So(err, ShouldBeNil)
			So(next, ShouldBeNil)
		})
	})
}

func TestStreamURL(t *testing.T) {
	Convey("Stream URLs", t, func() {
		client, server := newTestClient(t, nil)

		Convey("HTTP sources use the static streaming route with the token", func() {
			url, err := client.StreamURL("item-42", &MediaSource{ID: "src-1", Protocol: "Http", Container: "mkv"})
			So(err, ShouldBeNil)
			So(url, ShouldEqual, server.URL+"/Videos/item-42/stream.mkv?Static=true&MediaSourceId=src-1&api_key=secret-token")
		})

		Convey("File sources play by local path", func() {
			url, err := client.StreamURL("item-42", &MediaSource{ID: "src-1", Protocol: "File", Path: "/media/movie.mkv"})
			So(err, ShouldBeNil)
			So(url, ShouldEqual, "/media/movie.mkv")
		})
	})
}

func TestRedaction(t *testing.T) {
	Convey("Token redaction", t, func() {
		Convey("Recognized token parameters are masked", func() {
			redacted := RedactURL("http://srv/Videos/i/stream.mkv?Static=true&api_key=secret-token")
			So(redacted, ShouldNotContainSubstring, "secret-token")
			So(redacted, ShouldContainSubstring, "api_key=***")
		})

		Convey("Matching is case-insensitive on the parameter name", func() {
			redacted := RedactURL("ws://srv/socket?ApiKey=tok&deviceId=d1")
			So(redacted, ShouldNotContainSubstring, "tok")
			So(redacted, ShouldContainSubstring, "deviceId=d1")
		})

		Convey("URLs without token parameters pass through unchanged", func() {
			raw := "http://srv/Users/u/Items/i"
			So(RedactURL(raw), ShouldEqual, raw)
		})

		Convey("The request URL itself is untouched", func() {
			var seen string
			client, _ := newTestClient(t, map[string]http.HandlerFunc{
				"/Sessions/Playing/Progress": func(w http.ResponseWriter, r *http.Request) {
					seen = r.URL.String()
				},
			})

			err := client.ReportProgress(context.Background(), &PlaybackProgressInfo{ItemID: "i"})
			So(err, ShouldBeNil)
			So(seen, ShouldEqual, "/Sessions/Playing/Progress")
		})
	})
}

func TestAuthHeader(t *testing.T) {
	Convey("The identity header carries client, device, id and version", t, func() {
		client, _ := newTestClient(t, nil)
		header := client.authHeader("tok")

		So(header, ShouldStartWith, `MediaBrowser Client="`)
		So(header, ShouldContainSubstring, `DeviceId="`+client.DeviceIdentifier()+`"`)
		So(header, ShouldContainSubstring, `Token="tok"`)
		So(strings.Count(header, "="), ShouldBeGreaterThanOrEqualTo, 5)
	})
}

func TestWebSocketURL(t *testing.T) {
	Convey("The control-link endpoint derives from the session", t, func() {
		client, server := newTestClient(t, nil)

		url, err := client.WebSocketURL()
		So(err, ShouldBeNil)
		So(url, ShouldStartWith, "ws://")
		So(url, ShouldContainSubstring, strings.TrimPrefix(server.URL, "http://"))
		So(url, ShouldContainSubstring, "api_key=secret-token")
		So(url, ShouldContainSubstring, "deviceId="+client.DeviceIdentifier())
	})
}
