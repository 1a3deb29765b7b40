package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmsr-app/jmsr/constant"
	"github.com/jmsr-app/jmsr/key"
	"github.com/jmsr-app/jmsr/log"
	"github.com/jmsr-app/jmsr/network"
	"github.com/spf13/viper"
)

// ErrNotConnected means no server session is established.
var ErrNotConnected = errors.New("jellyfin: not connected")

// HTTPError is a non-2xx server response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("jellyfin: http %d: %s", e.Status, e.Body)
}

const (
	authHeaderName = "X-Emby-Authorization"

	requestTimeout = 10 * time.Second

	maxStreamingBitrate = 140_000_000
	bodyExcerptLimit    = 256
)

// tokenParams are the query parameter names redacted from logged URLs.
var tokenParams = []string{"api_key", "ApiKey", "X-Emby-Token"}

// Client is the typed HTTP surface of the media server.
type Client struct {
	http *http.Client

	mu          sync.RWMutex
	serverURL   string
	accessToken string
	userID      string
	userName    string
	serverName  string
	deviceID    string
}

// NewClient returns a client bound to the shared HTTP transport and the
// persisted device identity.
func NewClient() *Client {
	return &Client{
		http:     network.Client,
		deviceID: DeviceID(),
	}
}

// DeviceIdentifier returns the stable device id presented to the server.
func (c *Client) DeviceIdentifier() string {
	return c.deviceID
}

// deviceName reads the user-facing display name, falling back to the default.
func deviceName() string {
	if name := strings.TrimSpace(viper.GetString(key.DeviceName)); name != "" {
		return name
	}
	return constant.DeviceName
}

// authHeader builds the identity header; the token is appended only once
// one is held.
func (c *Client) authHeader(token string) string {
	header := fmt.Sprintf(
		`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		constant.ClientName, deviceName(), c.deviceID, constant.Version,
	)
	if token != "" {
		header += fmt.Sprintf(`, Token="%s"`, token)
	}
	return header
}

// RedactURL replaces the value of every recognized token query parameter
// with a fixed placeholder. Only logged URLs pass through here; request URLs
// stay untouched.
func RedactURL(raw string) string {
	base, query, found := strings.Cut(raw, "?")
	if !found {
		return raw
	}

	params := strings.Split(query, "&")
	for i, param := range params {
		name, _, hasValue := strings.Cut(param, "=")
		if !hasValue {
			continue
		}
		for _, tokenName := range tokenParams {
			if strings.EqualFold(name, tokenName) {
				params[i] = name + "=***"
				break
			}
		}
	}

	return base + "?" + strings.Join(params, "&")
}

// Authenticate logs in by name and stores the session on success.
func (c *Client) Authenticate(ctx context.Context, serverURL, username, password string) (*AuthResponse, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("jellyfin: server URL must start with http:// or https://")
	}

	body := map[string]string{"Username": username, "Pw": password}

	var auth AuthResponse
	if err := c.roundTrip(ctx, http.MethodPost, serverURL+"/Users/AuthenticateByName", "", body, &auth); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.serverURL = serverURL
	c.accessToken = auth.AccessToken
	c.userID = auth.User.ID
	c.userName = auth.User.Name
	c.mu.Unlock()

	if info, err := c.FetchServerInfo(ctx); err == nil {
		c.mu.Lock()
		c.serverName = info.ServerName
		c.mu.Unlock()
	}

	return &auth, nil
}

// Restore adopts a saved session and validates it against the server's
// public info endpoint; the session is dropped again if validation fails.
func (c *Client) Restore(ctx context.Context, saved *SavedSession, token string) error {
	c.mu.Lock()
	c.serverURL = strings.TrimRight(saved.ServerURL, "/")
	c.accessToken = token
	c.userID = saved.UserID
	c.userName = saved.UserName
	c.serverName = saved.ServerName
	c.mu.Unlock()

	info, err := c.FetchServerInfo(ctx)
	if err != nil {
		c.Disconnect()
		return fmt.Errorf("jellyfin: session validation failed: %w", err)
	}

	c.mu.Lock()
	c.serverName = info.ServerName
	c.mu.Unlock()
	return nil
}

// Disconnect forgets the in-memory session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serverURL = ""
	c.accessToken = ""
	c.userID = ""
	c.userName = ""
	c.serverName = ""
}

// Connected reports whether a session is held.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

// Session returns the current session for persistence, or false when none
// is held. The access token travels separately.
func (c *Client) Session() (*SavedSession, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return nil, "", false
	}
	return &SavedSession{
		ServerURL:  c.serverURL,
		UserID:     c.userID,
		UserName:   c.userName,
		ServerName: c.serverName,
		DeviceID:   c.deviceID,
	}, c.accessToken, true
}

// session snapshots the connection fields or fails with ErrNotConnected.
func (c *Client) session() (serverURL, token, userID string, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken == "" {
		return "", "", "", ErrNotConnected
	}
	return c.serverURL, c.accessToken, c.userID, nil
}

// FetchServerInfo reads the server's public system information.
func (c *Client) FetchServerInfo(ctx context.Context) (*ServerInfo, error) {
	c.mu.RLock()
	serverURL := c.serverURL
	c.mu.RUnlock()
	if serverURL == "" {
		return nil, ErrNotConnected
	}

	var info ServerInfo
	if err := c.roundTrip(ctx, http.MethodGet, serverURL+"/System/Info/Public", "", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// roundTrip performs one HTTP exchange with the request-scoped deadline,
// the identity header, a 2xx check, and an optional JSON body decode.
func (c *Client) roundTrip(ctx context.Context, method, rawURL, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("jellyfin: encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return fmt.Errorf("jellyfin: build request: %w", err)
	}
	req.Header.Set(authHeaderName, c.authHeader(token))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debugf("jellyfin: %s %s", method, RedactURL(rawURL))

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("jellyfin: %s %s: timeout", method, RedactURL(rawURL))
		}
		return fmt.Errorf("jellyfin: %s %s: %w", method, RedactURL(rawURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit))
		return &HTTPError{Status: resp.StatusCode, Body: string(excerpt)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("jellyfin: decode response: %w", err)
	}
	return nil
}

// get performs an authenticated GET against a server path.
func (c *Client) get(ctx context.Context, path string, out any) error {
	serverURL, token, _, err := c.session()
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, http.MethodGet, serverURL+path, token, nil, out)
}

// post performs an authenticated POST against a server path.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	serverURL, token, _, err := c.session()
	if err != nil {
		return err
	}
	return c.roundTrip(ctx, http.MethodPost, serverURL+path, token, body, out)
}

// GetItem fetches a media item by id.
func (c *Client) GetItem(ctx context.Context, itemID string) (*MediaItem, error) {
	_, _, userID, err := c.session()
	if err != nil {
		return nil, err
	}

	var item MediaItem
	if err := c.get(ctx, fmt.Sprintf("/Users/%s/Items/%s", userID, itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetPlaybackInfo negotiates a playable media source for an item.
func (c *Client) GetPlaybackInfo(ctx context.Context, itemID string, audioIndex, subtitleIndex *int) (*PlaybackInfoResponse, error) {
	_, _, userID, err := c.session()
	if err != nil {
		return nil, err
	}

	request := PlaybackInfoRequest{
		UserID:              userID,
		DeviceID:            c.deviceID,
		MaxStreamingBitrate: maxStreamingBitrate,
		AudioStreamIndex:    audioIndex,
		SubtitleStreamIndex: subtitleIndex,
		EnableDirectPlay:    true,
		EnableDirectStream:  true,
		EnableTranscoding:   true,
		AutoOpenLiveStream:  true,
	}

	var info PlaybackInfoResponse
	if err := c.post(ctx, fmt.Sprintf("/Items/%s/PlaybackInfo", itemID), &request, &info); err != nil {
		return nil, err
	}
	if info.PlaySessionID == "" {
		info.PlaySessionID = uuid.NewString()
	}
	return &info, nil
}

// GetEpisodes lists the episodes of a series in order.
func (c *Client) GetEpisodes(ctx context.Context, seriesID string) ([]MediaItem, error) {
	_, _, userID, err := c.session()
	if err != nil {
		return nil, err
	}

	var resp EpisodesResponse
	path := fmt.Sprintf("/Shows/%s/Episodes?userId=%s", seriesID, url.QueryEscape(userID))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// GetNextEpisode resolves the episode after the given one in its series, or
// nil when the series has ended.
func (c *Client) GetNextEpisode(ctx context.Context, current *MediaItem) (*MediaItem, error) {
	return c.adjacentEpisode(ctx, current, 1)
}

// GetPreviousEpisode resolves the episode before the given one, or nil at
// the start of the series.
func (c *Client) GetPreviousEpisode(ctx context.Context, current *MediaItem) (*MediaItem, error) {
	return c.adjacentEpisode(ctx, current, -1)
}

func (c *Client) adjacentEpisode(ctx context.Context, current *MediaItem, offset int) (*MediaItem, error) {
	if current == nil || current.SeriesID == "" {
		return nil, nil
	}

	episodes, err := c.GetEpisodes(ctx, current.SeriesID)
	if err != nil {
		return nil, err
	}

	for i := range episodes {
		if episodes[i].ID == current.ID {
			j := i + offset
			if j < 0 || j >= len(episodes) {
				return nil, nil
			}
			return &episodes[j], nil
		}
	}
	return nil, nil
}

// StreamURL builds the playback URL handed to the player. File-protocol
// sources play by local path; everything else uses the static streaming
// route with the token as a query parameter.
func (c *Client) StreamURL(itemID string, source *MediaSource) (string, error) {
	serverURL, token, _, err := c.session()
	if err != nil {
		return "", err
	}

	if source.Protocol == "File" && source.Path != "" {
		return source.Path, nil
	}

	container := source.Container
	if container == "" {
		container = "mkv"
	}

	return fmt.Sprintf(
		"%s/Videos/%s/stream.%s?Static=true&MediaSourceId=%s&api_key=%s",
		serverURL, itemID, container, source.ID, token,
	), nil
}

// WebSocketURL derives the control-link endpoint from the session.
func (c *Client) WebSocketURL() (string, error) {
	serverURL, token, _, err := c.session()
	if err != nil {
		return "", err
	}

	wsURL := serverURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	return fmt.Sprintf("%s/socket?api_key=%s&deviceId=%s", wsURL, token, c.deviceID), nil
}

// ReportStart posts the playback-started report.
func (c *Client) ReportStart(ctx context.Context, info *PlaybackStartInfo) error {
	return c.post(ctx, "/Sessions/Playing", info, nil)
}

// ReportProgress posts a playback progress report.
func (c *Client) ReportProgress(ctx context.Context, info *PlaybackProgressInfo) error {
	return c.post(ctx, "/Sessions/Playing/Progress", info, nil)
}

// ReportStopped posts the playback-stopped report.
func (c *Client) ReportStopped(ctx context.Context, info *PlaybackStopInfo) error {
	return c.post(ctx, "/Sessions/Playing/Stopped", info, nil)
}

// ReportCapabilities registers the receiver as a controllable cast target.
// Re-posted on every control-link (re)connect. Nothing re-posts it when the
// device name changes while the receiver runs; the configured name is read
// once at startup.
func (c *Client) ReportCapabilities(ctx context.Context) error {
	capabilities := map[string]any{
		"PlayableMediaTypes": []string{"Video", "Audio"},
		"SupportsMediaControl": true,
		"SupportedCommands": []string{
			"Play",
			"Pause",
			"Unpause",
			"PlayState",
			"Stop",
			"Seek",
			"SetVolume",
			"VolumeUp",
			"VolumeDown",
			"Mute",
			"Unmute",
			"ToggleMute",
			"SetAudioStreamIndex",
			"SetSubtitleStreamIndex",
			"PlayNext",
			"PlayMediaSource",
		},
		"SupportsPersistentIdentifier": true,
		"SupportsSync":                 false,
	}

	log.Info("jellyfin: reporting capabilities")
	return c.post(ctx, "/Sessions/Capabilities/Full", capabilities, nil)
}
