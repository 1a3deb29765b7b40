package jellyfin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmsr-app/jmsr/log"
)

// reconnectDelays is the capped exponential backoff schedule; the last entry
// repeats. A successful connect resets the sequence.
var reconnectDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// ReconnectDelay returns the wait before the given zero-based reconnect
// attempt.
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(reconnectDelays) {
		attempt = len(reconnectDelays) - 1
	}
	return reconnectDelays[attempt]
}

const keepAliveInterval = 30 * time.Second

// Link is the duplex control channel from the server. It keeps itself
// connected with capped exponential backoff and hands typed directives to
// the orchestrator in arrival order.
type Link struct {
	client *Client

	directives chan Directive

	// OnConnect runs after every successful (re)connect; OnDisconnect after
	// every drop and every failed connect attempt. Both are optional.
	OnConnect    func()
	OnDisconnect func()
}

// NewLink returns a control link bound to the client's session.
func NewLink(client *Client) *Link {
	return &Link{
		client:     client,
		directives: make(chan Directive, 32),
	}
}

// Directives is the ordered stream of server commands.
func (l *Link) Directives() <-chan Directive {
	return l.directives
}

// Run drives the connect/read/reconnect cycle until the context is
// cancelled. Each drop or failed connect attempt invokes OnDisconnect; each
// successful connect invokes OnConnect, and its later drop resets the backoff.
func (l *Link) Run(ctx context.Context) {
	defer log.Recover("control link")

	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := l.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			log.Warnf("jellyfin: control link down: %v", err)
		} else {
			// The dial succeeded and the connection later dropped, so the
			// schedule restarts from the first delay.
			attempt = 0
		}
		if l.OnDisconnect != nil {
			l.OnDisconnect()
		}

		delay := ReconnectDelay(attempt)
		attempt++
		log.Infof("jellyfin: reconnecting control link in %s (attempt %d)", delay, attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndServe performs one dial and, on success, serves the connection
// until it drops. A nil return means the connection was established and
// later lost; an error means no connection was established (no session to
// derive the URL from, or the dial failed).
func (l *Link) connectAndServe(ctx context.Context) error {
	wsURL, err := l.client.WebSocketURL()
	if err != nil {
		return err
	}

	log.Infof("jellyfin: dialing control link %s", RedactURL(wsURL))

	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	cancel()
	if err != nil {
		return err
	}

	defer conn.Close()

	// Announce ourselves as an active session before anything else.
	if err := l.write(conn, map[string]any{"MessageType": "SessionsStart", "Data": "1000,1000"}); err != nil {
		return nil
	}

	log.Info("jellyfin: control link connected")
	if l.OnConnect != nil {
		l.OnConnect()
	}

	incoming := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		// A server that stops sending anything, keepalives included, is
		// treated as disconnected.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * keepAliveInterval))
			_, payload, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			incoming <- payload
		}
	}()

	keepalive := time.NewTicker(keepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErr:
			log.Warnf("jellyfin: control link read: %v", err)
			return nil
		case payload := <-incoming:
			l.handleMessage(conn, payload)
		case <-keepalive.C:
			if err := l.write(conn, map[string]any{"MessageType": "KeepAlive"}); err != nil {
				return nil
			}
		}
	}
}

// write serializes outbound frames; gorilla permits one concurrent writer.
func (l *Link) write(conn *websocket.Conn, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// handleMessage decodes one control frame and forwards known directives.
// Unknown message types are ignored without error; servers of different
// versions send fields and types we do not use.
func (l *Link) handleMessage(conn *websocket.Conn, payload []byte) {
	var msg wsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Warnf("jellyfin: discarding malformed control frame: %v", err)
		return
	}

	switch msg.MessageType {
	case "Play":
		var request PlayRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Warnf("jellyfin: bad Play payload: %v", err)
			return
		}
		log.Infof("jellyfin: directive Play items=%v", request.ItemIDs)
		l.directives <- PlayDirective{request}

	case "Playstate":
		var request PlaystateRequest
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Warnf("jellyfin: bad Playstate payload: %v", err)
			return
		}
		log.Infof("jellyfin: directive Playstate %s", request.Command)
		l.directives <- PlaystateDirective{request}

	case "GeneralCommand":
		var request GeneralCommand
		if err := json.Unmarshal(msg.Data, &request); err != nil {
			log.Warnf("jellyfin: bad GeneralCommand payload: %v", err)
			return
		}
		log.Infof("jellyfin: directive GeneralCommand %s", request.Name)
		l.directives <- GeneralDirective{request}

	case "KeepAlive", "ForceKeepAlive":
		if err := l.write(conn, map[string]any{"MessageType": "KeepAlive"}); err != nil {
			log.Warnf("jellyfin: keepalive reply: %v", err)
		}

	default:
		log.Debugf("jellyfin: ignoring control message type %q", msg.MessageType)
	}
}
