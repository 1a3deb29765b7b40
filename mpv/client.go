package mpv

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/jmsr-app/jmsr/log"
)

// Operation budgets. Loading a network stream takes far longer than a
// property write.
const (
	defaultTimeout = 5 * time.Second
	loadTimeout    = 30 * time.Second
	quitGrace      = 3 * time.Second
)

// SeekMode selects absolute or relative seeking.
type SeekMode string

const (
	SeekAbsolute SeekMode = "absolute"
	SeekRelative SeekMode = "relative"
)

// Player supervises the external mpv process and exposes the typed control
// surface over its IPC channel. The zero value is not usable; construct with
// NewPlayer.
type Player struct {
	mu       sync.Mutex
	endpoint string
	cmd      *exec.Cmd
	conn     *ipc
	exited   chan struct{}
}

// NewPlayer returns a supervisor bound to the default platform endpoint.
func NewPlayer() *Player {
	return &Player{endpoint: defaultEndpoint()}
}

// Start locates the executable, spawns the process with the baseline
// argument set, and connects the control channel. It is a no-op while a
// healthy player is already attached. The key-binding snippet is written on
// the first ever start.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running() {
		return nil
	}

	executable, err := findExecutable()
	if err != nil {
		return err
	}

	if err := writeKeybindSnippet(); err != nil {
		log.Warnf("%v", err)
	}

	removeEndpoint(p.endpoint)

	cmd, err := spawn(executable, p.endpoint)
	if err != nil {
		return err
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	conn, err := connect(p.endpoint)
	if err != nil {
		select {
		case <-exited:
		default:
			log.Warnf("mpv: killing player, control channel never came up")
			_ = killProcess(cmd)
		}
		return err
	}

	// Any exit, user-closed or crash, tears the channel down so every
	// waiter and subscriber learns about the death.
	go func() {
		<-exited
		log.Info("mpv: player process exited")
		conn.Close()
		removeEndpoint(p.endpoint)
	}()

	p.cmd = cmd
	p.conn = conn
	p.exited = exited

	log.Info("mpv: player connected")
	return nil
}

// running reports liveness; callers hold p.mu.
func (p *Player) running() bool {
	if p.conn == nil {
		return false
	}
	select {
	case <-p.conn.Done():
		return false
	default:
		return true
	}
}

// Running reports whether a controllable player process is attached.
func (p *Player) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running()
}

// channel returns the live IPC or ErrDisconnected.
func (p *Player) channel() (*ipc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running() {
		return nil, ErrDisconnected
	}
	return p.conn, nil
}

// Load instructs the player to open the given URL.
func (p *Player) Load(url string) error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	_, err = conn.request([]any{"loadfile", url}, loadTimeout)
	return err
}

// Set writes a named property (pause, volume, mute, aid, sid, ...).
func (p *Player) Set(name string, value any) error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	_, err = conn.request([]any{"set_property", name, value}, defaultTimeout)
	return err
}

// Get reads a named property as raw JSON.
func (p *Player) Get(name string) (json.RawMessage, error) {
	conn, err := p.channel()
	if err != nil {
		return nil, err
	}
	resp, err := conn.request([]any{"get_property", name}, defaultTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetBool reads a boolean property.
func (p *Player) GetBool(name string) (bool, error) {
	raw, err := p.Get(name)
	if err != nil {
		return false, err
	}
	var value bool
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, fmt.Errorf("mpv: property %s: %w", name, err)
	}
	return value, nil
}

// GetFloat reads a numeric property.
func (p *Player) GetFloat(name string) (float64, error) {
	raw, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("mpv: property %s: %w", name, err)
	}
	return value, nil
}

// Seek moves the playback position.
func (p *Player) Seek(seconds float64, mode SeekMode) error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	_, err = conn.request([]any{"seek", seconds, string(mode)}, defaultTimeout)
	return err
}

// Cycle toggles a property (mute, fullscreen).
func (p *Player) Cycle(name string) error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	_, err = conn.request([]any{"cycle", name}, defaultTimeout)
	return err
}

// Stop halts current playback but keeps the process alive for reuse.
func (p *Player) Stop() error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	_, err = conn.request([]any{"stop"}, defaultTimeout)
	return err
}

// Observe registers a property observer; change events arrive on the
// returned subscription until Unobserve or player death closes it.
func (p *Player) Observe(name string) (*Subscription, error) {
	conn, err := p.channel()
	if err != nil {
		return nil, err
	}
	return conn.observe(name, defaultTimeout)
}

// Unobserve revokes a property observer.
func (p *Player) Unobserve(sub *Subscription) error {
	conn, err := p.channel()
	if err != nil {
		return err
	}
	return conn.unobserve(sub, defaultTimeout)
}

// Events returns the general event bus of the attached player. The channel
// closes when the player dies or the channel is torn down.
func (p *Player) Events() (<-chan Event, error) {
	conn, err := p.channel()
	if err != nil {
		return nil, err
	}
	return conn.Events(), nil
}

// Done returns a channel closed when the attached player's control channel
// goes away.
func (p *Player) Done() (<-chan struct{}, error) {
	conn, err := p.channel()
	if err != nil {
		return nil, err
	}
	return conn.Done(), nil
}

// Quit asks the player to exit gracefully, escalating to a kill after a
// grace period. The control channel and endpoint are cleaned up either way.
func (p *Player) Quit() error {
	p.mu.Lock()
	conn := p.conn
	cmd := p.cmd
	exited := p.exited
	p.conn = nil
	p.cmd = nil
	p.exited = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}

	_, err := conn.request([]any{"quit"}, defaultTimeout)
	if err != nil {
		log.Warnf("mpv: graceful quit failed: %v", err)
	}

	if exited != nil {
		select {
		case <-exited:
		case <-time.After(quitGrace):
			log.Warn("mpv: quit grace period expired, killing process")
			_ = killProcess(cmd)
		}
	}

	conn.Close()
	removeEndpoint(p.endpoint)
	return nil
}
