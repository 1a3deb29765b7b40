// Package notify implements the process-local notification bus carrying
// user-visible notices from the core to whatever front end is attached
// (tray, log panel, or just the terminal).
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmsr-app/jmsr/log"
)

// Level classifies a notice for display.
type Level int

const (
	Info Level = iota
	Success
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Success:
		return "success"
	case Warning:
		return "warning"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Notice is one user-visible message.
type Notice struct {
	Level   Level
	Message string
	Time    time.Time
}

// Bus fans notices out to subscribers. Publishing never blocks: a subscriber
// that stops draining loses its oldest notices.
type Bus struct {
	mu   sync.Mutex
	subs []chan Notice
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a consumer with the given buffer depth.
func (b *Bus) Subscribe(buffer int) <-chan Notice {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Notice, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Publish emits a notice to every subscriber and mirrors it to the log.
func (b *Bus) Publish(level Level, format string, args ...any) {
	notice := Notice{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Time:    time.Now(),
	}

	switch level {
	case Warning:
		log.Warn(notice.Message)
	case Error:
		log.Error(notice.Message)
	default:
		log.Info(notice.Message)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- notice:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- notice:
		default:
		}
	}
}
