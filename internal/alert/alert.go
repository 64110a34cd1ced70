package alert

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Alerter receives operationally significant events: failed submissions,
// triggered stops, tripped breakers. Implementations must not block the
// trading path.
type Alerter interface {
	Important(event string, fields map[string]string)
}

// Notifier delivers a single alert to one destination.
type Notifier interface {
	Notify(event string, fields map[string]string) error
}

// Manager fans alerts out to its notifiers, suppressing repeats of the same
// event inside the cooldown window so a flapping condition does not flood
// every channel.
type Manager struct {
	notifiers []Notifier
	cooldown  time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

const defaultCooldown = time.Minute

func NewManager(cooldown time.Duration, notifiers ...Notifier) *Manager {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Manager{
		notifiers: notifiers,
		cooldown:  cooldown,
		lastSent:  make(map[string]time.Time),
	}
}

func (m *Manager) Important(event string, fields map[string]string) {
	if !m.shouldSend(event) {
		return
	}
	for _, n := range m.notifiers {
		if err := n.Notify(event, fields); err != nil {
			log.WithFields(log.Fields{
				"event": event,
				"err":   err.Error(),
			}).Warn("alert delivery failed")
		}
	}
}

func (m *Manager) shouldSend(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if last, ok := m.lastSent[event]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastSent[event] = now
	return true
}

// LogNotifier writes alerts to the structured log. It is the default sink
// when no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(event string, fields map[string]string) error {
	entry := log.WithField("event", event)
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Warn("alert")
	return nil
}
