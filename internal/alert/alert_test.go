package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []string
}

func (r *recordingNotifier) Notify(event string, _ map[string]string) error {
	r.events = append(r.events, event)
	return nil
}

func TestManagerSuppressesRepeatsWithinCooldown(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(time.Hour, rec)

	m.Important("order_place_failed", nil)
	m.Important("order_place_failed", nil)
	m.Important("stop_triggered", nil)

	require.Equal(t, []string{"order_place_failed", "stop_triggered"}, rec.events)
}

func TestManagerSendsAgainAfterCooldown(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewManager(time.Millisecond, rec)

	m.Important("breaker_open", nil)
	time.Sleep(5 * time.Millisecond)
	m.Important("breaker_open", nil)

	require.Len(t, rec.events, 2)
}
