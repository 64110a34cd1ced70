package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/core"
	"bybit-trader/internal/engine"
)

// Store persists trader state as JSON files under one directory so a restart
// can reconcile in-flight orders and stop pairs against the exchange. Writes
// go through a temp file and rename; readers never see a torn file.
type Store struct {
	root string
	mu   sync.Mutex
}

type ActiveOrdersSnapshot struct {
	Orders    []core.Order `json:"orders"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type StopPairsSnapshot struct {
	Pairs     []engine.StopPair `json:"pairs"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type RuntimeStatus struct {
	Mode      string    `json:"mode"`
	Symbol    string    `json:"symbol"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// SaveActiveOrders satisfies engine.Persister.
func (s *Store) SaveActiveOrders(orders []core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orders == nil {
		orders = make([]core.Order, 0)
	}
	return writeJSONAtomic(s.ordersPath(), ActiveOrdersSnapshot{
		Orders:    orders,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *Store) LoadActiveOrders() ([]core.Order, bool, error) {
	data, err := os.ReadFile(s.ordersPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, errors.New("active orders snapshot is empty")
	}
	var snapshot ActiveOrdersSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, err
	}
	if snapshot.Orders == nil {
		snapshot.Orders = make([]core.Order, 0)
	}
	return snapshot.Orders, true, nil
}

func (s *Store) SaveStopPairs(pairs []engine.StopPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pairs == nil {
		pairs = make([]engine.StopPair, 0)
	}
	return writeJSONAtomic(s.pairsPath(), StopPairsSnapshot{
		Pairs:     pairs,
		UpdatedAt: time.Now().UTC(),
	})
}

func (s *Store) LoadStopPairs() ([]engine.StopPair, bool, error) {
	data, err := os.ReadFile(s.pairsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var snapshot StopPairsSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, err
	}
	return snapshot.Pairs, true, nil
}

func (s *Store) SaveRuntimeStatus(status RuntimeStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONAtomic(s.statusPath(), status)
}

func (s *Store) LoadRuntimeStatus() (RuntimeStatus, bool, error) {
	data, err := os.ReadFile(s.statusPath())
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeStatus{}, false, nil
		}
		return RuntimeStatus{}, false, err
	}
	var status RuntimeStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return RuntimeStatus{}, false, err
	}
	return status, true, nil
}

func (s *Store) ordersPath() string { return filepath.Join(s.root, "active_orders.json") }
func (s *Store) pairsPath() string  { return filepath.Join(s.root, "stop_pairs.json") }
func (s *Store) statusPath() string { return filepath.Join(s.root, "runtime_status.json") }

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	fsyncDirBestEffort(dir)
	return nil
}

// Best-effort directory fsync so the rename survives a crash.
func fsyncDirBestEffort(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		log.WithFields(log.Fields{"dir": dir, "err": err.Error()}).Warn("state dir fsync skipped")
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.WithFields(log.Fields{"dir": dir, "err": err.Error()}).Warn("state dir fsync failed")
	}
}
