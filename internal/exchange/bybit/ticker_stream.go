package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/core"
)

const (
	streamPingInterval = 20 * time.Second
	streamReadTimeout  = 60 * time.Second
	streamRedialDelay  = 2 * time.Second
)

// TickerStream maintains the latest traded price for one symbol over the
// public websocket feed. It satisfies the monitor's PriceSource so stop
// checks can read a fresh price without a REST round-trip per poll.
type TickerStream struct {
	wsURL  string
	symbol string

	mu       sync.RWMutex
	last     decimal.Decimal
	haveData bool

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started bool
}

type streamMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func NewTickerStream(wsURL, symbol string) *TickerStream {
	return &TickerStream{
		wsURL:  wsURL,
		symbol: symbol,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the subscribe/read loop until Close or ctx cancellation.
func (s *TickerStream) Start(ctx context.Context) {
	s.started = true
	go func() {
		defer close(s.done)
		for {
			if err := s.runOnce(ctx); err != nil {
				if ctx.Err() != nil || s.closed() {
					return
				}
				log.WithFields(log.Fields{
					"symbol": s.symbol,
					"err":    err.Error(),
				}).Warn("ticker stream disconnected, redialing")
			}
			select {
			case <-time.After(streamRedialDelay):
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *TickerStream) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"op":   "subscribe",
		"args": []string{"tickers." + s.symbol},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteJSON(map[string]string{"op": "ping"})
			case <-pingStop:
				return
			case <-s.stop:
				_ = conn.Close()
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Topic != "tickers."+s.symbol || msg.Data.LastPrice == "" {
			continue
		}
		price, err := decimal.NewFromString(msg.Data.LastPrice)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.last = price
		s.haveData = true
		s.mu.Unlock()
	}
}

// TickerPrice returns the most recent streamed price. It errors until the
// first tick arrives so callers can fall back to REST.
func (s *TickerStream) TickerPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if symbol != s.symbol {
		return decimal.Zero, fmt.Errorf("%w: stream tracks %s", core.ErrUnknownSymbol, s.symbol)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.haveData {
		return decimal.Zero, errors.New("no ticker received yet")
	}
	return s.last, nil
}

func (s *TickerStream) closed() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// Close stops the stream and waits for the read loop to exit.
func (s *TickerStream) Close() {
	s.once.Do(func() { close(s.stop) })
	if s.started {
		<-s.done
	}
}
