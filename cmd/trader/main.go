package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"bybit-trader/internal/alert"
	"bybit-trader/internal/config"
	"bybit-trader/internal/core"
	"bybit-trader/internal/engine"
	"bybit-trader/internal/exchange"
	"bybit-trader/internal/exchange/bybit"
	"bybit-trader/internal/safety"
	"bybit-trader/internal/store"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	_ = godotenv.Load()
	setupLogging()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, strings.ToLower(string(cfg.Mode)), cfg.Symbol)
	st, err := store.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	lock, err := store.AcquireInstanceLock(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := lock.Release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release instance lock failed: %v\n", relErr)
		}
	}()

	alerts := alert.NewManager(time.Duration(cfg.Alerts.CooldownSec)*time.Second, alert.LogNotifier{})

	client, err := bybit.NewClient(bybit.Options{
		APIKey:         cfg.Exchange.APIKey,
		APISecret:      cfg.Exchange.APISecret,
		BaseURL:        cfg.Exchange.RestBaseURL,
		RecvWindowMs:   cfg.Exchange.RecvWindowMs,
		HTTPTimeoutSec: cfg.Exchange.HTTPTimeoutSec,
		MaxRetries:     cfg.Exchange.MaxRetries,
		RetryDelayMs:   cfg.Exchange.RetryDelayMs,
	})
	if err != nil {
		fatal(err.Error())
	}
	defer client.Close()

	breaker := safety.NewBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.MaxPlaceFailures,
		cfg.CircuitBreaker.MaxCancelFailures,
		time.Duration(cfg.CircuitBreaker.CooldownSec)*time.Second,
	)
	breaker.SetAlerter(alerts)

	eng := engine.New(safety.NewGuarded(client, breaker))
	eng.SetAlerter(alerts)
	eng.SetPersister(st)

	if err := eng.RefreshRules(ctx, cfg.Symbol); err != nil {
		fatal(err.Error())
	}
	if err := eng.RefreshBalances(ctx); err != nil {
		fatal(err.Error())
	}

	if orders, ok, err := st.LoadActiveOrders(); err != nil {
		fatal(err.Error())
	} else if ok {
		eng.Restore(orders)
		log.WithField("count", len(orders)).Info("restored active orders")
	}

	var prices exchange.PriceSource = client
	if cfg.Monitor.UseTickerStream {
		stream := bybit.NewTickerStream(cfg.Exchange.WSBaseURL, cfg.Symbol)
		stream.Start(ctx)
		defer stream.Close()
		prices = stream
	}

	monitor := engine.NewMonitor(eng, prices, time.Duration(cfg.Monitor.PollIntervalSec)*time.Second)
	monitor.SetAlerter(alerts)
	if pairs, ok, err := st.LoadStopPairs(); err != nil {
		fatal(err.Error())
	} else if ok {
		monitor.Restore(pairs)
		log.WithField("count", len(pairs)).Info("restored stop pairs")
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	startedAt := time.Now().UTC()
	saveStatus(st, cfg, startedAt, "running", "")
	log.WithFields(log.Fields{
		"mode":   cfg.Mode,
		"symbol": cfg.Symbol,
	}).Info("trader started")

	runErr := run(ctx, cfg, eng, monitor, st)

	saveStatus(st, cfg, startedAt, "stopped", errString(runErr))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fatal(runErr.Error())
	}
	log.Info("trader stopped")
}

// run is the maintenance loop: it refreshes balances, reconciles in-flight
// order statuses and snapshots stop pairs until the context ends.
func run(ctx context.Context, cfg config.Config, eng *engine.Engine, monitor *engine.Monitor, st *store.Store) error {
	refresh := time.NewTicker(time.Duration(cfg.Risk.BalanceRefreshSec) * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			if err := eng.RefreshBalances(ctx); err != nil {
				log.WithField("err", err.Error()).Warn("balance refresh failed")
			}
			reconcileOrders(ctx, eng)
			if err := st.SaveStopPairs(monitor.Pairs()); err != nil {
				log.WithField("err", err.Error()).Warn("stop pairs snapshot write failed")
			}
		}
	}
}

func reconcileOrders(ctx context.Context, eng *engine.Engine) {
	for _, order := range eng.ActiveOrders() {
		status, err := eng.QueryStatus(ctx, order.ID)
		if err != nil {
			if errors.Is(err, core.ErrOrderNotFound) {
				continue
			}
			log.WithFields(log.Fields{
				"order_id": order.ID,
				"err":      err.Error(),
			}).Warn("status reconcile failed")
			continue
		}
		if status != order.Status {
			log.WithFields(log.Fields{
				"order_id": order.ID,
				"status":   status,
			}).Info("order status advanced")
		}
	}
}

func saveStatus(st *store.Store, cfg config.Config, startedAt time.Time, state, lastErr string) {
	if err := st.SaveRuntimeStatus(store.RuntimeStatus{
		Mode:      string(cfg.Mode),
		Symbol:    cfg.Symbol,
		PID:       os.Getpid(),
		State:     state,
		StartedAt: startedAt,
		LastError: lastErr,
	}); err != nil {
		log.WithField("err", err.Error()).Warn("runtime status write failed")
	}
}

func setupLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if level, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
}

func errString(err error) string {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
