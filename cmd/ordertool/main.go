package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"bybit-trader/internal/config"
	"bybit-trader/internal/core"
	"bybit-trader/internal/engine"
	"bybit-trader/internal/exchange/bybit"
	"bybit-trader/internal/risk"
)

// ordertool is a one-shot operator CLI: place, cancel or query a single
// order through the same validation path the trader uses. With -score and
// no -qty, the quantity is sized from the signal confidence score.
func main() {
	var (
		configPath string
		action     string
		side       string
		orderType  string
		qty        string
		price      string
		score      string
		orderID    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&action, "action", "", "place | cancel | status | balances")
	flag.StringVar(&side, "side", "BUY", "BUY or SELL")
	flag.StringVar(&orderType, "type", "LIMIT", "MARKET or LIMIT")
	flag.StringVar(&qty, "qty", "", "base quantity (omit to size from -score)")
	flag.StringVar(&price, "price", "", "limit price")
	flag.StringVar(&score, "score", "", "confidence score 0..100, sizes qty when -qty omitted")
	flag.StringVar(&orderID, "order-id", "", "order id for cancel/status")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	eng := engine.New(client)
	if err := eng.RefreshRules(ctx, cfg.Symbol); err != nil {
		fatal(err.Error())
	}
	if err := eng.RefreshBalances(ctx); err != nil {
		fatal(err.Error())
	}

	switch strings.ToLower(action) {
	case "place":
		doPlace(ctx, cfg, client, eng, side, orderType, qty, price, score)
	case "cancel":
		if orderID == "" {
			fatal("-order-id is required for cancel")
		}
		// The trader owns the active set; a one-shot cancel goes straight
		// to the exchange.
		if err := client.CancelOrder(ctx, cfg.Symbol, orderID); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("canceled %s\n", orderID)
	case "status":
		if orderID == "" {
			fatal("-order-id is required for status")
		}
		order, err := client.QueryOrder(ctx, cfg.Symbol, orderID)
		if err != nil {
			fatal(err.Error())
		}
		fmt.Printf("order=%s status=%s qty=%s price=%s\n",
			order.ID, order.Status, order.Qty.String(), order.Price.String())
	case "balances":
		rule, ok := eng.Rules().Rule(cfg.Symbol)
		if !ok {
			fatal("no rule for " + cfg.Symbol)
		}
		fmt.Printf("%s free=%s\n", rule.BaseAsset, eng.Ledger().Available(rule.BaseAsset).String())
		fmt.Printf("%s free=%s\n", rule.QuoteAsset, eng.Ledger().Available(rule.QuoteAsset).String())
	default:
		fatal("-action must be place, cancel, status or balances")
	}
}

func doPlace(ctx context.Context, cfg config.Config, client *bybit.Client, eng *engine.Engine, side, orderType, qty, price, score string) {
	order := core.Order{
		Symbol: cfg.Symbol,
		Side:   core.Side(strings.ToUpper(side)),
		Type:   core.OrderType(strings.ToUpper(orderType)),
	}
	if price != "" {
		order.Price = mustDecimal(price, "price")
	}
	switch {
	case qty != "":
		order.Qty = mustDecimal(qty, "qty")
	case score != "":
		rule, ok := eng.Rules().Rule(cfg.Symbol)
		if !ok {
			fatal("no rule for " + cfg.Symbol)
		}
		ref := order.Price
		if ref.Cmp(decimal.Zero) <= 0 {
			var err error
			ref, err = client.TickerPrice(ctx, cfg.Symbol)
			if err != nil {
				fatal(err.Error())
			}
		}
		sizer := risk.NewSizer(cfg.Risk.MaxPositionFraction.Decimal)
		sized, err := sizer.OrderQuantity(eng.Ledger(), rule, ref, mustDecimal(score, "score"))
		if err != nil {
			fatal(err.Error())
		}
		order.Qty = sized
		fmt.Printf("sized qty=%s from score=%s at price=%s\n", sized.String(), score, ref.String())
	default:
		fatal("either -qty or -score is required for place")
	}

	id, err := eng.Place(ctx, order)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("placed order=%s qty=%s\n", id, order.Qty.String())
}

func mustDecimal(v, name string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		fatal(fmt.Sprintf("invalid %s %q", name, v))
	}
	return d
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
