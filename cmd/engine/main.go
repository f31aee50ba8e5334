// Package main is the entry point for the hantu-quant-sub002 engine.
//
// The engine:
//  1. Loads KIS credentials and quant config
//  2. Wires the broker client, rate limiter, cache, and WebSocket stream
//  3. Runs the nightly momentum selection + ATR sizing pipeline
//  4. Executes approved entries and drives exits off the realtime feed
//  5. Logs every decision for auditability
//
// Modes:
//   - "status":  Print current system and market status
//   - "nightly": Run the nightly selection job
//   - "market":  Run market-hour jobs (execute entries, manage exits)
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/This-HW/hantu-quant-sub002/internal/alert"
	"github.com/This-HW/hantu-quant-sub002/internal/broker"
	"github.com/This-HW/hantu-quant-sub002/internal/cache"
	"github.com/This-HW/hantu-quant-sub002/internal/config"
	"github.com/This-HW/hantu-quant-sub002/internal/fetcher"
	"github.com/This-HW/hantu-quant-sub002/internal/guardrail"
	"github.com/This-HW/hantu-quant-sub002/internal/market"
	"github.com/This-HW/hantu-quant-sub002/internal/monitor"
	"github.com/This-HW/hantu-quant-sub002/internal/ratelimit"
	"github.com/This-HW/hantu-quant-sub002/internal/scheduler"
	"github.com/This-HW/hantu-quant-sub002/internal/selection"
	"github.com/This-HW/hantu-quant-sub002/internal/sellengine"
	"github.com/This-HW/hantu-quant-sub002/internal/storage"
	"github.com/This-HW/hantu-quant-sub002/internal/stream"
)

// kospiIndexCode is the KIS index code for the KOSPI composite, used as the
// regime-detection market proxy (spec.md §4.8 stage 1).
const kospiIndexCode = "0001"

// wsURLPaper/wsURLLive are KIS's published real-time data endpoints.
const (
	wsURLPaper = "ws://ops.koreainvestment.com:31000"
	wsURLLive  = "ws://ops.koreainvestment.com:21000"
)

// maxTradesPerDay bounds exits executed per trading day (spec.md §4.10's
// action-selection policy reads this as a throttle, not a hard cap on
// positions held).
const maxTradesPerDay = 20

func main() {
	watchlistPath := flag.String("watchlist", "config/watchlist.csv", "path to watchlist CSV (code,name,sector,last_price,avg_volume,avg_trading_value_krw,market_cap_krw)")
	quantConfigPath := flag.String("quant-config", "config/quant.yaml", "path to quant config YAML (falls back to built-in defaults if missing)")
	holidaysPath := flag.String("holidays", "config/holidays.json", "path to KRX holiday calendar JSON")
	dataDir := flag.String("data-dir", "data", "directory for token cache and other local state")
	capital := flag.Float64("capital", 50_000_000, "total deployable capital in KRW")
	mode := flag.String("mode", "status", "run mode: status | nightly | market")
	confirmLive := flag.Bool("confirm-live", false, "required safety flag to run in live trading mode")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: .env load: %v\n", err)
	}

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lshortfile)

	creds, err := config.Load()
	if err != nil {
		logger.Fatalf("failed to load credentials: %v", err)
	}
	logger.Printf("credentials loaded: %s", creds.SafeRepr())

	// ── Live mode safety gate ──
	// Both --confirm-live AND HANTU_LIVE_CONFIRMED=true are required to run
	// against the live KIS server, so a copy-pasted command can't place a
	// real order by accident.
	if creds.Server == config.ServerLive {
		envConfirmed := os.Getenv("HANTU_LIVE_CONFIRMED") == "true"
		if !*confirmLive || !envConfirmed {
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "  ╔═══════════════════════════════════════════════════════════╗")
			fmt.Fprintln(os.Stderr, "  ║                    LIVE MODE BLOCKED                      ║")
			fmt.Fprintln(os.Stderr, "  ╠═══════════════════════════════════════════════════════════╣")
			fmt.Fprintln(os.Stderr, "  ║  Live trading requires TWO explicit confirmations:        ║")
			fmt.Fprintln(os.Stderr, "  ║    1. CLI flag:  --confirm-live                            ║")
			fmt.Fprintln(os.Stderr, "  ║    2. Env var:   HANTU_LIVE_CONFIRMED=true                 ║")
			fmt.Fprintln(os.Stderr, "  ╚═══════════════════════════════════════════════════════════╝")
			fmt.Fprintln(os.Stderr, "")
			if !*confirmLive {
				fmt.Fprintln(os.Stderr, "  MISSING: --confirm-live flag")
			}
			if !envConfirmed {
				fmt.Fprintln(os.Stderr, "  MISSING: HANTU_LIVE_CONFIRMED=true environment variable")
			}
			os.Exit(1)
		}
		logger.Println("LIVE MODE ACTIVE — real orders will be placed on KRX")
	} else {
		logger.Println("PAPER MODE — orders route to the KIS paper-trading server")
	}

	cal, err := market.NewCalendar(*holidaysPath)
	if err != nil {
		logger.Fatalf("failed to load market calendar: %v", err)
	}

	tokens, err := config.NewTokenStore(*dataDir, creds.Server)
	if err != nil {
		logger.Fatalf("failed to open token store: %v", err)
	}

	limiter := ratelimit.ForServer(creds.Server == config.ServerLive, config.RateLimitPerSec())
	c := buildCache(logger)

	kis := broker.NewKISClient(creds, tokens, limiter, broker.DefaultConfig(), logger)
	if err := kis.EnsureValidToken(context.Background()); err != nil {
		logger.Fatalf("failed to obtain access token: %v", err)
	}

	// Storage is optional — the engine still runs selection and monitoring
	// with cache-only state if no database is configured, the same
	// "degrade, don't refuse" posture the cache layer follows.
	var store storage.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		ps, err := storage.NewPostgresStore(context.Background(), dbURL)
		if err != nil {
			logger.Printf("WARNING: database not available: %v — persistence disabled", err)
		} else {
			store = ps
			defer ps.Close()
			logger.Println("database connected — persistence enabled")
		}
	}

	notifier := alert.NewNotifier(alert.NewLogSink(logger), time.Minute)
	cb := guardrail.NewCircuitBreaker(guardrail.DefaultConfig(), logger)

	quantCfg, err := selection.Load(*quantConfigPath)
	if err != nil {
		logger.Printf("quant config %s not usable (%v) — using built-in defaults", *quantConfigPath, err)
		quantCfg = selection.Default()
	}
	sizer := selection.NewSizer(quantCfg)
	sel := selection.NewSelector(quantCfg, kis, marketIndexSource{kis}, c, sizer)

	cfgWatcher := selection.NewQuantConfigWatcher(*quantConfigPath, quantCfg, logger)
	cfgWatcher.OnChange(func(old, new *selection.QuantConfig) {
		logger.Printf("quant config reloaded: regime %s -> %s", old.Regime.Current, new.Regime.Current)
	})
	if err := cfgWatcher.Start(); err != nil {
		logger.Printf("quant config watcher not started: %v", err)
	}
	defer cfgWatcher.Stop()

	events := make(chan sellengine.ExitEvent, 64)
	engine := sellengine.NewEngine(sellengine.DefaultConfig(), events)
	mon := monitor.New(engine, kis, kis, cal, c, maxTradesPerDay, logger)
	registerExitCallbacks(mon, store, notifier, logger)

	fet := fetcher.New(kis, limiter, 4, logger)

	app := &application{
		logger:    logger,
		cal:       cal,
		kis:       kis,
		store:     store,
		notifier:  notifier,
		cb:        cb,
		selector:  sel,
		monitor:   mon,
		fetcher:   fet,
		capital:   *capital,
		watchPath: *watchlistPath,
	}

	startMetricsServer(logger)

	switch *mode {
	case "status":
		app.runStatus()

	case "nightly":
		sched := scheduler.New(cal, logger)
		app.registerNightlyJobs(sched)
		if err := sched.RunNightlyJobs(context.Background()); err != nil {
			logger.Fatalf("nightly jobs failed: %v", err)
		}

	case "market":
		var wg sync.WaitGroup
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if err := app.restoreOpenPositions(ctx); err != nil {
			logger.Printf("WARNING: restore open positions: %v", err)
		}
		go pollCacheDegraded(ctx, c, 30*time.Second)

		wsURL := wsURLPaper
		if creds.Server == config.ServerLive {
			wsURL = wsURLLive
		}
		streamClient := stream.New(wsURL, creds, tokens, limiter, logger)
		streamClient.On("H0STCNT0", func(f stream.Frame) {
			if f.Trade != nil {
				mon.OnTradeFrame(*f.Trade)
			}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := streamClient.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("stream: %v", err)
			}
		}()

		sched := scheduler.New(cal, logger)
		app.registerMarketJobs(sched, streamClient)

		runContinuousMarketLoop(ctx, sched, 5*time.Minute, logger)

		streamClient.Close()
		wg.Wait()

	default:
		logger.Fatalf("unknown mode: %s (expected: status, nightly, market)", *mode)
	}
}

// application bundles the dependencies every job handler needs, replacing
// the teacher's long positional parameter lists with one injected struct.
type application struct {
	logger    *log.Logger
	cal       *market.Calendar
	kis       *broker.KISClient
	store     storage.Store
	notifier  *alert.Notifier
	cb        *guardrail.CircuitBreaker
	selector  *selection.Selector
	monitor   *monitor.Monitor
	fetcher   *fetcher.Fetcher
	capital   float64
	watchPath string
}

// buildCache wires the Redis-primary, LRU-fallback degrading cache
// (spec.md §4.3). A missing REDIS_URL degrades straight to LRU-only.
func buildCache(logger *log.Logger) cache.Cache {
	fallback := cache.NewLRUCache(1000)
	url := config.RedisURL()
	if url == "" {
		logger.Println("REDIS_URL not set — running LRU-only")
		return fallback
	}
	primary, err := cache.NewRedisCache(url)
	if err != nil {
		logger.Printf("WARNING: redis cache unavailable (%v) — running LRU-only", err)
		return fallback
	}
	return cache.NewDegradingCache(primary, fallback, logger)
}

// startMetricsServer exposes the Prometheus registry on METRICS_ADDR
// (default :9090). Binding failures are logged, not fatal — metrics
// export is observability, not a correctness dependency.
func startMetricsServer(logger *log.Logger) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()
	logger.Printf("metrics listening on %s/metrics", addr)
}

// pollCacheDegraded refreshes the cache-degraded gauge every interval for
// caches that support reporting it. No-op for a plain LRU cache, which is
// never "degraded" — it's the fallback itself.
func pollCacheDegraded(ctx context.Context, c cache.Cache, interval time.Duration) {
	dc, ok := c.(*cache.DegradingCache)
	if !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := 0.0
			if dc.Degraded() {
				v = 1.0
			}
			alert.CacheDegraded.Set(v)
		}
	}
}

// marketIndexSource adapts *broker.KISClient's daily index chart into
// selection.MarketIndexSource's trailing-20-day-return contract.
type marketIndexSource struct {
	kis *broker.KISClient
}

func (m marketIndexSource) GetMarketReturn20d(ctx context.Context) (float64, error) {
	bars, err := m.kis.GetIndexChart(ctx, kospiIndexCode, 21)
	if err != nil {
		return 0, fmt.Errorf("market index chart: %w", err)
	}
	if len(bars) < 21 {
		return 0, fmt.Errorf("market index chart: need 21 bars, got %d", len(bars))
	}
	last := bars[len(bars)-1].Close
	prior := bars[len(bars)-21].Close
	if prior == 0 {
		return 0, nil
	}
	return last/prior - 1, nil
}

// runStatus prints the current state of the system.
func (app *application) runStatus() {
	now := time.Now()
	app.logger.Println("=== System Status ===")
	app.logger.Printf("Time (KST): %s", now.In(market.KST).Format("2006-01-02 15:04:05"))
	app.logger.Printf("Trading day: %v", app.cal.IsTradingDay(now))
	app.logger.Printf("Market open: %v", app.cal.IsMarketOpen(now))
	app.logger.Printf("Next session in: %v", app.cal.TimeUntilNextSession(now).Round(time.Minute))
	app.logger.Printf("Circuit breaker tripped: %v", app.cb.IsTripped())
	if reason := app.cal.HolidayReason(now); reason != "" {
		app.logger.Printf("Holiday: %s", reason)
	}

	ctx := context.Background()
	funds, err := app.kis.GetFunds(ctx)
	if err != nil {
		app.logger.Printf("Funds: error - %v", err)
	} else {
		app.logger.Printf("Deposit: %.0f  Total eval: %.0f", funds.Deposit, funds.TotalEvalAmount)
	}
	if app.store != nil {
		if pnl, err := app.store.GetDailyPnL(ctx, now); err == nil {
			app.logger.Printf("Today's realized P&L: %.0f", pnl)
		}
	}
}

// registerNightlyJobs sets up the nightly selection pipeline.
func (app *application) registerNightlyJobs(sched *scheduler.Scheduler) {
	sched.RegisterJob(scheduler.Job{
		Name: "run_momentum_selection",
		Type: scheduler.JobTypeNightly,
		RunFunc: func(ctx context.Context) error {
			ctx = alert.EnsureTraceID(ctx)
			watchlist, err := loadWatchlist(app.watchPath)
			if err != nil {
				return fmt.Errorf("load watchlist: %w", err)
			}
			app.logger.Printf("running selection over %d candidates", len(watchlist))

			results, err := app.selector.Select(ctx, watchlist, app.capital, nil)
			if err != nil {
				app.cb.RecordFailure(fmt.Errorf("selection: %w", err))
				return fmt.Errorf("run selector: %w", err)
			}
			app.cb.RecordSuccess()

			tripped := app.cb.IsTripped()
			now := time.Now()
			for _, r := range results {
				rec := &storage.SelectionRecord{
					Code:            r.Code,
					Name:            r.Name,
					Sector:          r.Sector,
					SelectionDate:   now,
					SelectionReason: r.SelectionReason,
					MomentumScore:   r.MomentumScore,
					PercentileRank:  r.PercentileRank,
					EntryPrice:      r.EntryPrice,
					TargetPrice:     r.TargetPrice,
					StopLoss:        r.StopLoss,
					PositionWeight:  r.PositionWeight,
					PositionAmount:  r.PositionAmount,
					Priority:        r.Priority,
					Approved:        !tripped,
				}
				if tripped {
					rec.RejectionReason = "circuit breaker tripped: " + app.cb.TripReason()
				}
				if app.store != nil {
					if err := app.store.SaveSelection(ctx, rec); err != nil {
						app.logger.Printf("save selection %s: %v", r.Code, err)
					}
				}
			}
			alert.SelectionSizeGauge.Set(float64(len(results)))
			app.logger.Printf("selection complete: %d candidates, approved=%v", len(results), !tripped)
			app.notifier.Notify(ctx, alert.Event{
				Severity: alert.SeverityInfo,
				Source:   "nightly_selection",
				Message:  fmt.Sprintf("%d candidates selected, approved=%v", len(results), !tripped),
				TraceID:  alert.TraceID(ctx),
			})
			return nil
		},
	})
}

// registerMarketJobs sets up entry execution and exit monitoring.
func (app *application) registerMarketJobs(sched *scheduler.Scheduler, sc *stream.Client) {
	sched.RegisterJob(scheduler.Job{
		Name: "execute_entries",
		Type: scheduler.JobTypeMarketHour,
		RunFunc: func(ctx context.Context) error {
			return app.executeEntries(ctx, sc)
		},
	})
	sched.RegisterJob(scheduler.Job{
		Name: "poll_exit_fallback",
		Type: scheduler.JobTypeMarketHour,
		RunFunc: func(ctx context.Context) error {
			return app.pollExitFallback(ctx)
		},
	})
}

// executeEntries reads today's approved selections and places an opening
// order plus a tracked position for anything not already held (spec.md
// §4.10: the Sell Engine tracks a position from entry).
func (app *application) executeEntries(ctx context.Context, sc *stream.Client) error {
	if app.store == nil {
		return nil
	}
	if app.cb.IsTripped() {
		app.logger.Printf("circuit breaker tripped (%s) — skipping entries", app.cb.TripReason())
		return nil
	}

	selections, err := app.store.GetSelectionsByDate(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("load today's selections: %w", err)
	}
	open, err := app.store.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	held := make(map[string]bool, len(open))
	for _, t := range open {
		held[t.Code] = true
	}

	for _, s := range selections {
		if !s.Approved || held[s.Code] {
			continue
		}
		shares := 0
		if s.EntryPrice > 0 {
			shares = int(s.PositionAmount / s.EntryPrice)
		}
		if shares <= 0 {
			continue
		}

		resp, err := app.kis.PlaceOrder(ctx, broker.Order{
			Code:     s.Code,
			Side:     broker.OrderSideBuy,
			Division: broker.OrderDivisionMarket,
			Quantity: shares,
			Tag:      "entry:" + s.Code,
		})
		if err != nil || resp == nil || !resp.Success {
			failErr := err
			if failErr == nil {
				failErr = fmt.Errorf("entry order %s: broker rejected without error detail", s.Code)
			} else {
				failErr = fmt.Errorf("entry order %s: %w", s.Code, failErr)
			}
			app.cb.RecordFailure(failErr)
			app.logger.Printf("entry order failed for %s: %v", s.Code, failErr)
			continue
		}
		app.cb.RecordSuccess()

		entryTime := time.Now()
		pos := sellengine.NewPosition(s.Code, s.Name, s.Sector, s.EntryPrice, entryTime, shares, s.StopLoss, s.TargetPrice)
		app.monitor.Track(ctx, pos)

		if err := app.store.SaveTrade(ctx, &storage.TradeRecord{
			Code:       s.Code,
			Side:       "BUY",
			Quantity:   shares,
			EntryPrice: s.EntryPrice,
			StopLoss:   s.StopLoss,
			Target:     s.TargetPrice,
			EntryTime:  entryTime,
			Status:     "open",
		}); err != nil {
			app.logger.Printf("save trade %s: %v", s.Code, err)
		}

		if err := sc.Subscribe(ctx, s.Code, []string{"H0STCNT0"}); err != nil {
			app.logger.Printf("subscribe %s: %v", s.Code, err)
		}
		app.logger.Printf("entered %s: %d shares @ %.0f", s.Code, shares, s.EntryPrice)
	}
	return nil
}

// pollExitFallback feeds a fresh REST price to every tracked code via the
// batch fetcher, in case the WebSocket feed missed a tick (monitor.go's
// documented polling fallback path).
func (app *application) pollExitFallback(ctx context.Context) error {
	codes := app.monitor.TrackedCodes()
	if len(codes) == 0 {
		return nil
	}
	result, err := app.fetcher.BatchPrices(ctx, codes, len(codes))
	if err != nil {
		return fmt.Errorf("poll exit fallback: %w", err)
	}
	for code, price := range result.Successful {
		app.monitor.OnTick(code, price.CurrentPrice)
	}
	if result.FailureCount() > 0 {
		app.logger.Printf("poll exit fallback: %d/%d failed", result.FailureCount(), len(codes))
	}
	return nil
}

// restoreOpenPositions loads every still-open trade from storage and
// re-tracks it with the monitor, so a restart doesn't orphan a live
// position.
func (app *application) restoreOpenPositions(ctx context.Context) error {
	if app.store == nil {
		return nil
	}
	open, err := app.store.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("load open trades: %w", err)
	}
	for _, t := range open {
		pos := sellengine.NewPosition(t.Code, t.Code, "", t.EntryPrice, t.EntryTime, t.Quantity, t.StopLoss, t.Target)
		app.monitor.Track(ctx, pos)
		app.logger.Printf("restored open position %s: %d shares @ %.0f", t.Code, t.Quantity, t.EntryPrice)
	}
	return nil
}

// registerExitCallbacks wires the monitor's stop-loss/take-profit/alert
// hooks into persistence and notification, so every exit is both recorded
// and surfaced (spec.md §4.11 points 4-5).
func registerExitCallbacks(mon *monitor.Monitor, store storage.Store, notifier *alert.Notifier, logger *log.Logger) {
	mon.OnStopLoss(func(e sellengine.ExitEvent) {
		recordExit(store, logger, e, "stop_loss")
	})
	mon.OnTakeProfit(func(e sellengine.ExitEvent) {
		recordExit(store, logger, e, "take_profit")
	})
	mon.OnAlert(func(e sellengine.ExitEvent) {
		alert.SellSignalsTotal.WithLabelValues(string(e.Signal.Kind)).Inc()
		notifier.Notify(context.Background(), alert.Event{
			Severity: severityFor(e),
			Source:   "sellengine",
			Message:  fmt.Sprintf("%s: %s @ %.0f (sold %d remaining %d)", e.Code, e.Signal.Kind, e.Price, e.QuantitySold, e.RemainingQty),
		})
	})
}

func severityFor(e sellengine.ExitEvent) alert.Severity {
	if e.NewStatus == sellengine.StatusStopTriggered {
		return alert.SeverityWarning
	}
	return alert.SeverityInfo
}

func recordExit(store storage.Store, logger *log.Logger, e sellengine.ExitEvent, reason string) {
	if store == nil {
		return
	}
	ctx := context.Background()
	trades, err := store.GetTradesByCode(ctx, e.Code)
	if err != nil || len(trades) == 0 {
		logger.Printf("record exit %s: no matching open trade: %v", e.Code, err)
		return
	}
	var openTrade *storage.TradeRecord
	for i := range trades {
		if trades[i].Status == "open" {
			openTrade = &trades[i]
			break
		}
	}
	if openTrade == nil {
		return
	}
	if err := store.CloseTrade(ctx, openTrade.ID, e.Price, reason); err != nil {
		logger.Printf("close trade %s: %v", e.Code, err)
	}
}

// runContinuousMarketLoop re-runs market-hour jobs on a fixed interval
// until ctx is cancelled.
func runContinuousMarketLoop(ctx context.Context, sched *scheduler.Scheduler, interval time.Duration, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := sched.RunMarketHourJobs(ctx); err != nil {
		logger.Printf("market jobs: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Println("market loop: shutting down")
			return
		case <-ticker.C:
			if err := sched.RunMarketHourJobs(ctx); err != nil {
				logger.Printf("market jobs: %v", err)
			}
		}
	}
}

// loadWatchlist reads candidates from a CSV file:
// code,name,sector,last_price,avg_volume,avg_trading_value_krw,market_cap_krw
func loadWatchlist(path string) ([]selection.Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	var out []selection.Candidate
	header := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(rec) < 7 {
			continue
		}
		out = append(out, selection.Candidate{
			Code:               rec[0],
			Name:               rec[1],
			Sector:             rec[2],
			LastPrice:          parseFloatOrZero(rec[3]),
			AvgVolume:          parseFloatOrZero(rec[4]),
			AvgTradingValueKRW: parseFloatOrZero(rec[5]),
			MarketCapKRW:       parseFloatOrZero(rec[6]),
		})
	}
	return out, nil
}

func parseFloatOrZero(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
