// order-watch follows a single order from the terminal: it polls the
// tracking endpoint while the courier is on the way and redraws the
// timeline on every update.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/expressbasket/ordertrack/config"
	"github.com/expressbasket/ordertrack/internal/integrations/orderapi"
	"github.com/expressbasket/ordertrack/internal/integrations/orderapi/fake"
	"github.com/expressbasket/ordertrack/internal/tracking"
)

func main() {
	var (
		orderID = flag.String("order", "", "order id to follow")
		token   = flag.String("token", os.Getenv("ORDER_TOKEN"), "bearer token")
		baseURL = flag.String("api", "", "order-api base url (overrides config)")
		demo    = flag.Bool("demo", false, "use built-in fake snapshots instead of the API")
	)
	flag.Parse()

	if *orderID == "" {
		fmt.Fprintln(os.Stderr, "usage: order-watch -order <id> [-token <jwt>] [-api <url>] [-demo]")
		os.Exit(2)
	}

	pollInterval := 10 * time.Second
	fetchTimeout := 8 * time.Second
	apiURL := *baseURL

	// Конфиг опционален: флаги и env перекрывают его.
	if path := os.Getenv("configPath"); path != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
		}
		if apiURL == "" {
			apiURL = cfg.Basket.APIBaseURL
		}
		if cfg.Basket.WatchPollIntervalSeconds > 0 {
			pollInterval = time.Duration(cfg.Basket.WatchPollIntervalSeconds) * time.Second
		}
		if cfg.Basket.WatchFetchTimeoutSeconds > 0 {
			fetchTimeout = time.Duration(cfg.Basket.WatchFetchTimeoutSeconds) * time.Second
		}
	}

	var fetcher orderapi.SnapshotFetcher
	authToken := *token
	if *demo {
		fetcher = fake.New()
		if authToken == "" {
			authToken = "demo"
		}
	} else {
		fetcher = orderapi.New(apiURL)
	}

	client := tracking.New(fetcher).
		WithSettings(pollInterval, fetchTimeout).
		WithListener(func(v tracking.View) {
			// Один кадр на обновление, экран чистим перед отрисовкой.
			fmt.Print("\033[H\033[2J")
			fmt.Print(renderView(*orderID, v))
		})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := client.Start(ctx, *orderID, authToken); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	client.Stop()

	stats := client.Stats()
	fmt.Printf("\nfetches=%d errors=%d stale_dropped=%d\n",
		stats.TotalFetches, stats.TotalErrors, stats.StaleDropped)
}
