package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/GoPolymarket/updown-agent/internal/activity"
	"github.com/GoPolymarket/updown-agent/internal/api"
	"github.com/GoPolymarket/updown-agent/internal/app"
	"github.com/GoPolymarket/updown-agent/internal/config"
	"github.com/GoPolymarket/updown-agent/internal/execution"
	"github.com/GoPolymarket/updown-agent/internal/feed"
	"github.com/GoPolymarket/updown-agent/internal/market"
	"github.com/GoPolymarket/updown-agent/internal/notify"
	"github.com/GoPolymarket/updown-agent/internal/paper"
	"github.com/GoPolymarket/updown-agent/internal/positions"
	"github.com/GoPolymarket/updown-agent/internal/redemption"
	"github.com/GoPolymarket/updown-agent/internal/safety"
	"github.com/GoPolymarket/updown-agent/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("updown-agent starting (asset=%s mode=%s)", cfg.Asset, cfg.TradingMode)

	signer, err := auth.NewPrivateKeySigner(strings.TrimSpace(cfg.WalletPrivateKey), 137)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	apiKey := &auth.APIKey{
		Key:        strings.TrimSpace(cfg.APIKey),
		Secret:     strings.TrimSpace(cfg.APISecret),
		Passphrase: strings.TrimSpace(cfg.APIPassphrase),
	}

	sdkClient := polymarket.NewClient()
	clobClient := sdkClient.CLOB.WithAuth(signer, apiKey)
	gammaClient := sdkClient.Gamma
	dataClient := sdkClient.Data

	bus := activity.New()

	safetyLedger := safety.New(safety.Config{
		MaxTradeSize:   cfg.Safety.MaxTradeSize,
		DailyLossLimit: cfg.Safety.DailyLossLimit,
		MaxDailyLosses: cfg.Safety.MaxDailyLosses,
	}, bus)

	wsURL := "wss://stream.binance.com:9443/ws/" + strings.ToLower(cfg.Asset) + "usdt@ticker"
	priceFeed := feed.New(wsURL, cfg.Asset)

	discoverer := market.NewDiscoverer(gammaClient, market.DiscoveryConfig{Asset: cfg.Asset})
	fetcher := market.NewFetcher(clobClient)

	spikePolicy := strategy.NewSpikeDetector(strategy.SpikeConfig{
		Threshold:     cfg.Strategy.SpikeThreshold,
		MinSpeed:      cfg.Strategy.MinSpikeSpeed,
		MaxEntryPrice: cfg.Strategy.MaxEntryPrice,
	})
	var modelPolicy strategy.Policy
	if cfg.Strategy.ModelEnabled && cfg.Strategy.ModelURL != "" {
		modelPolicy = strategy.NewModelPolicy(cfg.Asset, cfg.Strategy.ModelURL)
	}

	tracker := execution.NewTracker()
	executor := execution.New(clobClient, signer, tracker, bus, cfg.TradingMode)

	paperSim := paper.NewSimulator(paper.Config{
		InitialBalanceUSDC: cfg.Paper.InitialBalanceUSDC,
		FeeBps:             cfg.Paper.FeeBps,
		SlippageBps:        cfg.Paper.SlippageBps,
	})

	redemptionQueue := redemption.NewQueue()
	redemptionEngine, err := redemption.New(redemption.Config{
		PrivateKeyHex:  cfg.WalletPrivateKey,
		PrimaryRPCURL:  cfg.PolygonRPCURL,
		KnownProxyAddr: cfg.KnownProxyWallet,
	}, redemptionQueue, bus)
	if err != nil {
		log.Fatalf("redemption engine: %v", err)
	}

	knownProxy := common.Address{}
	hasKnownProxy := strings.TrimSpace(cfg.KnownProxyWallet) != ""
	if hasKnownProxy {
		knownProxy = common.HexToAddress(cfg.KnownProxyWallet)
	}
	posScanner := positions.New(dataClient, redemptionQueue, signer.Address(), knownProxy, hasKnownProxy)

	var notifier app.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}

	coordinator := app.New(cfg, app.Deps{
		Bus:             bus,
		SafetyLedger:    safetyLedger,
		PriceFeed:       priceFeed,
		Discoverer:      discoverer,
		Fetcher:         fetcher,
		SpikePolicy:     spikePolicy,
		ModelPolicy:     modelPolicy,
		Executor:        executor,
		PaperSim:        paperSim,
		RedemptionQueue: redemptionQueue,
		RedemptionEng:   redemptionEngine,
		PosScanner:      posScanner,
		Notifier:        notifier,
	})
	coordinator.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.API.Enabled {
		server := api.NewServer(cfg.API.Addr, coordinator)
		if err := server.Start(ctx); err != nil {
			log.Fatalf("api server: %v", err)
		}
		defer func() {
			_ = server.Shutdown(context.Background())
		}()
	}

	go coordinator.Run(ctx)

	<-sigCh
	log.Println("shutdown signal received")
	cancel()
}
