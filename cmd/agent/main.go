// Command agent runs the autonomous perpetual-futures trading agent:
// config load, store/ledger wiring, exchange adapter selection by mode,
// the CycleEngine loop, and the HTTP ControlPlane, until SIGINT/SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futuresagent/internal/control"
	"futuresagent/internal/cycle"
	"futuresagent/internal/events"
	"futuresagent/internal/exchange"
	"futuresagent/internal/ledger"
	"futuresagent/internal/llm"
	"futuresagent/internal/marketdata"
	"futuresagent/internal/monitor"
	"futuresagent/internal/prompt"
	"futuresagent/internal/store"
	"futuresagent/pkg/config"
	"futuresagent/pkg/crypto"
)

const (
	keyEncryptedExchangeAPIKey    = "encrypted_exchange_api_key"
	keyEncryptedExchangeAPISecret = "encrypted_exchange_api_secret"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("[AGENT] starting in %s mode, listening on %s", cfg.Mode, cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := cfg.PaperDBPath
	if cfg.Mode == "live" {
		dbPath = cfg.LiveDBPath
	}
	s, err := store.Open(dbPath)
	if err != nil {
		log.Fatalf("[AGENT] store open failed: %v", err)
	}
	defer s.Close()
	log.Printf("[AGENT] store opened at %s", s.Path())

	l, err := ledger.New(ctx, s, cfg.InitialBalance)
	if err != nil {
		log.Fatalf("[AGENT] ledger init failed: %v", err)
	}

	var adapter exchange.Adapter
	switch cfg.Mode {
	case "live":
		adapter = buildLiveAdapter(ctx, s, cfg)
	default:
		adapter = exchange.NewPaperAdapter(l, int(cfg.MaxLeverage), 4)
		log.Println("[AGENT] paper adapter active")
	}

	builder := prompt.New(prompt.Config{
		ExchangeName:       cfg.ExchangeName,
		AssetClass:         cfg.AssetClass,
		MinPositionSizeUSD: cfg.MinPositionSizeUSD,
		MaxLeverage:        cfg.MaxLeverage,
		PresetName:         cfg.PresetName,
	})

	completer := llm.NewRetryingCompleter(
		llm.NewHTTPCompleter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel),
		3, time.Second,
	)

	marketData := marketdata.NewHTTPProvider(cfg.ExchangeBaseURL)

	token := cycle.NewControlToken(dbPath + ".control")
	engine := cycle.New(s, l, adapter, builder, completer, marketData, token)

	bus := events.NewBus()
	engine.Bus = bus
	riskMonitor := &monitor.Monitor{Bus: bus, Sink: monitor.LogAlertSink{}}
	riskMonitor.Start(ctx)

	metrics := monitor.NewSystemMetrics()

	server := control.NewServer(ctx, control.Config{
		Store:       s,
		Engine:      engine,
		Token:       token,
		Adapter:     adapter,
		Completer:   completer,
		PromptBuild: builder,
		Metrics:     metrics,
		Mode:        cfg.Mode,
		UploadDir:   os.Getenv("UPLOAD_DIR"),
		JWTSecret:   cfg.JWTSecret,
	})

	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil {
			log.Fatalf("[AGENT] control server error: %v", err)
		}
	}()

	sigCtx, sigCancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer sigCancel()
	<-sigCtx.Done()
	log.Println("[AGENT] shutting down")
}

// buildLiveAdapter wires the live exchange backend, encrypting the
// bootstrap plaintext credentials from Config on first run and persisting
// only ciphertext, so a restart decrypts from Store rather than re-reading
// plaintext env vars.
func buildLiveAdapter(ctx context.Context, s *store.Store, cfg *config.Config) exchange.Adapter {
	km, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("[AGENT] key manager init failed: %v", err)
	}

	encAPIKey, found, err := s.GetSetting(ctx, keyEncryptedExchangeAPIKey)
	if err != nil {
		log.Fatalf("[AGENT] read encrypted api key: %v", err)
	}
	encAPISecret, _, err := s.GetSetting(ctx, keyEncryptedExchangeAPISecret)
	if err != nil {
		log.Fatalf("[AGENT] read encrypted api secret: %v", err)
	}

	if !found {
		if cfg.ExchangeAPIKey == "" || cfg.ExchangeAPISecret == "" {
			log.Fatal("[AGENT] live mode requires EXCHANGE_API_KEY/EXCHANGE_API_SECRET on first run")
		}
		encAPIKey, err = km.Encrypt(cfg.ExchangeAPIKey)
		if err != nil {
			log.Fatalf("[AGENT] encrypt api key: %v", err)
		}
		encAPISecret, err = km.Encrypt(cfg.ExchangeAPISecret)
		if err != nil {
			log.Fatalf("[AGENT] encrypt api secret: %v", err)
		}
		if err := s.SetSetting(ctx, keyEncryptedExchangeAPIKey, encAPIKey); err != nil {
			log.Fatalf("[AGENT] persist encrypted api key: %v", err)
		}
		if err := s.SetSetting(ctx, keyEncryptedExchangeAPISecret, encAPISecret); err != nil {
			log.Fatalf("[AGENT] persist encrypted api secret: %v", err)
		}
	}

	creds, err := exchange.LoadCredentials(km, encAPIKey, encAPISecret)
	if err != nil {
		log.Fatalf("[AGENT] load credentials: %v", err)
	}
	log.Println("[AGENT] live adapter active")
	return exchange.NewLiveAdapter(cfg.ExchangeBaseURL, creds)
}
