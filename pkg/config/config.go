package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the startup, env-driven configuration that is not part of
// the Setting table: HTTP listen address, database paths, execution mode,
// auth secret, and logging. Trading-facing tunables (min/max margin,
// leverage caps, position count, interval) live in the Setting table and
// are read through Store, not here.
type Config struct {
	HTTPAddr string

	// Execution mode selects which ExchangeAdapter backend CycleEngine
	// drives: "paper" delegates to Ledger, "live" calls the exchange.
	Mode string

	PaperDBPath string
	LiveDBPath  string

	// Live-adapter credentials, stored encrypted via pkg/crypto once
	// supplied; read here only as the initial bootstrap value.
	ExchangeAPIKey    string
	ExchangeAPISecret string

	JWTSecret string
	LogLevel  string

	// InitialBalance seeds a fresh paper Ledger when no prior snapshot
	// exists.
	InitialBalance float64

	// LLM collaborator. BaseURL/Model select a provider at startup;
	// no vendor SDK is compiled in.
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// ExchangeBaseURL is the live-adapter REST endpoint and, in paper
	// mode, the public market-data endpoint CycleEngine's
	// MarketDataProvider polls for current prices.
	ExchangeBaseURL string

	// PromptBuilder fixed fields (asset-class description, not a
	// per-cycle tunable).
	ExchangeName       string
	AssetClass         string
	MinPositionSizeUSD float64
	MaxLeverage        float64
	PresetName         string
}

// Load reads environment variables (optionally from a .env file) into a
// Config. Missing .env is not an error; the process still starts from
// defaults and explicit environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		Mode:              strings.ToLower(getEnv("EXECUTION_MODE", "paper")),
		PaperDBPath:       getEnv("PAPER_DB_PATH", "./data/paper.db"),
		LiveDBPath:        getEnv("LIVE_DB_PATH", "./data/live.db"),
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		InitialBalance:    getEnvFloat("INITIAL_BALANCE", 10000.0),

		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),

		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://api.hyperliquid.xyz"),

		ExchangeName:       getEnv("EXCHANGE_NAME", "Hyperliquid"),
		AssetClass:         getEnv("ASSET_CLASS", "perpetual futures"),
		MinPositionSizeUSD: getEnvFloat("MIN_POSITION_SIZE_USD", 10.0),
		MaxLeverage:        getEnvFloat("MAX_LEVERAGE", 20.0),
		PresetName:         getEnv("PROMPT_PRESET", "standard"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
