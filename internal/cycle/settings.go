package cycle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"futuresagent/internal/prompt"
	"futuresagent/internal/risk"
	"futuresagent/internal/store"
)

// Setting keys persisted in the Store's key/value table. Every trading-
// tunable lives here rather than in the startup Config, so an operator can
// change it through the control plane without a restart. The exported
// aliases below let the ControlPlane's bot_config handler validate and
// write them through the same names the cycle loop reads.
const (
	keyMinMarginUSD      = "min_margin_usd"
	keyMaxMarginUSD      = "max_margin_usd"
	keyMaxOpenPositions  = "max_open_positions"
	keyDailyLossLimitUSD = "daily_loss_limit_usd"
	keyMinBalanceUSD     = "min_balance_threshold_usd"
	keyIntervalSeconds   = "cycle_interval_seconds"
	keyPrimaryCoin       = "primary_coin"
	keyPresetName        = "prompt_preset"
	keyNextCycleTime     = "next_cycle_time"
)

// Exported aliases for the setting keys the ControlPlane's bot_config
// endpoint accepts (§6.7).
const (
	KeyMinMarginUSD     = keyMinMarginUSD
	KeyMaxMarginUSD     = keyMaxMarginUSD
	KeyMaxOpenPositions = keyMaxOpenPositions
	KeyMinBalanceUSD    = keyMinBalanceUSD
	KeyIntervalSeconds  = keyIntervalSeconds
	KeyPrimaryCoin      = keyPrimaryCoin
	KeyPresetName       = keyPresetName
)

// Settings is every trading-tunable setting for one cycle, loaded fresh at
// the top of each iteration (step 1 of the cycle algorithm).
type Settings struct {
	risk.Settings
	MinBalanceThresholdUSD float64
	Interval               time.Duration
	PrimaryCoin            string
	PresetName             string
}

// defaultSettings seeds a fresh Store on first run.
func defaultSettings() Settings {
	return Settings{
		Settings: risk.Settings{
			MinMarginUSD:      10,
			MaxMarginUSD:      500,
			MaxOpenPositions:  3,
			DailyLossLimitUSD: 100,
		},
		MinBalanceThresholdUSD: 20,
		Interval:               15 * time.Minute,
		PrimaryCoin:            "BTC/USDC:USDC",
		PresetName:             "standard",
	}
}

// LoadSettings reads every tunable from the Store, falling back to defaults
// for anything unset.
func LoadSettings(ctx context.Context, s *store.Store) (Settings, error) {
	out := defaultSettings()

	if v, ok, err := getFloat(ctx, s, keyMinMarginUSD); err != nil {
		return Settings{}, err
	} else if ok {
		out.MinMarginUSD = v
	}
	if v, ok, err := getFloat(ctx, s, keyMaxMarginUSD); err != nil {
		return Settings{}, err
	} else if ok {
		out.MaxMarginUSD = v
	}
	if v, ok, err := getInt(ctx, s, keyMaxOpenPositions); err != nil {
		return Settings{}, err
	} else if ok {
		out.MaxOpenPositions = v
	}
	if v, ok, err := getFloat(ctx, s, keyDailyLossLimitUSD); err != nil {
		return Settings{}, err
	} else if ok {
		out.DailyLossLimitUSD = v
	}
	if v, ok, err := getFloat(ctx, s, keyMinBalanceUSD); err != nil {
		return Settings{}, err
	} else if ok {
		out.MinBalanceThresholdUSD = v
	}
	if v, ok, err := getInt(ctx, s, keyIntervalSeconds); err != nil {
		return Settings{}, err
	} else if ok {
		out.Interval = time.Duration(v) * time.Second
	}
	if v, ok, err := s.GetSetting(ctx, keyPrimaryCoin); err != nil {
		return Settings{}, err
	} else if ok && v != "" {
		out.PrimaryCoin = v
	}
	if v, ok, err := s.GetSetting(ctx, keyPresetName); err != nil {
		return Settings{}, err
	} else if ok && v != "" {
		out.PresetName = v
	}

	return out, nil
}

// NextCycleTime returns the timestamp the last completed cycle scheduled the
// next one for, or the zero time if none has run yet.
func NextCycleTime(ctx context.Context, s *store.Store) (time.Time, bool, error) {
	raw, ok, err := s.GetSetting(ctx, keyNextCycleTime)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// ApplyConfigValue validates and persists one bot_config field (§6.7). It
// rejects unknown keys and out-of-range values without touching the Store.
func ApplyConfigValue(ctx context.Context, s *store.Store, key, value string) error {
	switch key {
	case KeyPresetName:
		if _, err := prompt.GetPreset(value); err != nil {
			return fmt.Errorf("cycle: %w", err)
		}
	case KeyMinMarginUSD:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("cycle: %s must be a number > 0", key)
		}
	case KeyMaxMarginUSD:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("cycle: %s must be a number > 0", key)
		}
	case KeyMinBalanceUSD:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("cycle: %s must be a number >= 0", key)
		}
	case KeyIntervalSeconds:
		v, err := strconv.Atoi(value)
		if err != nil || v < 10 {
			return fmt.Errorf("cycle: %s must be an integer >= 10", key)
		}
	case KeyMaxOpenPositions:
		v, err := strconv.Atoi(value)
		if err != nil || v < 1 || v > 10 {
			return fmt.Errorf("cycle: %s must be an integer in [1,10]", key)
		}
	case KeyPrimaryCoin:
		if value == "" {
			return fmt.Errorf("cycle: %s must not be empty", key)
		}
	default:
		return fmt.Errorf("cycle: unknown setting %q", key)
	}
	return s.SetSetting(ctx, key, value)
}

func getFloat(ctx context.Context, s *store.Store, key string) (float64, bool, error) {
	raw, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

func getInt(ctx context.Context, s *store.Store, key string) (int, bool, error) {
	raw, ok, err := s.GetSetting(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}
