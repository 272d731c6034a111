package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Alias1177/HotDigits/internal/backtest"
	"github.com/Alias1177/HotDigits/internal/calculate"
	"github.com/Alias1177/HotDigits/models"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	DrawWidth       int    `env:"DRAW_WIDTH" envDefault:"5"`
	MaxDraws        int    `env:"MAX_DRAWS" envDefault:"2000"`
	AnalysisTimeout int    `env:"ANALYSIS_TIMEOUT" envDefault:"30"` // seconds
	RequestTimeout  int    `env:"REQUEST_TIMEOUT" envDefault:"30"`  // seconds, draw feed fetches

	Tiers         []models.Tier
	PairSource    calculate.PairSource    `env:"PAIR_SOURCE" envDefault:"combinations"`
	TripletSource calculate.TripletSource `env:"TRIPLET_SOURCE" envDefault:"suffix"`
	BacktestTopK  int                     `env:"BACKTEST_TOP_K" envDefault:"5"`

	EnableML       bool  `env:"ENABLE_ML" envDefault:"true"`
	MLWindow       int   `env:"ML_WINDOW" envDefault:"4"`
	MLEpochs       int   `env:"ML_EPOCHS" envDefault:"60"`
	MLSeed         int64 `env:"ML_SEED" envDefault:"42"`
	MLMinHistory   int   `env:"ML_MIN_HISTORY" envDefault:"25"`
	MLTargetDigits int   `env:"ML_TARGET_DIGITS" envDefault:"1"`

	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramBotUsername   string `env:"TELEGRAM_BOT_USERNAME"`
	UserRequestsPerMinute int    `env:"USER_REQUESTS_PER_MINUTE" envDefault:"6"`
	MetricsAddr           string `env:"METRICS_ADDR" envDefault:":9090"`
	Port                  string `env:"PORT" envDefault:"8080"`
}

// tierFile is the YAML layout of TIERS_FILE
type tierFile struct {
	Tiers []models.Tier `yaml:"tiers"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")
	cfg.DrawWidth = getEnvIntWithDefault("DRAW_WIDTH", 5)
	cfg.MaxDraws = getEnvIntWithDefault("MAX_DRAWS", 2000)
	cfg.AnalysisTimeout = getEnvIntWithDefault("ANALYSIS_TIMEOUT", 30)
	cfg.RequestTimeout = getEnvIntWithDefault("REQUEST_TIMEOUT", 30)

	cfg.PairSource = calculate.PairSource(getEnvWithDefault("PAIR_SOURCE", string(calculate.PairsCombinations)))
	cfg.TripletSource = calculate.TripletSource(getEnvWithDefault("TRIPLET_SOURCE", string(calculate.TripletSuffix)))
	cfg.BacktestTopK = getEnvIntWithDefault("BACKTEST_TOP_K", 5)

	cfg.EnableML = getEnvBoolWithDefault("ENABLE_ML", true)
	cfg.MLWindow = getEnvIntWithDefault("ML_WINDOW", 4)
	cfg.MLEpochs = getEnvIntWithDefault("ML_EPOCHS", 60)
	cfg.MLSeed = int64(getEnvIntWithDefault("ML_SEED", 42))
	cfg.MLMinHistory = getEnvIntWithDefault("ML_MIN_HISTORY", 25)
	cfg.MLTargetDigits = getEnvIntWithDefault("ML_TARGET_DIGITS", 1)

	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramBotUsername = os.Getenv("TELEGRAM_BOT_USERNAME")
	cfg.UserRequestsPerMinute = getEnvIntWithDefault("USER_REQUESTS_PER_MINUTE", 6)
	cfg.MetricsAddr = getEnvWithDefault("METRICS_ADDR", ":9090")
	cfg.Port = getEnvWithDefault("PORT", "8080")

	defaults := models.Tier{
		PairTopK:    getEnvIntWithDefault("PAIR_TOP_K", 5),
		TripletTopK: getEnvIntWithDefault("TRIPLET_TOP_K", 5),
		FixedAlpha:  getEnvFloatWithDefault("FIXED_ALPHA", 0),
		AlphaGrid:   getEnvFloatsWithDefault("ALPHA_GRID", []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0}),
		Rules:       getEnvListWithDefault("AUGMENT_RULES", calculate.DefaultRules),
	}

	if path := os.Getenv("TIERS_FILE"); path != "" {
		tiers, err := LoadTiersFile(path, defaults)
		if err != nil {
			return nil, err
		}
		cfg.Tiers = tiers
	} else {
		for _, w := range getEnvIntsWithDefault("TIER_WINDOWS", []int{10, 20}) {
			cfg.Tiers = append(cfg.Tiers, TierForWindow(w, defaults))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TierForWindow builds a tier named after its window using the shared defaults
func TierForWindow(window int, defaults models.Tier) models.Tier {
	t := defaults
	t.Name = fmt.Sprintf("last-%d", window)
	t.Window = window
	t.AlphaGrid = append([]float64(nil), defaults.AlphaGrid...)
	t.Rules = append([]string(nil), defaults.Rules...)
	return t
}

// LoadTiersFile reads a YAML tier list; unset fields take the defaults
func LoadTiersFile(path string, defaults models.Tier) ([]models.Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tiers file: %w", err)
	}
	return ParseTiers(data, defaults)
}

// ParseTiers decodes the YAML tier list
func ParseTiers(data []byte, defaults models.Tier) ([]models.Tier, error) {
	var f tierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing tiers file: %w", err)
	}

	tiers := make([]models.Tier, 0, len(f.Tiers))
	for _, t := range f.Tiers {
		base := TierForWindow(t.Window, defaults)
		if t.Name != "" {
			base.Name = t.Name
		}
		if t.MinHistory > 0 {
			base.MinHistory = t.MinHistory
		}
		if t.PairTopK > 0 {
			base.PairTopK = t.PairTopK
		}
		if t.TripletTopK > 0 {
			base.TripletTopK = t.TripletTopK
		}
		if t.FixedAlpha > 0 {
			base.FixedAlpha = t.FixedAlpha
		}
		if len(t.AlphaGrid) > 0 {
			base.AlphaGrid = t.AlphaGrid
		}
		if t.Rules != nil {
			base.Rules = t.Rules
		}
		tiers = append(tiers, base)
	}
	return tiers, nil
}

// Validate checks the engine-related settings
func (c *Config) Validate() error {
	if c.DrawWidth < 3 || c.DrawWidth > 9 {
		return fmt.Errorf("DRAW_WIDTH must be between 3 and 9, got %d", c.DrawWidth)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier is required")
	}
	for _, t := range c.Tiers {
		if t.Window <= 0 {
			return fmt.Errorf("tier %q: window must be positive", t.Name)
		}
		if t.MinHistory != 0 && t.MinHistory < t.Window {
			return fmt.Errorf("tier %q: min_history %d is below window %d", t.Name, t.MinHistory, t.Window)
		}
		if t.PairTopK <= 0 || t.TripletTopK <= 0 {
			return fmt.Errorf("tier %q: top-k values must be positive", t.Name)
		}
		if t.FixedAlpha > 0 {
			if err := calculate.ValidateAlpha(t.FixedAlpha); err != nil {
				return fmt.Errorf("tier %q: %w", t.Name, err)
			}
		} else if err := backtest.ValidateGrid(t.AlphaGrid); err != nil {
			return fmt.Errorf("tier %q: %w", t.Name, err)
		}
		if _, err := calculate.LookupRules(t.Rules); err != nil {
			return fmt.Errorf("tier %q: %w", t.Name, err)
		}
	}
	if c.MLTargetDigits < 1 || c.MLTargetDigits > 3 {
		return fmt.Errorf("ML_TARGET_DIGITS must be 1, 2 or 3, got %d", c.MLTargetDigits)
	}
	if c.MLWindow < 1 {
		return fmt.Errorf("ML_WINDOW must be positive, got %d", c.MLWindow)
	}
	return nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatWithDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvListWithDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvIntsWithDefault(key string, defaultValue []int) []int {
	var out []int
	for _, part := range getEnvListWithDefault(key, nil) {
		v, err := strconv.Atoi(part)
		if err != nil {
			log.Warn().Str("key", key).Str("value", part).Msg("Ignoring malformed integer list")
			return defaultValue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvFloatsWithDefault(key string, defaultValue []float64) []float64 {
	var out []float64
	for _, part := range getEnvListWithDefault(key, nil) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			log.Warn().Str("key", key).Str("value", part).Msg("Ignoring malformed float list")
			return defaultValue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
