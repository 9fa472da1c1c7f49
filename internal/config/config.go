// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"pizzapalace/internal/logger"
)

// Defaults mirror the storefront's published pricing.
const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = "5051"
	DefaultTaxRate          = "0.18"
	DefaultDeliveryFee      = "40"
	DefaultFreeDelivery     = "500"
	DefaultCartMaxAge       = 24 * time.Hour
	DefaultOrderRetention   = 48 * time.Hour
	DefaultCurrency         = "INR"
	DefaultBrandName        = "Pizza Palace"
	DefaultCatalogFile      = "./data/catalog.json"
	DefaultDatabaseFileName = "pizzapalace.db"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Environment string

	Host string
	Port string

	DataDirectory string
	DatabasePath  string
	Logger        logger.Config

	CatalogFile string
	CatalogURL  string

	TaxRate               decimal.Decimal
	DeliveryFee           decimal.Decimal
	FreeDeliveryThreshold decimal.Decimal
	CartMaxAge            time.Duration
	OrderRetention        time.Duration

	AllowedOrigin string
	Payment       PaymentConfig
}

// PaymentConfig holds the checkout provider credentials.
type PaymentConfig struct {
	Mode         string
	ClientID     string
	ClientSecret string
	APIBase      string
	Currency     string
	BrandName    string
}

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(environment())))
}

func environment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return env
}

// settingOrDefault prefers the environment-suffixed value, then the bare key.
func settingOrDefault(key, def string) string {
	if v := GetEnvBasedSetting(key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Helper: log which environment is running
func (c *Config) LogCurrentEnvironment() {
	if c.Environment == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in %s environment", c.Environment)
	}
}

// Address builds the listen address.
func (c *Config) Address() string {
	return c.Host + ":" + c.Port
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv(path string) {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(path); err != nil {
		log.Printf("No %s file found in %s. Using system environment variables.", path, wd)
	} else {
		log.Printf("Loaded environment variables from %s in %s", path, wd)
	}
}

// Load resolves every setting from the environment. LoadEnv should run first.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	cfg := &Config{
		Environment: environment(),
		Host:        settingOrDefault("SERVER_HOST", DefaultHost),
		Port:        settingOrDefault("SERVER_PORT", DefaultPort),
		CatalogFile: settingOrDefault("CATALOG_FILE", DefaultCatalogFile),
		CatalogURL:  settingOrDefault("CATALOG_URL", ""),
	}

	cfg.DataDirectory = settingOrDefault("DATA_DIRECTORY", filepath.Join(wd, "data"))
	cfg.DatabasePath = settingOrDefault("DATABASE_PATH", filepath.Join(cfg.DataDirectory, DefaultDatabaseFileName))

	logsDir := settingOrDefault("LOGS_DIRECTORY", "./logs")
	cfg.Logger = logger.Config{
		LogsDirectory: logsDir,
		LogFileFormat: settingOrDefault("LOG_FILE_FORMAT", "server_%s.log"),
		TimeZone:      settingOrDefault("TIME_ZONE", "Local"),
		Debug:         os.Getenv("LOG_DEBUG") == "true",
	}

	cfg.TaxRate = decimalSetting("TAX_RATE", DefaultTaxRate)
	cfg.DeliveryFee = decimalSetting("DELIVERY_FEE", DefaultDeliveryFee)
	cfg.FreeDeliveryThreshold = decimalSetting("FREE_DELIVERY_THRESHOLD", DefaultFreeDelivery)
	cfg.CartMaxAge = hoursSetting("CART_MAX_AGE_HOURS", DefaultCartMaxAge)
	cfg.OrderRetention = hoursSetting("ORDER_RETENTION_HOURS", DefaultOrderRetention)

	cfg.AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}

	payment, err := loadPaymentConfig()
	if err != nil {
		return nil, err
	}
	cfg.Payment = payment

	return cfg, nil
}

// loadPaymentConfig sets up PayPal info
func loadPaymentConfig() (PaymentConfig, error) {
	pc := PaymentConfig{
		Mode:         os.Getenv("PAYPAL_MODE"),
		ClientID:     os.Getenv("PAYPAL_CLIENT_ID"),
		ClientSecret: os.Getenv("PAYPAL_CLIENT_SECRET"),
		Currency:     settingOrDefault("CURRENCY", DefaultCurrency),
		BrandName:    settingOrDefault("BRAND_NAME", DefaultBrandName),
	}

	if pc.ClientID == "" || pc.ClientSecret == "" {
		return pc, fmt.Errorf("PayPal credentials are missing or incomplete")
	}

	switch {
	case os.Getenv("PAYPAL_API_BASE") != "":
		pc.APIBase = os.Getenv("PAYPAL_API_BASE")
	case pc.Mode == "live":
		pc.APIBase = "https://api.paypal.com"
	default:
		pc.APIBase = "https://api.sandbox.paypal.com"
	}

	return pc, nil
}

func decimalSetting(key, def string) decimal.Decimal {
	raw := settingOrDefault(key, def)
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		logger.LogWarn("Invalid %s: %q, using default %s", key, raw, def)
		return decimal.RequireFromString(def)
	}
	return d
}

func hoursSetting(key string, def time.Duration) time.Duration {
	raw := settingOrDefault(key, "")
	if raw == "" {
		return def
	}
	hours, err := strconv.ParseFloat(raw, 64)
	if err != nil || hours <= 0 {
		logger.LogWarn("Invalid %s: %q, using default %v", key, raw, def)
		return def
	}
	return time.Duration(hours * float64(time.Hour))
}
