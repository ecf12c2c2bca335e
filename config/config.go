package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
		Redis struct {
			Addr     string        `mapstructure:"addr"`
			Password string        `mapstructure:"password"`
			DB       int           `mapstructure:"db"`
			CacheTTL time.Duration `mapstructure:"cacheTTL"`
		} `mapstructure:"redis"`
	} `mapstructure:"repositories"`
	Stripe StripeConfig `mapstructure:"stripe"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Gemini struct {
		APIKey string `mapstructure:"apiKey"`
		Model  string `mapstructure:"model"`
	} `mapstructure:"gemini"`
	Search struct {
		BaseURL string `mapstructure:"baseURL"`
		APIKey  string `mapstructure:"apiKey"`
	} `mapstructure:"search"`
}

// StripeConfig holds billing credentials and the price-ID catalog. Price IDs
// are configuration, not code, so adding a price never touches the tier
// mapping logic.
type StripeConfig struct {
	SecretKey       string `mapstructure:"secretKey"`
	WebhookSecret   string `mapstructure:"webhookSecret"`
	SuccessURL      string `mapstructure:"successURL"`
	CancelURL       string `mapstructure:"cancelURL"`
	PortalReturnURL string `mapstructure:"portalReturnURL"`
	PriceIDs        struct {
		PremiumMonthly  string `mapstructure:"premiumMonthly"`
		PremiumAnnual   string `mapstructure:"premiumAnnual"`
		BusinessMonthly string `mapstructure:"businessMonthly"`
		BusinessAnnual  string `mapstructure:"businessAnnual"`
	} `mapstructure:"priceIDs"`
}

type JWTConfig struct {
	SecretKey string `mapstructure:"secretKey"`
	Audience  string `mapstructure:"audience"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("ROOFTOPS")
	v.AutomaticEnv()

	// Try to load file-based config, fall back to the embedded copy.
	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}
	return config, nil
}
