package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	Engine struct {
		BillingCycleDays     int           `mapstructure:"BILLING_CYCLE_DAYS"`
		InactiveWindow       time.Duration `mapstructure:"INACTIVE_WINDOW"`
		AbandonedCartWindow  time.Duration `mapstructure:"ABANDONED_CART_WINDOW"`
		CartRunInterval      time.Duration `mapstructure:"CART_RUN_INTERVAL"`
		RecurringRunInterval time.Duration `mapstructure:"RECURRING_RUN_INTERVAL"`
		AttributionFloor     float64       `mapstructure:"ATTRIBUTION_FLOOR"`
		AttributionCeiling   float64       `mapstructure:"ATTRIBUTION_CEILING"`
		DispatchWorkers      int           `mapstructure:"DISPATCH_WORKERS"`
		SenderTimeout        time.Duration `mapstructure:"SENDER_TIMEOUT"`
		SegmentScanLimit     int           `mapstructure:"SEGMENT_SCAN_LIMIT"`
		Currency             string        `mapstructure:"CURRENCY"`
	} `mapstructure:"ENGINE"`
	Channels struct {
		Resend struct {
			BaseURL   string `mapstructure:"BASE_URL"`
			ApiKey    string `mapstructure:"API_KEY"`
			FromEmail string `mapstructure:"FROM_EMAIL"`
		} `mapstructure:"RESEND"`
		Twilio struct {
			BaseURL    string `mapstructure:"BASE_URL"`
			AccountSID string `mapstructure:"ACCOUNT_SID"`
			AuthToken  string `mapstructure:"AUTH_TOKEN"`
			FromNumber string `mapstructure:"FROM_NUMBER"`
		} `mapstructure:"TWILIO"`
		OneSignal struct {
			BaseURL    string `mapstructure:"BASE_URL"`
			AppID      string `mapstructure:"APP_ID"`
			RestApiKey string `mapstructure:"REST_API_KEY"`
		} `mapstructure:"ONESIGNAL"`
	} `mapstructure:"CHANNELS"`
	Automation struct {
		Secret       string        `mapstructure:"SECRET"`
		DueLimit     int           `mapstructure:"DUE_LIMIT"`
		PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`
	} `mapstructure:"AUTOMATION"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applySecrets(context.Background(), p.Vault, &cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	return &cfg
}

// applySecrets overlays credentials kept in vault under secret/<APP_ENV>.
func applySecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Database.User = get("postgres_user", cfg.Database.User)
	cfg.Database.Password = get("postgres_password", cfg.Database.Password)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	cfg.Flagsmith.ApiKey = get("flagsmith_api_key", cfg.Flagsmith.ApiKey)
	cfg.Channels.Resend.ApiKey = get("resend_api_key", cfg.Channels.Resend.ApiKey)
	cfg.Channels.Twilio.AuthToken = get("twilio_auth_token", cfg.Channels.Twilio.AuthToken)
	cfg.Channels.OneSignal.RestApiKey = get("onesignal_rest_api_key", cfg.Channels.OneSignal.RestApiKey)
	cfg.Automation.Secret = get("automation_secret", cfg.Automation.Secret)
	return nil
}
