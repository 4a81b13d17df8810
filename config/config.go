package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Clerk               ClerkConfig    `yaml:"clerk" mapstructure:"clerk"`
	HCAD                HCADConfig     `yaml:"hcad" mapstructure:"hcad"`
	Store               StoreConfig    `yaml:"store" mapstructure:"store"`
	Server              ServerConfig   `yaml:"server" mapstructure:"server"`
	Log                 LogConfig      `yaml:"log" mapstructure:"log"`
	Export              ExportConfig   `yaml:"export" mapstructure:"export"`
	Sheets              SheetsConfig   `yaml:"sheets" mapstructure:"sheets"`
	Telegram            TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Extract             ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	InstrumentTypesFile string         `yaml:"instrument_types_file" mapstructure:"instrument_types_file"`
}

// ClerkConfig configures the county clerk records portal session.
type ClerkConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	LoginURL    string `yaml:"login_url" mapstructure:"login_url"`
	SearchURL   string `yaml:"search_url" mapstructure:"search_url"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DelayMillis int    `yaml:"delay_millis" mapstructure:"delay_millis"`
	WindowDays  int    `yaml:"window_days" mapstructure:"window_days"` // 0 searches the whole range at once
}

// HCADConfig configures the appraisal district browser lookups.
type HCADConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Tabs              int     `yaml:"tabs" mapstructure:"tabs"`
	Headless          bool    `yaml:"headless" mapstructure:"headless"`
	BrowserTimeoutMs  int     `yaml:"browser_timeout_ms" mapstructure:"browser_timeout_ms"`
	SearchWaitMs      int     `yaml:"search_wait_ms" mapstructure:"search_wait_ms"`
	SearchesPerSecond float64 `yaml:"searches_per_second" mapstructure:"searches_per_second"`
	BinPath           string  `yaml:"bin_path" mapstructure:"bin_path"`
	DataDir           string  `yaml:"data_dir" mapstructure:"data_dir"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// ServerConfig configures the web UI.
type ServerConfig struct {
	Port             int `yaml:"port" mapstructure:"port"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// ExportConfig configures file exports.
type ExportConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// SheetsConfig configures the optional Google Sheets export.
type SheetsConfig struct {
	SpreadsheetURL  string `yaml:"spreadsheet_url" mapstructure:"spreadsheet_url"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
}

// TelegramConfig configures run notifications.
type TelegramConfig struct {
	Token  string `yaml:"token" mapstructure:"token"`
	ChatID int64  `yaml:"chat_id" mapstructure:"chat_id"`
}

// ExtractConfig configures address extraction from instrument PDFs.
type ExtractConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	AnthropicKey  string `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	Model         string `yaml:"model" mapstructure:"model"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	WorkDir       string `yaml:"work_dir" mapstructure:"work_dir"`
	OCRProvider   string `yaml:"ocr_provider" mapstructure:"ocr_provider"` // "anthropic" or "local"
}

// Load reads configuration from .env, an optional config file and the environment.
// An empty path searches the working directory for config.yaml.
func Load(path string) (*Config, error) {
	// .env is optional; a missing file is the common case in containers.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("PROPSCRAPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Fall back to the variable names the portal's users already have in .env.
	if cfg.Clerk.Username == "" {
		cfg.Clerk.Username = os.Getenv("HCTX_USERNAME")
	}
	if cfg.Clerk.Password == "" {
		cfg.Clerk.Password = os.Getenv("HCTX_PASSWORD")
	}
	if cfg.Extract.AnthropicKey == "" {
		cfg.Extract.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("clerk.base_url", "https://www.cclerk.hctx.net/Applications/WebSearch/")
	v.SetDefault("clerk.login_url", "https://www.cclerk.hctx.net/Applications/WebSearch/Registration/Login.aspx")
	v.SetDefault("clerk.search_url", "https://www.cclerk.hctx.net/Applications/WebSearch/RP_R.aspx?ID=PtRyJzbPPV9CWT5QJ8WvKDQ+gLwGxn+WYxPqQJ2yN2nrebuxSt+MLpgoiTw8390k/FkLbEd+ePVrAgLk58t/pKToXIY6RA7Vlxcm4HNe0h+B44WcgPp55ZpkPH7n9pxaYn8HnDJN/EGBWxPTWRvRlL5+zpHxYWmIh2BBJUy1a29u0hDndbUlo+Vr2ytEO6ki")
	v.SetDefault("clerk.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36")
	v.SetDefault("clerk.timeout_secs", 30)
	v.SetDefault("clerk.delay_millis", 500)
	v.SetDefault("clerk.window_days", 0)
	v.SetDefault("hcad.base_url", "https://search.hcad.org/")
	v.SetDefault("hcad.tabs", 5)
	v.SetDefault("hcad.headless", true)
	v.SetDefault("hcad.browser_timeout_ms", 10000)
	v.SetDefault("hcad.search_wait_ms", 3000)
	v.SetDefault("hcad.searches_per_second", 2.0)
	v.SetDefault("hcad.data_dir", "/tmp/property-scraper-browser")
	v.SetDefault("hcad.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "property_scraper_history.db")
	v.SetDefault("server.port", 8501)
	v.SetDefault("server.poll_interval_secs", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("export.output_dir", "exports")
	v.SetDefault("extract.model", "claude-haiku-4-5-20251001")
	v.SetDefault("extract.pdftotext_path", "pdftotext")
	v.SetDefault("extract.work_dir", "downloads")
	v.SetDefault("extract.ocr_provider", "anthropic")

	// Keys without a real default still need registering so env overrides unmarshal.
	v.SetDefault("clerk.username", "")
	v.SetDefault("clerk.password", "")
	v.SetDefault("hcad.bin_path", "")
	v.SetDefault("log.file", "")
	v.SetDefault("sheets.spreadsheet_url", "")
	v.SetDefault("sheets.credentials_path", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", int64(0))
	v.SetDefault("extract.enabled", false)
	v.SetDefault("extract.anthropic_key", "")
	v.SetDefault("instrument_types_file", "")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	if cfg.File != "" {
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
		zapCfg.ErrorOutputPaths = append(zapCfg.ErrorOutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
