package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/catalog-engine/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig             `yaml:"store" mapstructure:"store"`
	Recognizer RecognizerConfig        `yaml:"recognizer" mapstructure:"recognizer"`
	Reader     ReaderConfig            `yaml:"reader" mapstructure:"reader"`
	Extraction ExtractionConfig        `yaml:"extraction" mapstructure:"extraction"`
	OCR        OCRConfig               `yaml:"ocr" mapstructure:"ocr"`
	Patterns   PatternConfig           `yaml:"patterns" mapstructure:"patterns"`
	Tenants    map[string]TenantConfig `yaml:"tenants" mapstructure:"tenants"`
	Server     ServerConfig            `yaml:"server" mapstructure:"server"`
	Log        LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RecognizerConfig holds field-recognition capability settings.
type RecognizerConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // anthropic | stub
	Key      string `yaml:"key" mapstructure:"key"`
	Model    string `yaml:"model" mapstructure:"model"`
	// SecondPassModel enables the consensus pass on low-clarity regions.
	SecondPassModel string  `yaml:"second_pass_model" mapstructure:"second_pass_model"`
	ClarityFloor    float64 `yaml:"clarity_floor" mapstructure:"clarity_floor"`
}

// ReaderConfig holds the content-fetch capability settings.
type ReaderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExtractionConfig holds global extraction defaults. Each tenant may
// override any threshold; none of these are universal constants.
type ExtractionConfig struct {
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
	MaxPages            int     `yaml:"max_pages" mapstructure:"max_pages"`
	ApprovalThreshold   float64 `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	MinCompleteness     float64 `yaml:"min_completeness" mapstructure:"min_completeness"`
	MinValidRate        float64 `yaml:"min_valid_rate" mapstructure:"min_valid_rate"`
	FuzzyMergeThreshold float64 `yaml:"fuzzy_merge_threshold" mapstructure:"fuzzy_merge_threshold"`
	MappingMinSuccess   float64 `yaml:"mapping_min_success" mapstructure:"mapping_min_success"`
	MaxErrors           int     `yaml:"max_errors" mapstructure:"max_errors"`
	RetryMaxAttempts    int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// OCRConfig configures the document text extractor.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // local | mistral
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// PatternConfig controls pattern learning and reuse.
type PatternConfig struct {
	MinSuccessRate float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MinUses        int     `yaml:"min_uses" mapstructure:"min_uses"`
	StaleAfter     int     `yaml:"stale_after" mapstructure:"stale_after"` // consecutive validation failures
	SampleSize     int     `yaml:"sample_size" mapstructure:"sample_size"`
}

// TenantConfig holds per-tenant overrides. Distinct tenants never share a
// concurrency cap or rate budget. SharedSeedPatterns is a tri-state: unset
// means the tenant is served the global seed set.
type TenantConfig struct {
	Concurrency         int      `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSecond       float64  `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst           int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	ApprovalThreshold   float64  `yaml:"approval_threshold" mapstructure:"approval_threshold"`
	MinCompleteness     float64  `yaml:"min_completeness" mapstructure:"min_completeness"`
	MinValidRate        float64  `yaml:"min_valid_rate" mapstructure:"min_valid_rate"`
	FuzzyMergeThreshold float64  `yaml:"fuzzy_merge_threshold" mapstructure:"fuzzy_merge_threshold"`
	SourcePriority      []string `yaml:"source_priority" mapstructure:"source_priority"`
	SharedSeedPatterns  *bool    `yaml:"shared_seed_patterns" mapstructure:"shared_seed_patterns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// JobConfig resolves the effective per-job configuration for a tenant:
// job-level values win, then tenant overrides, then global defaults.
func (c *Config) JobConfig(tenantID string, req model.JobConfig) model.JobConfig {
	out := req
	tc := c.Tenants[tenantID]

	if out.Concurrency <= 0 {
		out.Concurrency = firstPositiveInt(tc.Concurrency, c.Extraction.Concurrency)
	}
	if out.MaxPages <= 0 {
		out.MaxPages = c.Extraction.MaxPages
	}
	if out.ApprovalThreshold <= 0 {
		out.ApprovalThreshold = firstPositive(tc.ApprovalThreshold, c.Extraction.ApprovalThreshold)
	}
	if out.MinCompleteness <= 0 {
		out.MinCompleteness = firstPositive(tc.MinCompleteness, c.Extraction.MinCompleteness)
	}
	if out.MinValidRate <= 0 {
		out.MinValidRate = firstPositive(tc.MinValidRate, c.Extraction.MinValidRate)
	}
	if out.FuzzyMergeThreshold <= 0 {
		out.FuzzyMergeThreshold = firstPositive(tc.FuzzyMergeThreshold, c.Extraction.FuzzyMergeThreshold)
	}
	if out.MappingMinSuccess <= 0 {
		out.MappingMinSuccess = c.Extraction.MappingMinSuccess
	}
	if out.MaxErrors <= 0 {
		out.MaxErrors = c.Extraction.MaxErrors
	}
	if len(out.SourcePriority) == 0 {
		if len(tc.SourcePriority) > 0 {
			for _, s := range tc.SourcePriority {
				out.SourcePriority = append(out.SourcePriority, model.SourceType(s))
			}
		} else {
			out.SourcePriority = []model.SourceType{model.SourceTypeDocument, model.SourceTypeWeb, model.SourceTypeFeed}
		}
	}
	return out
}

func firstPositive(vals ...float64) float64 {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositiveInt(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("recognizer.provider", "anthropic")
	v.SetDefault("recognizer.model", "claude-haiku-4-5-20251001")
	v.SetDefault("recognizer.second_pass_model", "")
	v.SetDefault("recognizer.clarity_floor", 0.5)
	v.SetDefault("reader.base_url", "https://r.jina.ai")
	v.SetDefault("reader.timeout_secs", 30)
	v.SetDefault("extraction.concurrency", 4)
	v.SetDefault("extraction.max_pages", 20)
	v.SetDefault("extraction.approval_threshold", 0.85)
	v.SetDefault("extraction.min_completeness", 0.6)
	v.SetDefault("extraction.min_valid_rate", 0.8)
	v.SetDefault("extraction.fuzzy_merge_threshold", 0.85)
	v.SetDefault("extraction.mapping_min_success", 0.8)
	v.SetDefault("extraction.max_errors", 50)
	v.SetDefault("extraction.retry_max_attempts", 3)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("patterns.min_success_rate", 0.5)
	v.SetDefault("patterns.min_uses", 5)
	v.SetDefault("patterns.stale_after", 3)
	v.SetDefault("patterns.sample_size", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
