package cmd

import (
	"errors"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/urs-matcher/internal/batch"
	"github.com/spigell/urs-matcher/internal/catalog"
	"github.com/spigell/urs-matcher/internal/dedup"
	"github.com/spigell/urs-matcher/internal/logger"
	"github.com/spigell/urs-matcher/internal/pipeline"
	"github.com/spigell/urs-matcher/internal/providers/openai"
	"github.com/spigell/urs-matcher/internal/providers/websearch"
	"github.com/spigell/urs-matcher/internal/rerank"
	"github.com/spigell/urs-matcher/internal/retrieve"
	"github.com/spigell/urs-matcher/internal/router"
	"github.com/spigell/urs-matcher/internal/secrets"
)

const (
	app       = "urs-matcher"
	envPrefix = "URS"
)

type Config struct {
	Catalog   catalog.Config  `mapstructure:"catalog" json:"catalog"`
	Memory    MemoryConfig    `mapstructure:"memory" json:"memory"`
	Providers ProvidersConfig `mapstructure:"providers" json:"providers"`
	Routing   router.Config   `mapstructure:"routing" json:"routing"`
	Matching  MatchingConfig  `mapstructure:"matching" json:"matching"`
	Batch     BatchConfig     `mapstructure:"batch" json:"batch"`
}

type MemoryConfig struct {
	// Path is the sqlite file of confirmed matches. Empty disables the memory.
	Path      string `mapstructure:"path" json:"path"`
	CacheSize int    `mapstructure:"cache-size" json:"cache-size"`
	// DisableCache turns off sharing of results between identical lines.
	DisableCache bool `mapstructure:"disable-cache" json:"disable-cache"`
}

type ProvidersConfig struct {
	Gemini     LLMConfig        `mapstructure:"gemini" json:"gemini"`
	Anthropic  LLMConfig        `mapstructure:"anthropic" json:"anthropic"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter" json:"openrouter"`
	Websearch  websearch.Config `mapstructure:"websearch" json:"websearch"`
	// DisableLexical removes the local split and rerank fallback.
	DisableLexical bool `mapstructure:"disable-lexical" json:"disable-lexical"`
}

type LLMConfig struct {
	Model          string        `mapstructure:"model" json:"model"`
	RateLimit      time.Duration `mapstructure:"rate-limit" json:"rate-limit"`
	secrets.Source `mapstructure:",squash"`
}

type OpenRouterConfig struct {
	openai.Config  `mapstructure:",squash"`
	RateLimit      time.Duration `mapstructure:"rate-limit" json:"rate-limit"`
	secrets.Source `mapstructure:",squash"`
}

type MatchingConfig struct {
	Depth string `mapstructure:"depth" json:"depth"`
	// Sections is an optional section index file replacing the built-in one.
	Sections        string          `mapstructure:"sections" json:"sections"`
	ReviewThreshold float64         `mapstructure:"review-threshold" json:"review-threshold"`
	Retrieve        retrieve.Config `mapstructure:",squash" json:"retrieve"`
	Rerank          rerank.Config   `mapstructure:",squash" json:"rerank"`
	Pipeline        pipeline.Config `mapstructure:",squash" json:"pipeline"`
}

type BatchConfig struct {
	Concurrency int           `mapstructure:"concurrency" json:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "urs-matcher matches Czech construction budget lines to URS catalog codes",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is urs-matcher.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to a file instead of stderr")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))

	setDefaults()
}

// setDefaults registers every key viper should resolve from the environment
// as well, e.g. URS_CATALOG_PATH or URS_BATCH_CONCURRENCY.
func setDefaults() {
	viper.SetDefault("catalog.backend", "file")
	viper.SetDefault("catalog.path", "")
	viper.SetDefault("catalog.dsn", "")
	viper.SetDefault("memory.path", "")
	viper.SetDefault("memory.cache-size", 1024)
	viper.SetDefault("memory.disable-cache", false)

	viper.SetDefault("providers.gemini.model", "")
	viper.SetDefault("providers.gemini.api-key-env", "GEMINI_API_KEY")
	viper.SetDefault("providers.anthropic.model", "")
	viper.SetDefault("providers.anthropic.api-key-env", "ANTHROPIC_API_KEY")
	viper.SetDefault("providers.openrouter.name", "openrouter")
	viper.SetDefault("providers.openrouter.model", "")
	viper.SetDefault("providers.openrouter.base-url", openai.DefaultBaseURL)
	viper.SetDefault("providers.openrouter.api-key-env", "OPENROUTER_API_KEY")
	viper.SetDefault("providers.websearch.url", "")
	viper.SetDefault("providers.websearch.rate-limit", time.Second)
	viper.SetDefault("providers.disable-lexical", false)

	viper.SetDefault("routing.passes", 1)
	viper.SetDefault("routing.backoff", 500*time.Millisecond)

	viper.SetDefault("matching.depth", string(retrieve.Normal))
	viper.SetDefault("matching.sections", "")
	viper.SetDefault("matching.review-threshold", batch.DefaultReviewThreshold)
	viper.SetDefault("matching.max-candidates", catalog.DefaultLimit)
	viper.SetDefault("matching.per-query", catalog.DefaultLimit)
	viper.SetDefault("matching.fallback-confidence", rerank.DefaultFallbackConfidence)
	viper.SetDefault("matching.dedup-threshold", dedup.DefaultThreshold)
	viper.SetDefault("matching.explain", false)
	viper.SetDefault("matching.subwork-concurrency", pipeline.DefaultSubWorkConcurrency)

	viper.SetDefault("batch.concurrency", batch.DefaultConcurrency)
	viper.SetDefault("batch.timeout", time.Duration(0))
}

func initConfig() {
	// Local .env files only fill variables that are not set yet.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env file: %v", err)
	}

	bindEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	err := viper.ReadInConfig()
	if err == nil {
		return
	}

	// Without an explicit --config everything may come from env and defaults.
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return
	}

	// We can't proceed if the config file parsed with error.
	log.Fatal(err)
}

// bindEnv maps nested keys to URS_ variables: matching.max-candidates is
// read from URS_MATCHING_MAX_CANDIDATES.
func bindEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func loggerOptions() logger.Options {
	return logger.Options{
		JSON:   viper.GetBool("json"),
		Debug:  viper.GetBool("debug"),
		Output: viper.GetString("log-file"),
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
