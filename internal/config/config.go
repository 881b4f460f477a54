// Package config loads the engine's configuration bundle from environment
// variables, following the teacher's reflection-based SetConfigFromEnvVars
// idiom rather than a third-party env-parsing library.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vidurai/vidurai-core/internal/verrors"
)

// Salience mirrors store/model.Salience without importing it, to keep
// config dependency-free of the store package.
type Salience = string

// DecayThresholds maps each salience level to its passive-decay duration.
// CRITICAL has no entry: it never decays.
type DecayThresholds struct {
	High   time.Duration `env:"VIDURAI_DECAY_HIGH_HOURS"`
	Medium time.Duration `env:"VIDURAI_DECAY_MEDIUM_HOURS"`
	Low    time.Duration `env:"VIDURAI_DECAY_LOW_HOURS"`
	Noise  time.Duration `env:"VIDURAI_DECAY_NOISE_HOURS"`
}

// RewardProfile names a Q-learning reward weighting, per spec.md §4.8.
type RewardProfile string

const (
	RewardBalanced       RewardProfile = "BALANCED"
	RewardCostFocused    RewardProfile = "COST_FOCUSED"
	RewardQualityFocused RewardProfile = "QUALITY_FOCUSED"
)

// RetentionConfig configures the Retention Engine (C8).
type RetentionConfig struct {
	Policy              string        `env:"VIDURAI_RETENTION_POLICY"` // rule_based | rl_based
	RewardProfile       RewardProfile `env:"VIDURAI_RETENTION_REWARD_PROFILE"`
	Decay               DecayThresholds
	ConsolidationRatio  float64 `env:"VIDURAI_CONSOLIDATION_TARGET_RATIO"`
	MinSalience         string  `env:"VIDURAI_CONSOLIDATION_MIN_SALIENCE"`
	MaxAgeDays          int64   `env:"VIDURAI_CONSOLIDATION_MAX_AGE_DAYS"`
	PreserveCritical    bool    `env:"VIDURAI_CONSOLIDATION_PRESERVE_CRITICAL"`
	HygieneIntervalSecs int64   `env:"VIDURAI_SCHEDULER_HYGIENE_INTERVAL_S"`
	ArchiveIntervalSecs int64   `env:"VIDURAI_SCHEDULER_ARCHIVE_INTERVAL_S"`
	DreamIntervalSecs   int64   `env:"VIDURAI_SCHEDULER_DREAM_INTERVAL_S"`
}

// Config is the top-level configuration bundle (spec.md §6), recognized keys
// only: unrecognized keys in a set_config request are rejected elsewhere by
// the ingress layer, which validates against this struct's env tags.
type Config struct {
	EnvName     string `env:"VIDURAI_ENV_NAME"`
	LogLevel    string `env:"VIDURAI_LOG_LEVEL"`
	DataDir     string `env:"VIDURAI_DATA_DIR"`

	AggregationEnabled bool `env:"VIDURAI_AGGREGATION_ENABLED"`

	Retention RetentionConfig

	GatekeeperExtraPatterns []string // not env-driven; supplied programmatically via set_config

	OracleDefaultMaxTokens int64 `env:"VIDURAI_ORACLE_DEFAULT_MAX_TOKENS"`

	IngressQueueCapacity int64 `env:"VIDURAI_INGRESS_QUEUE_CAPACITY"`

	WriterMicroBatchSize   int64 `env:"VIDURAI_WRITER_MICRO_BATCH_SIZE"`
	WriterMicroBatchWindow int64 `env:"VIDURAI_WRITER_MICRO_BATCH_WINDOW_MS"`

	ClassifierUseLLMGist bool `env:"VIDURAI_CLASSIFIER_USE_LLM_GIST"`
}

// Default returns the configuration defaults named throughout spec.md §6.
func Default() *Config {
	return &Config{
		EnvName:            "local",
		LogLevel:           "info",
		DataDir:            "./vidurai-data",
		AggregationEnabled: true,
		Retention: RetentionConfig{
			Policy:        "rule_based",
			RewardProfile: RewardBalanced,
			Decay: DecayThresholds{
				High:   180 * 24 * time.Hour,
				Medium: 90 * 24 * time.Hour,
				Low:    7 * 24 * time.Hour,
				Noise:  1 * 24 * time.Hour,
			},
			ConsolidationRatio:  0.4,
			MinSalience:         "LOW",
			MaxAgeDays:          30,
			PreserveCritical:    true,
			HygieneIntervalSecs: 300,
			ArchiveIntervalSecs: 86400,
			DreamIntervalSecs:   3600,
		},
		OracleDefaultMaxTokens: 4000,
		IngressQueueCapacity:   4096,
		WriterMicroBatchSize:   64,
		WriterMicroBatchWindow: 5,
		ClassifierUseLLMGist:   false,
	}
}

// LoadLocalEnv loads a ".env" file into the process environment, mirroring
// the teacher's InitLocalEnvConfig: it is a no-op (not an error) when no
// .env file is present.
func LoadLocalEnv() {
	_ = godotenv.Load()
}

// GetenvOrDefault returns os.Getenv(key), or defaultValue when unset/blank.
func GetenvOrDefault(key, defaultValue string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return defaultValue
	}

	return v
}

// GetenvBoolOrDefault parses os.Getenv(key) as a bool, or returns
// defaultValue if unset or unparsable.
func GetenvBoolOrDefault(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return v
}

// GetenvIntOrDefault parses os.Getenv(key) as an int64, or returns
// defaultValue if unset or unparsable.
func GetenvIntOrDefault(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return v
}

// FromEnv builds a Config starting from Default() and overlaying any
// recognized environment variables present in the process environment,
// using the struct's own "env" tags — the teacher's SetConfigFromEnvVars
// pattern, generalized to overlay onto a populated default rather than a
// zero value so unset variables keep the spec's documented defaults.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := overlayEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, verrors.Wrap(err, "loading config from environment")
	}

	return cfg, nil
}

func overlayEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := v.Field(i)

		if !fv.CanSet() {
			continue
		}

		if fv.Kind() == reflect.Struct {
			if err := overlayEnv(fv); err != nil {
				return err
			}

			continue
		}

		tag, ok := f.Tag.Lookup("env")
		if !ok {
			continue
		}

		raw, present := os.LookupEnv(tag)
		if !present || strings.TrimSpace(raw) == "" {
			continue
		}

		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(GetenvBoolOrDefault(tag, fv.Bool()))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if fv.Type() == reflect.TypeOf(time.Duration(0)) {
				hours, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("field %s: %w", f.Name, err)
				}

				fv.Set(reflect.ValueOf(time.Duration(hours * float64(time.Hour))))
			} else {
				fv.SetInt(GetenvIntOrDefault(tag, fv.Int()))
			}
		case reflect.Float32, reflect.Float64:
			val, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}

			fv.SetFloat(val)
		default:
			fv.SetString(raw)
		}
	}

	return nil
}
