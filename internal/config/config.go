package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at daemon/CLI startup with the resolved data directory; the config
// file lives at <data_dir>/config.json.
func Initialize(dataDir string) error {
	v = viper.New()
	v.SetConfigType("json")

	configPath := filepath.Join(dataDir, "config.json")
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("CLAUDIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(dataDir)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	// Absence of config.json is not an error: every key is optional.

	return nil
}

// setDefaults registers a default for every supported config key.
func setDefaults(dataDir string) {
	v.SetDefault("db_path", "")
	v.SetDefault("ollama_host", "")
	v.SetDefault("embedding_model", "nomic-embed-text")
	v.SetDefault("embedding_dimensions", 768)
	v.SetDefault("language_model", "")

	v.SetDefault("decay_rate_daily", 0.995)
	v.SetDefault("min_importance_threshold", 0.1)

	v.SetDefault("consolidation_interval_hours", 24)
	v.SetDefault("pattern_detection_interval_hours", 24)

	v.SetDefault("max_recall_results", 20)
	v.SetDefault("vector_weight", 0.50)
	v.SetDefault("importance_weight", 0.25)
	v.SetDefault("recency_weight", 0.10)
	v.SetDefault("fts_weight", 0.15)
	v.SetDefault("enable_rrf", true)
	v.SetDefault("rrf_k", 60)
	v.SetDefault("graph_proximity_enabled", true)
	v.SetDefault("graph_proximity_weight", 0.15)
	v.SetDefault("recency_half_life_days", 30)

	v.SetDefault("enable_memory_merging", true)
	v.SetDefault("similarity_merge_threshold", 0.92)
	v.SetDefault("enable_entity_summaries", true)
	v.SetDefault("entity_summary_min_memories", 5)
	v.SetDefault("entity_summary_max_age_days", 90)
	v.SetDefault("enable_auto_dedupe", true)
	v.SetDefault("auto_dedupe_threshold", 0.90)
	v.SetDefault("enable_pre_consolidation_backup", true)
	v.SetDefault("enable_llm_consolidation", false)
	v.SetDefault("llm_consolidation_batch_size", 20)

	v.SetDefault("verify_batch_size", 10)
	v.SetDefault("verify_interval_seconds", 60)

	v.SetDefault("audit_log_retention_days", 90)
	v.SetDefault("prediction_retention_days", 30)
	v.SetDefault("turn_buffer_retention_days", 60)
	v.SetDefault("metrics_retention_days", 90)

	v.SetDefault("vault_sync_enabled", true)
	v.SetDefault("vault_base_dir", filepath.Join(dataDir, "vault"))
	v.SetDefault("files_base_dir", filepath.Join(dataDir, "files"))
	v.SetDefault("document_dormant_days", 180)
	v.SetDefault("document_archive_days", 365)

	v.SetDefault("health_port", 0)
	v.SetDefault("log_path", filepath.Join(dataDir, "daemon.log"))
}

// ConfigSource represents where a configuration value came from.
type ConfigSource string

const (
	SourceDefault    ConfigSource = "default"
	SourceConfigFile ConfigSource = "config_file"
	SourceEnvVar     ConfigSource = "env_var"
	SourceFlag       ConfigSource = "flag"
)

// ConfigOverride represents a detected configuration override, the value
// LogOverride reports for operator diagnostics.
type ConfigOverride struct {
	Key            string
	EffectiveValue interface{}
	OverriddenBy   ConfigSource
	OriginalSource ConfigSource
}

// GetValueSource returns the source of a configuration value. Priority
// (highest to lowest): env var > config file > default.
func GetValueSource(key string) ConfigSource {
	if v == nil {
		return SourceDefault
	}
	envKey := "CLAUDIA_" + strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(key, "-", "_"), ".", "_"))
	if os.Getenv(envKey) != "" {
		return SourceEnvVar
	}
	if v.InConfig(key) {
		return SourceConfigFile
	}
	return SourceDefault
}

// LogOverride logs a message about a configuration override; callers guard
// this on verbose/doctor output.
func LogOverride(override ConfigOverride) {
	fmt.Fprintf(os.Stderr, "config: %s overridden by %s (now: %v)\n",
		override.Key, override.OverriddenBy, override.EffectiveValue)
}

func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

func GetFloat64(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}
