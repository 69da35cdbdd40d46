// Package config loads a replica's configuration from a YAML file (and
// environment overrides) via viper, with every field also bindable as a
// cobra flag — the configuration-loading idiom most of the example pack's
// CLIs use, generalized in place of the teacher's plain flag package.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the full configuration for one replica.
type Config struct {
	Node         string             `mapstructure:"node"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Log          LogConfig          `mapstructure:"log"`
	WriteQuota   WriteQuotaConfig   `mapstructure:"writeQuota"`
	LagClient    LagClientConfig    `mapstructure:"lagClient"`
	HTTP         HTTPConfig         `mapstructure:"http"`
}

// CoordinationConfig configures the ZooKeeper (or compatible) ensemble
// C1 connects to.
type CoordinationConfig struct {
	Endpoints            []string `mapstructure:"endpoints"`
	SessionTimeoutMillis int      `mapstructure:"sessionTimeoutMillis"`
	RootPath             string   `mapstructure:"rootPath"`
}

// ExecutorConfig configures C3's worker pool and per-execution-path lock.
type ExecutorConfig struct {
	NumWorkers        int `mapstructure:"numWorkers"`
	LockTimeoutMillis int `mapstructure:"lockTimeoutMillis"`
}

// LogConfig configures C2's prune policy.
type LogConfig struct {
	MaxCount     int   `mapstructure:"maxCount"`
	MinAgeMillis int64 `mapstructure:"minAgeMillis"`
}

// WriteQuotaConfig is loaded into Config, but cmd/server does not pass it
// on to the write-quota limiter: a repository with no quota set through
// SetWriteQuota is unlimited.
type WriteQuotaConfig struct {
	RequestQuota      int `mapstructure:"requestQuota"`
	TimeWindowSeconds int `mapstructure:"timeWindowSeconds"`
}

// LagClientConfig configures C6's retry policy.
type LagClientConfig struct {
	MaxRetries          int   `mapstructure:"maxRetries"`
	RetryIntervalMillis int64 `mapstructure:"retryIntervalMillis"`
}

// HTTPConfig configures the transport layer's listen address.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// defaults mirrors spec.md §6's tunables.
func defaults(v *viper.Viper) {
	v.SetDefault("node", "replica-1")
	v.SetDefault("coordination.endpoints", []string{"127.0.0.1:2181"})
	v.SetDefault("coordination.sessionTimeoutMillis", 10_000)
	v.SetDefault("coordination.rootPath", "/configstore")
	v.SetDefault("executor.numWorkers", 8)
	v.SetDefault("executor.lockTimeoutMillis", 60_000)
	v.SetDefault("log.maxCount", 100)
	v.SetDefault("log.minAgeMillis", int64(3_600_000))
	v.SetDefault("writeQuota.requestQuota", 0)
	v.SetDefault("writeQuota.timeWindowSeconds", 1)
	v.SetDefault("lagClient.maxRetries", 3)
	v.SetDefault("lagClient.retryIntervalMillis", int64(200))
	v.SetDefault("http.addr", ":8080")
}

// Load reads configuration from configFile (if non-empty and present),
// then environment variables prefixed CONFIGSTORE_ (nested fields joined
// with "_", e.g. CONFIGSTORE_EXECUTOR_NUMWORKERS), then defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("configstore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// BindFlags registers every field above as a persistent flag on cmd and
// binds it into v. Load resolves the file, environment and defaults
// through its own viper instance; cmd/server then overlays only the flags
// that were actually set, so flags take precedence, then env, then file,
// then defaults.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("node", "", "this replica's node identifier")
	flags.StringSlice("coordination-endpoints", nil, "coordination service endpoints (host:port,...)")
	flags.Int("coordination-session-timeout-millis", 0, "coordination session timeout")
	flags.String("coordination-root-path", "", "coordination service root path for this cluster")
	flags.Int("executor-num-workers", 0, "executor worker pool size")
	flags.Int("executor-lock-timeout-millis", 0, "per-execution-path mutex timeout")
	flags.Int("log-max-count", 0, "minimum replication logs to retain regardless of age")
	flags.Int64("log-min-age-millis", 0, "minimum age before a replication log is eligible for pruning")
	flags.Int("write-quota-request-quota", -1, "writeQuota.requestQuota value (not passed to the limiter)")
	flags.Int("write-quota-time-window-seconds", 0, "writeQuota.timeWindowSeconds value (not passed to the limiter)")
	flags.Int("lag-client-max-retries", 0, "lag-tolerant proxy max retries")
	flags.Int64("lag-client-retry-interval-millis", 0, "lag-tolerant proxy retry interval")
	flags.String("http-addr", "", "HTTP listen address")

	bind := func(key, flag string) {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	bind("node", "node")
	bind("coordination.endpoints", "coordination-endpoints")
	bind("coordination.sessionTimeoutMillis", "coordination-session-timeout-millis")
	bind("coordination.rootPath", "coordination-root-path")
	bind("executor.numWorkers", "executor-num-workers")
	bind("executor.lockTimeoutMillis", "executor-lock-timeout-millis")
	bind("log.maxCount", "log-max-count")
	bind("log.minAgeMillis", "log-min-age-millis")
	bind("writeQuota.requestQuota", "write-quota-request-quota")
	bind("writeQuota.timeWindowSeconds", "write-quota-time-window-seconds")
	bind("lagClient.maxRetries", "lag-client-max-retries")
	bind("lagClient.retryIntervalMillis", "lag-client-retry-interval-millis")
	bind("http.addr", "http-addr")
}
