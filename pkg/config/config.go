// Package config provides a reusable loader for flora-consensus
// configuration: a YAML file merged with explicitly bound, literally-named
// environment variable overrides via viper, following the same pattern as
// the rest of this tree's ambient stack.
//
// Version: v0.1.0
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"flora-consensus/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a petal or consumer process.
type Config struct {
	Ledger struct {
		Network          string `mapstructure:"network" json:"network"` // "mainnet" | "testnet" | "previewnet"
		OperatorID       string `mapstructure:"operator_id" json:"operator_id"`
		OperatorKey      string `mapstructure:"operator_key" json:"-"`
		MirrorBaseURL    string `mapstructure:"mirror_base_url" json:"mirror_base_url"`
	} `mapstructure:"ledger" json:"ledger"`

	Flora struct {
		AccountID            string   `mapstructure:"account_id" json:"account_id"`
		StateTopicID         string   `mapstructure:"state_topic_id" json:"state_topic_id"`
		CoordinationTopicID  string   `mapstructure:"coordination_topic_id" json:"coordination_topic_id"`
		TransactionTopicID   string   `mapstructure:"transaction_topic_id" json:"transaction_topic_id"`
		CategoryTopicID      string   `mapstructure:"category_topic_id" json:"category_topic_id"`
		DiscoveryTopicIDs    []string `mapstructure:"discovery_topic_ids" json:"discovery_topic_ids"`
		RegistryTopicID      string   `mapstructure:"registry_topic_id" json:"registry_topic_id"`
		Participants         []string `mapstructure:"participants" json:"participants"`
		Threshold            string   `mapstructure:"threshold" json:"threshold"`
		ThresholdFingerprint string   `mapstructure:"threshold_fingerprint" json:"threshold_fingerprint"`
	} `mapstructure:"flora" json:"flora"`

	Petal struct {
		ID               string `mapstructure:"id" json:"id"`
		AccountID        string `mapstructure:"account_id" json:"account_id"`
		StateTopicID     string `mapstructure:"state_topic_id" json:"state_topic_id"`
		PublishStateTopic bool  `mapstructure:"publish_state_topic" json:"publish_state_topic"`
		KeySecret        string `mapstructure:"key_secret" json:"-"`
	} `mapstructure:"petal" json:"petal"`

	Consensus struct {
		BlockTimeMS      int `mapstructure:"block_time_ms" json:"block_time_ms"`
		Quorum           int `mapstructure:"quorum" json:"quorum"`
		ExpectedPetals   int `mapstructure:"expected_petals" json:"expected_petals"`
		EpochOriginMS    int64 `mapstructure:"epoch_origin_ms" json:"epoch_origin_ms"`
		PollIntervalMS   int `mapstructure:"poll_interval_ms" json:"poll_interval_ms"`
		PublishAsLeader  bool `mapstructure:"publish_as_leader" json:"publish_as_leader"`
	} `mapstructure:"consensus" json:"consensus"`

	HTTP struct {
		Port          int `mapstructure:"port" json:"port"`
		RateLimitRPS  int `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
		RateLimitBurst int `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
	} `mapstructure:"http" json:"http"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// envBindings maps each config path to the literal environment variable
// name it is known by, per the external-interface list.
var envBindings = map[string]string{
	"ledger.network":              "HEDERA_NETWORK",
	"ledger.operator_id":          "HEDERA_OPERATOR_ID",
	"ledger.operator_key":         "HEDERA_OPERATOR_KEY",
	"ledger.mirror_base_url":      "MIRROR_BASE_URL",
	"flora.participants":          "FLORA_PARTICIPANTS",
	"flora.threshold":             "FLORA_THRESHOLD",
	"flora.threshold_fingerprint": "THRESHOLD_FINGERPRINT",
	"consensus.block_time_ms":     "BLOCK_TIME_MS",
	"consensus.quorum":            "QUORUM",
	"consensus.expected_petals":   "EXPECTED_PETALS",
	"consensus.poll_interval_ms":  "POLL_INTERVAL_MS",
	"http.port":                   "PORT",
	"petal.key_secret":            "PETAL_KEY_SECRET",
	"petal.publish_state_topic":   "PETAL_PUBLISH_STATE_TOPIC",
}

func bindEnv() error {
	for key, env := range envBindings {
		if err := viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("binding %s to %s: %w", key, env, err)
		}
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("ledger.network", "testnet")
	viper.SetDefault("consensus.block_time_ms", 2000)
	viper.SetDefault("consensus.quorum", 2)
	viper.SetDefault("consensus.expected_petals", 3)
	viper.SetDefault("consensus.poll_interval_ms", 10000)
	viper.SetDefault("consensus.publish_as_leader", false)
	viper.SetDefault("petal.publish_state_topic", true)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.rate_limit_rps", 5)
	viper.SetDefault("http.rate_limit_burst", 10)
	viper.SetDefault("storage.db_path", "flora.db")
	viper.SetDefault("logging.level", "info")
}

// Load reads config/default.yaml, merges config/<env>.yaml over it when env
// is non-empty (either file may be absent), applies the explicitly bound
// environment variables in envBindings, unmarshals the result into
// AppConfig, and returns it.
func Load(env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load default config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
			}
		}
	}

	if err := bindEnv(); err != nil {
		return nil, utils.Wrap(err, "binding environment variables")
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := viper.Unmarshal(&AppConfig, viper.DecodeHook(decodeHook)); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the FLORA_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("FLORA_ENV", ""))
}

// BlockTime returns Consensus.BlockTimeMS as a time.Duration.
func (c *Config) BlockTime() time.Duration {
	return time.Duration(c.Consensus.BlockTimeMS) * time.Millisecond
}

// PollInterval returns Consensus.PollIntervalMS as a time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Consensus.PollIntervalMS) * time.Millisecond
}
