// Package config loads and validates the node configuration.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Config is the full node configuration.
type Config struct {
	ChainID uint16 `mapstructure:"chain_id" validate:"required"`
	// EngineAddress is this node's engine identity and EIP-712 verifying
	// contract, hex encoded.
	EngineAddress string `mapstructure:"engine_address" validate:"required,len=42,startswith=0x"`

	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	Database DatabaseConfig `mapstructure:"database"`
	Fees     FeeConfig      `mapstructure:"fees"`
	Bridge   BridgeConfig   `mapstructure:"bridge"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type DatabaseConfig struct {
	// DSN is the sqlite file path or DSN string.
	DSN string `mapstructure:"dsn" validate:"required"`
}

type FeeConfig struct {
	// ProtocolFeeRecipient receives protocol fees, hex encoded.
	ProtocolFeeRecipient string `mapstructure:"protocol_fee_recipient" validate:"required,len=42,startswith=0x"`
	// RoyaltyLimitBps caps per-collection royalty overrides.
	RoyaltyLimitBps uint64 `mapstructure:"royalty_limit_bps"`
	// ProtocolFeeBps is charged by the built-in strategies.
	ProtocolFeeBps uint64 `mapstructure:"protocol_fee_bps"`
}

type BridgeConfig struct {
	// DstGasLimit is the execution gas requested on the destination chain.
	DstGasLimit uint64 `mapstructure:"dst_gas_limit" validate:"required"`
	// AirdropAmount is the destination-chain native value bundled with
	// omnichain currency sends.
	AirdropAmount uint64 `mapstructure:"airdrop_amount"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" validate:"required,min=1,dive,required"`
}

type AdminConfig struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("database.dsn", "omnidex.db")
	v.SetDefault("fees.royalty_limit_bps", 500)
	v.SetDefault("fees.protocol_fee_bps", 200)
	v.SetDefault("bridge.dst_gas_limit", 350000)
	v.SetDefault("bridge.airdrop_amount", 0)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("admin.listen_addr", ":8080")
}

// Load reads the configuration file at path, layers OMNIDEX_* environment
// variables over it, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("OMNIDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewWithKind(errors.KindConfig).
			Explain("read config %s: %v", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewWithKind(errors.KindConfig).
			Explain("unmarshal config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the fee bounds.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.NewWithKind(errors.KindConfig).
			Explain("invalid config: %v", err)
	}
	// 9500 bps leaves room for the protocol fee inside a full price.
	if c.Fees.RoyaltyLimitBps > 9500 {
		return errors.NewWithKind(errors.KindConfig).
			Explain("royalty limit %d bps above 9500", c.Fees.RoyaltyLimitBps)
	}
	if c.Fees.ProtocolFeeBps > 10000 {
		return errors.NewWithKind(errors.KindConfig).
			Explain("protocol fee %d bps above 10000", c.Fees.ProtocolFeeBps)
	}
	return nil
}
