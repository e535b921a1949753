// Package config defines all configuration for the trading platform.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BOT_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"futures-bot/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Broker     BrokerConfig    `mapstructure:"broker"`
	Mongo      MongoConfig     `mapstructure:"mongo"`
	Exchange   ExchangeConfig  `mapstructure:"exchange"`
	Feed       FeedConfig      `mapstructure:"feed"`
	Market     MarketConfig    `mapstructure:"market"`
	Replay     ReplayConfig    `mapstructure:"replay"`
	Strategies []StrategyRules `mapstructure:"strategies"`
	Logging    LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig holds the AMQP broker connection.
type BrokerConfig struct {
	AmqpURI string `mapstructure:"amqp_uri"`
}

// MongoConfig holds the document store connection.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// ExchangeConfig holds venue credentials. Testnet switches both the REST
// base URL and the stream endpoint.
type ExchangeConfig struct {
	ApiKey     string `mapstructure:"api_key"`
	PrivateKey string `mapstructure:"private_key"`
	Testnet    bool   `mapstructure:"testnet"`
}

// FeedConfig selects which symbols and entities the feed publisher streams
// and the feed logger persists.
//
//   - Symbols: venue trading pairs, e.g. [BTCUSDT, ETHUSDT].
//   - Entities: subset of {book, trade, depth}.
//   - BulkIntervalSec: feed logger flush interval (seconds).
//   - AliveIntervalSec: publisher heartbeat interval (seconds).
type FeedConfig struct {
	Symbols          []types.Symbol       `mapstructure:"symbols"`
	Entities         []types.StreamEntity `mapstructure:"entities"`
	BulkIntervalSec  int                  `mapstructure:"bulk_interval_sec"`
	AliveIntervalSec int                  `mapstructure:"alive_interval_sec"`
}

// HasEntity reports whether the entity is enabled.
func (f FeedConfig) HasEntity(e types.StreamEntity) bool {
	for _, ent := range f.Entities {
		if ent == e {
			return true
		}
	}
	return false
}

// MarketConfig bounds the in-memory market state.
type MarketConfig struct {
	CandlesLimit int `mapstructure:"candles_limit"`
	DepthLimit   int `mapstructure:"depth_limit"`
}

// ReplayConfig switches the bot from the live bus to replaying persisted
// feed events. Speed 0 replays as fast as possible; Speed N compresses
// event-time gaps by a factor of N. From/To bound the replayed range in
// epoch milliseconds (0 = unbounded).
type ReplayConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	Speed   int             `mapstructure:"speed"`
	From    types.Timestamp `mapstructure:"from"`
	To      types.Timestamp `mapstructure:"to"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ————————————————————————————————————————————————————————————————————————
// Strategy rules
// ————————————————————————————————————————————————————————————————————————

// FieldCondition compares one indicator output field against a constant.
// Operator is one of eq, lt, lte, gt, gte. Boolean indicator fields compare
// as 1 (true) / 0 (false).
type FieldCondition struct {
	Field    string          `mapstructure:"field"`
	Operator string          `mapstructure:"operator"`
	Value    decimal.Decimal `mapstructure:"value"`
}

// SignalCondition is one entry condition: an indicator on a timeframe whose
// output fields must satisfy every FieldCondition on at least one of the
// last SaveSignalCandles candles.
type SignalCondition struct {
	PositionSide      types.PositionSide `mapstructure:"position_side"`
	OrderSide         types.Side         `mapstructure:"order_side"`
	Timeframe         types.Timeframe    `mapstructure:"timeframe"`
	Indicator         string             `mapstructure:"indicator"`
	Parameters        map[string]int     `mapstructure:"parameters"`
	Conditions        []FieldCondition   `mapstructure:"conditions"`
	SaveSignalCandles int                `mapstructure:"save_signal_candles"`
}

// StopLossConfig closes the full position when the adverse move from the
// entry price exceeds Rate (fraction, e.g. 0.05 = 5%).
type StopLossConfig struct {
	Rate decimal.Decimal `mapstructure:"rate"`
}

// TakeProfitStep exits Stake of the position's total quantity once the
// favorable move from the entry price reaches Level (fraction).
type TakeProfitStep struct {
	Level decimal.Decimal `mapstructure:"level"`
	Stake decimal.Decimal `mapstructure:"stake"`
}

// TakeProfitConfig is the laddered exit: steps fire in order, one per
// threshold crossing. Stakes must sum to exactly 1.
type TakeProfitConfig struct {
	Steps []TakeProfitStep `mapstructure:"steps"`
}

// StrategyRules is the full definition of one strategy instance.
type StrategyRules struct {
	ID                     types.StrategyID  `mapstructure:"id"`
	Name                   string            `mapstructure:"name"`
	Symbols                []types.Symbol    `mapstructure:"symbols"`
	Leverage               int               `mapstructure:"leverage"`
	BalanceStake           decimal.Decimal   `mapstructure:"balance_stake"`
	Trailing               bool              `mapstructure:"trailing"`
	TrailingCallbackRate   decimal.Decimal   `mapstructure:"trailing_callback_rate"`
	Conditions             []SignalCondition `mapstructure:"conditions"`
	ConditionsTriggerCount int               `mapstructure:"conditions_trigger_count"`
	StopLoss               *StopLossConfig   `mapstructure:"stop_loss"`
	TakeProfit             *TakeProfitConfig `mapstructure:"take_profit"`
}

// ————————————————————————————————————————————————————————————————————————
// Loading
// ————————————————————————————————————————————————————————————————————————

// decimalHook decodes YAML strings and numbers into decimal.Decimal so
// rates and stakes never pass through binary floats.
func decimalHook() mapstructure.DecodeHookFunc {
	decType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: BOT_AMQP_URI, BOT_MONGO_URI, BOT_API_KEY,
// BOT_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("market.candles_limit", 100)
	v.SetDefault("market.depth_limit", 100)
	v.SetDefault("feed.bulk_interval_sec", 5)
	v.SetDefault("feed.alive_interval_sec", 30)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if uri := os.Getenv("BOT_AMQP_URI"); uri != "" {
		cfg.Broker.AmqpURI = uri
	}
	if uri := os.Getenv("BOT_MONGO_URI"); uri != "" {
		cfg.Mongo.URI = uri
	}
	if key := os.Getenv("BOT_API_KEY"); key != "" {
		cfg.Exchange.ApiKey = key
	}
	if key := os.Getenv("BOT_PRIVATE_KEY"); key != "" {
		cfg.Exchange.PrivateKey = key
	}
	if os.Getenv("BOT_TESTNET") == "true" || os.Getenv("BOT_TESTNET") == "1" {
		cfg.Exchange.Testnet = true
	}

	// Depth state is only maintained when the depth entity is consumed.
	if !cfg.Feed.HasEntity(types.EntityDepth) {
		cfg.Market.DepthLimit = 0
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.AmqpURI == "" {
		return fmt.Errorf("broker.amqp_uri is required (set BOT_AMQP_URI)")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required (set BOT_MONGO_URI)")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo.database is required")
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("feed.symbols must not be empty")
	}
	if len(c.Feed.Entities) == 0 {
		return fmt.Errorf("feed.entities must not be empty")
	}
	for _, e := range c.Feed.Entities {
		switch e {
		case types.EntityBook, types.EntityTrade, types.EntityDepth:
		default:
			return fmt.Errorf("feed.entities: unknown entity %q", e)
		}
	}
	if c.Market.CandlesLimit <= 0 {
		return fmt.Errorf("market.candles_limit must be > 0")
	}
	if c.Replay.Speed < 0 || c.Replay.Speed > 100 {
		return fmt.Errorf("replay.speed must be in [0, 100]")
	}
	for i := range c.Strategies {
		if err := c.Strategies[i].Validate(); err != nil {
			return fmt.Errorf("strategies[%d]: %w", i, err)
		}
	}
	return nil
}

var one = decimal.NewFromInt(1)

// Validate range-checks a single strategy definition.
func (r *StrategyRules) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(r.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if r.Leverage < 1 || r.Leverage > 25 {
		return fmt.Errorf("leverage must be in [1, 25]")
	}
	if r.BalanceStake.LessThanOrEqual(decimal.Zero) || r.BalanceStake.GreaterThan(one) {
		return fmt.Errorf("balance_stake must be in (0, 1]")
	}
	if r.Trailing {
		max := decimal.NewFromFloat(0.02)
		if r.TrailingCallbackRate.LessThanOrEqual(decimal.Zero) || r.TrailingCallbackRate.GreaterThan(max) {
			return fmt.Errorf("trailing_callback_rate must be in (0, 0.02]")
		}
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("conditions must not be empty")
	}
	if r.ConditionsTriggerCount < 1 || r.ConditionsTriggerCount > len(r.Conditions) {
		return fmt.Errorf("conditions_trigger_count must be in [1, %d]", len(r.Conditions))
	}
	for i, cond := range r.Conditions {
		if err := cond.validate(); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
	}
	if r.StopLoss != nil {
		if r.StopLoss.Rate.LessThanOrEqual(decimal.Zero) || r.StopLoss.Rate.GreaterThan(one) {
			return fmt.Errorf("stop_loss.rate must be in (0, 1]")
		}
	}
	if r.TakeProfit != nil {
		if len(r.TakeProfit.Steps) == 0 {
			return fmt.Errorf("take_profit.steps must not be empty")
		}
		ten := decimal.NewFromInt(10)
		sum := decimal.Zero
		for i, step := range r.TakeProfit.Steps {
			if step.Level.LessThanOrEqual(decimal.Zero) || step.Level.GreaterThan(ten) {
				return fmt.Errorf("take_profit.steps[%d].level must be in (0, 10]", i)
			}
			if step.Stake.LessThanOrEqual(decimal.Zero) || step.Stake.GreaterThan(one) {
				return fmt.Errorf("take_profit.steps[%d].stake must be in (0, 1]", i)
			}
			sum = sum.Add(step.Stake)
		}
		if !sum.Equal(one) {
			return fmt.Errorf("take_profit step stakes must sum to 1, got %s", sum)
		}
	}
	return nil
}

func (c *SignalCondition) validate() error {
	switch c.PositionSide {
	case types.PositionLong, types.PositionShort:
	default:
		return fmt.Errorf("position_side must be LONG or SHORT")
	}
	switch c.OrderSide {
	case types.BUY, types.SELL:
	default:
		return fmt.Errorf("order_side must be BUY or SELL")
	}
	if !c.Timeframe.Valid() {
		return fmt.Errorf("unknown timeframe %q", c.Timeframe)
	}
	if c.Indicator == "" {
		return fmt.Errorf("indicator is required")
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("conditions must not be empty")
	}
	for i, fc := range c.Conditions {
		switch fc.Operator {
		case "eq", "lt", "lte", "gt", "gte":
		default:
			return fmt.Errorf("conditions[%d]: unknown operator %q", i, fc.Operator)
		}
		if fc.Field == "" {
			return fmt.Errorf("conditions[%d]: field is required", i)
		}
	}
	if c.SaveSignalCandles < 1 {
		return fmt.Errorf("save_signal_candles must be >= 1")
	}
	return nil
}
