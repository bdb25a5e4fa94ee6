package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dynacloud/killbill/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logging LoggingConfig `validate:"required"`
	Invoice InvoiceConfig `validate:"required"`
	Payment PaymentConfig `validate:"required"`
	Lock    LockConfig    `validate:"required"`
	Overdue OverdueConfig
	Email   EmailConfig
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// InvoiceConfig drives the monetary math of the generation engine. The
// repair strategy here is only a default: callers may override it per
// generation call for operational recovery.
type InvoiceConfig struct {
	NumberOfDecimals      int32                `mapstructure:"number_of_decimals" validate:"gte=0,lte=6"`
	RoundingMode          types.RoundingMode   `mapstructure:"rounding_mode"`
	DefaultRepairStrategy types.RepairStrategy `mapstructure:"default_repair_strategy"`
	TaxFactors            []TaxFactorEntry     `mapstructure:"tax_factors"`
}

// TaxFactorEntry is one effective-dated tax factor; the table is consulted
// reverse-chronologically, first entry strictly before the lookup date wins.
type TaxFactorEntry struct {
	EffectiveDate time.Time `mapstructure:"effective_date"`
	Factor        float64   `mapstructure:"factor"`
}

type PaymentConfig struct {
	// PaymentSystemOff short-circuits all gateway calls; attempts are
	// recorded in PAYMENT_SYSTEM_OFF state.
	PaymentSystemOff bool `mapstructure:"payment_system_off"`
	// PluginTimeout bounds a single gateway call while the account lock is held.
	PluginTimeout time.Duration `mapstructure:"plugin_timeout"`
	// PluginPoolSize bounds concurrent in-flight gateway calls.
	PluginPoolSize int `mapstructure:"plugin_pool_size"`
	// Retry delay tables, indexed by prior attempt count in the matching
	// failure category. An attempt count beyond the table aborts the payment.
	PaymentFailureRetries []time.Duration `mapstructure:"payment_failure_retries"`
	PluginFailureRetries  []time.Duration `mapstructure:"plugin_failure_retries"`
	AutoPayOffRetries     []time.Duration `mapstructure:"auto_pay_off_retries"`
}

type LockConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type OverdueConfig struct {
	InitialReevaluationInterval time.Duration        `mapstructure:"initial_reevaluation_interval"`
	States                      []OverdueStateConfig `mapstructure:"states"`
}

// OverdueStateConfig is one configured overdue tier; states are ordered from
// clear to most severe.
type OverdueStateConfig struct {
	Name                 string                    `mapstructure:"name"`
	IsClear              bool                      `mapstructure:"is_clear"`
	BlockChanges         bool                      `mapstructure:"block_changes"`
	DisableEntitlement   bool                      `mapstructure:"disable_entitlement"`
	CancellationPolicy   types.BillingActionPolicy `mapstructure:"cancellation_policy"`
	ReevaluationInterval time.Duration             `mapstructure:"reevaluation_interval"`
	DaysBetween          int                       `mapstructure:"days_between"`
	EmailSubject         string                    `mapstructure:"email_subject"`
	EmailTemplate        string                    `mapstructure:"email_template"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	ReplyTo     string `mapstructure:"reply_to"`
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/killbill")

	v.SetEnvPrefix("KILLBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Invoice.RoundingMode.Validate(); err != nil {
		return err
	}
	if err := c.Invoice.DefaultRepairStrategy.Validate(); err != nil {
		return err
	}
	for _, s := range c.Overdue.States {
		if s.Name == "" {
			return fmt.Errorf("overdue state requires a name")
		}
		if err := s.CancellationPolicy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetDefaultConfig returns a configuration suitable for local development
// and tests.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Logging: LoggingConfig{Level: types.LogLevelInfo},
		Invoice: InvoiceConfig{
			NumberOfDecimals:      2,
			RoundingMode:          types.RoundingModeHalfUp,
			DefaultRepairStrategy: types.RepairStrategyPartial,
			TaxFactors:            DefaultTaxFactors(),
		},
		Payment: PaymentConfig{
			PluginTimeout:  30 * time.Second,
			PluginPoolSize: 10,
			PaymentFailureRetries: []time.Duration{
				8 * 24 * time.Hour,
				8 * 24 * time.Hour,
				8 * 24 * time.Hour,
			},
			PluginFailureRetries: []time.Duration{
				15 * time.Minute,
				30 * time.Minute,
				1 * time.Hour,
				6 * time.Hour,
				12 * time.Hour,
				24 * time.Hour,
			},
			AutoPayOffRetries: []time.Duration{0},
		},
		Lock: LockConfig{
			MaxRetries: 5,
			RetryDelay: 100 * time.Millisecond,
		},
		Overdue: OverdueConfig{
			InitialReevaluationInterval: 24 * time.Hour,
		},
	}
}

// DefaultTaxFactors is the historical VAT factor table for The Netherlands.
// Regional bolt-on kept as configuration, not engine logic: deployments
// elsewhere replace or empty it.
func DefaultTaxFactors() []TaxFactorEntry {
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return []TaxFactorEntry{
		{EffectiveDate: date(1969, time.January, 1), Factor: 1.12},
		{EffectiveDate: date(1971, time.January, 1), Factor: 1.14},
		{EffectiveDate: date(1973, time.January, 1), Factor: 1.16},
		{EffectiveDate: date(1976, time.October, 1), Factor: 1.18},
		{EffectiveDate: date(1984, time.January, 1), Factor: 1.19},
		{EffectiveDate: date(1986, time.October, 1), Factor: 1.20},
		{EffectiveDate: date(1989, time.January, 1), Factor: 1.185},
		{EffectiveDate: date(1992, time.October, 1), Factor: 1.175},
		{EffectiveDate: date(2001, time.January, 1), Factor: 1.19},
		{EffectiveDate: date(2012, time.October, 1), Factor: 1.21},
	}
}
