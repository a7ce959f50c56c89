// Package config loads the homeiq configuration from an optional YAML file
// and HOMEIQ_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/wtthornton/HomeIQ-sub005/pkg/enhance"
	"github.com/wtthornton/HomeIQ-sub005/pkg/generate"
	"github.com/wtthornton/HomeIQ-sub005/pkg/hass"
	"github.com/wtthornton/HomeIQ-sub005/pkg/validate"
)

// EnvPrefix is prepended to every environment key:
// home_assistant.url is read from HOMEIQ_HOME_ASSISTANT_URL.
const EnvPrefix = "HOMEIQ"

// Config is the full configuration tree.
type Config struct {
	HomeAssistant HomeAssistantConfig `mapstructure:"home_assistant"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Validation    ValidationConfig    `mapstructure:"validation"`
	Enhance       enhance.Config      `mapstructure:"enhance"`
	Safety        SafetyConfig        `mapstructure:"safety"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// HomeAssistantConfig locates the Home Assistant instance. An empty URL
// runs every command offline.
type HomeAssistantConfig struct {
	URL         string        `mapstructure:"url" validate:"omitempty,url"`
	Token       string        `mapstructure:"token" validate:"required_with=URL"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RegistryTTL time.Duration `mapstructure:"registry_ttl" validate:"gte=0"`
}

// LLMConfig selects the completion endpoint.
type LLMConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key" validate:"required_with=BaseURL"`
	Model           string        `mapstructure:"model"`
	AzureDeployment string        `mapstructure:"azure_deployment"`
	APIVersion      string        `mapstructure:"api_version"`
	Temperature     float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens       int           `mapstructure:"max_tokens" validate:"gte=0"`
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// ValidationConfig decides which findings fail validation.
type ValidationConfig struct {
	StrictLogic    bool `mapstructure:"strict_logic"`
	StrictSafety   bool `mapstructure:"strict_safety"`
	MinSafetyScore int  `mapstructure:"min_safety_score" validate:"gte=0,lte=100"`
	Revalidate     bool `mapstructure:"revalidate"`
}

// SafetyConfig tunes the safety rule set.
type SafetyConfig struct {
	Disabled          []string          `mapstructure:"disabled" validate:"dive,safety_rule"`
	SeverityOverrides map[string]string `mapstructure:"severity_overrides" validate:"dive,keys,safety_rule,endkeys,oneof=error warning"`
	MinTemperature    float64           `mapstructure:"min_temperature"`
	MaxTemperature    float64           `mapstructure:"max_temperature" validate:"gtfield=MinTemperature"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// MetricsConfig enables the prometheus collectors. Addr, when set, serves
// /metrics from the MCP server binary.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
// Rule tables are left unset; the packages fill them from their own
// defaults.
func setDefaults(v *viper.Viper) {
	safety := validate.DefaultSafetyConfig()
	enh := enhance.DefaultConfig()

	v.SetDefault("home_assistant.url", "")
	v.SetDefault("home_assistant.token", "")
	v.SetDefault("home_assistant.timeout", 10*time.Second)
	v.SetDefault("home_assistant.registry_ttl", hass.DefaultRegistryTTL)

	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.azure_deployment", "")
	v.SetDefault("llm.api_version", generate.DefaultAPIVersion)
	v.SetDefault("llm.temperature", generate.DefaultTemperature)
	v.SetDefault("llm.max_tokens", generate.DefaultMaxTokens)
	v.SetDefault("llm.max_attempts", generate.DefaultMaxAttempts)
	v.SetDefault("llm.timeout", generate.DefaultLLMTimeout)

	v.SetDefault("validation.strict_logic", false)
	v.SetDefault("validation.strict_safety", false)
	v.SetDefault("validation.min_safety_score", 0)
	v.SetDefault("validation.revalidate", enh.Revalidate)

	v.SetDefault("enhance.use_choose_blocks", enh.UseChooseBlocks)
	v.SetDefault("enhance.add_availability_conditions", enh.AddAvailabilityConditions)
	v.SetDefault("enhance.description_threshold", enh.DescriptionThreshold)

	v.SetDefault("safety.min_temperature", safety.MinTemperature)
	v.SetDefault("safety.max_temperature", safety.MaxTemperature)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "")
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags to it before calling Decode.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges a YAML file into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ---------------------------------------------------------------------------
// Component settings
// ---------------------------------------------------------------------------

// Hass returns the Home Assistant client settings.
func (c *Config) Hass() hass.Config {
	return hass.Config{
		BaseURL:     c.HomeAssistant.URL,
		Token:       c.HomeAssistant.Token,
		Timeout:     c.HomeAssistant.Timeout,
		RegistryTTL: c.HomeAssistant.RegistryTTL,
	}
}

// LLMClient returns the completion client settings.
func (c *Config) LLMClient() generate.ClientConfig {
	return generate.ClientConfig{
		BaseURL:         c.LLM.BaseURL,
		APIKey:          c.LLM.APIKey,
		Model:           c.LLM.Model,
		AzureDeployment: c.LLM.AzureDeployment,
		APIVersion:      c.LLM.APIVersion,
		Temperature:     c.LLM.Temperature,
		MaxTokens:       c.LLM.MaxTokens,
		Timeout:         c.LLM.Timeout,
	}
}

// Policy returns the pipeline pass/fail policy.
func (c *Config) Policy() validate.Policy {
	return validate.Policy{
		StrictLogic:    c.Validation.StrictLogic,
		StrictSafety:   c.Validation.StrictSafety,
		MinSafetyScore: c.Validation.MinSafetyScore,
	}
}

// SafetyRules returns the safety rule tuning.
func (c *Config) SafetyRules() validate.SafetyConfig {
	return validate.SafetyConfig{
		Disabled:          c.Safety.Disabled,
		SeverityOverrides: c.Safety.SeverityOverrides,
		MinTemperature:    c.Safety.MinTemperature,
		MaxTemperature:    c.Safety.MaxTemperature,
	}
}

// EnhanceChain returns the chain tuning with the revalidation switch from
// the validation section.
func (c *Config) EnhanceChain() enhance.Config {
	out := c.Enhance
	out.Revalidate = c.Validation.Revalidate
	return out
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	known := map[string]bool{}
	for _, r := range validate.SafetyRules {
		known[r.ID] = true
	}
	_ = v.RegisterValidation("safety_rule", func(fl validator.FieldLevel) bool {
		return known[fl.Field().String()]
	})
	return v
}

// Validate checks struct tags and reports every violation on its own line.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}
	err := structValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatFieldError(e))
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
}

func formatFieldError(e validator.FieldError) string {
	path := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required", "required_with":
		return fmt.Sprintf("%s is required", path)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", path, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got: %v)", path, e.Value())
	case "safety_rule":
		return fmt.Sprintf("%s: unknown safety rule %q", path, e.Value())
	case "gte", "lte", "gtfield":
		return fmt.Sprintf("%s is out of range (got: %v)", path, e.Value())
	}
	return fmt.Sprintf("%s failed %s validation (got: %v)", path, e.Tag(), e.Value())
}

// fieldPath turns "Config.LLM.MaxAttempts" into "llm.max_attempts".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
