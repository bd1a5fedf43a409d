package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/llm"
)

// Answer providers.
const (
	ProviderHTTP    = "http"
	ProviderLLM     = "llm"
	ProviderFixture = "fixture"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	AnswerProvider     string `json:"answer_provider,omitempty" validate:"omitempty,oneof=http llm fixture"`
	AnswerURL          string `json:"answer_url,omitempty" validate:"omitempty,url"`
	TimeoutSeconds     int    `json:"timeout_seconds,omitempty" validate:"gte=0,lte=3600"`
	LLMProvider        string `json:"llm_provider,omitempty" validate:"omitempty,llmprovider"`
	APIKey             string `json:"api_key,omitempty"`
	Model              string `json:"model,omitempty"`
	BaseURL            string `json:"base_url,omitempty" validate:"omitempty,url"`
	AudienceAge        int    `json:"audience_age,omitempty" validate:"gte=0,lte=120"`
	AudienceExperience string `json:"audience_experience,omitempty" validate:"max=200"`
	MinReferences      int    `json:"min_references,omitempty" validate:"gte=0,lte=20"`
	CacheEnabled       bool   `json:"cache_enabled"`
	CacheTTLMinutes    int    `json:"cache_ttl_minutes,omitempty" validate:"gte=0"`
	CachePath          string `json:"cache_path,omitempty"`
	LogFile            string `json:"log_file,omitempty"`
	LogLevel           string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("llmprovider", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		for _, p := range llm.Providers() {
			if p == name {
				return true
			}
		}
		return false
	})
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	aud := answer.DefaultAudience()
	return &Config{
		AnswerProvider:     ProviderHTTP,
		AnswerURL:          answer.DefaultBaseURL,
		TimeoutSeconds:     120,
		AudienceAge:        aud.Age,
		AudienceExperience: aud.Experience,
		MinReferences:      aud.MinReferences,
		CacheTTLMinutes:    60,
		LogLevel:           "info",
	}
}

// WithDefaults returns a copy of c with unset fields filled from Default.
func (c *Config) WithDefaults() *Config {
	d := Default()
	out := *c
	if out.AnswerProvider == "" {
		out.AnswerProvider = d.AnswerProvider
	}
	if out.AnswerURL == "" {
		out.AnswerURL = d.AnswerURL
	}
	if out.TimeoutSeconds == 0 {
		out.TimeoutSeconds = d.TimeoutSeconds
	}
	if out.AudienceAge == 0 {
		out.AudienceAge = d.AudienceAge
	}
	if out.AudienceExperience == "" {
		out.AudienceExperience = d.AudienceExperience
	}
	if out.MinReferences == 0 {
		out.MinReferences = d.MinReferences
	}
	if out.CacheTTLMinutes == 0 {
		out.CacheTTLMinutes = d.CacheTTLMinutes
	}
	if out.LogLevel == "" {
		out.LogLevel = d.LogLevel
	}
	return &out
}

// Validate checks field values and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.AnswerProvider == ProviderLLM && c.LLMProvider == "" {
		return errors.New("invalid config: llm_provider is required when answer_provider is llm")
	}
	return nil
}

// Timeout returns the request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long answers are cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
}

// Audience returns the audience used to tailor LLM answers.
func (c *Config) Audience() answer.Audience {
	return answer.Audience{
		Age:           c.AudienceAge,
		Experience:    c.AudienceExperience,
		MinReferences: c.MinReferences,
	}
}

// LLMSettings returns the provider settings from the file, with credentials
// missing there taken from the provider's environment variables.
func (c *Config) LLMSettings() llm.Settings {
	s := llm.Settings{
		Provider: c.LLMProvider,
		APIKey:   c.APIKey,
		Model:    c.Model,
		BaseURL:  c.BaseURL,
	}
	return s.Merge(llm.SettingsFromEnv())
}

// ApplyEnv overrides fields from ADA_* environment variables. Malformed
// numbers and booleans are reported and leave the field unchanged.
func (c *Config) ApplyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ADA_ANSWER_PROVIDER", &c.AnswerProvider)
	str("ADA_ANSWER_URL", &c.AnswerURL)
	num("ADA_TIMEOUT_SECONDS", &c.TimeoutSeconds)
	str("LLM_PROVIDER", &c.LLMProvider)
	str("ADA_LLM_PROVIDER", &c.LLMProvider)
	str("ADA_API_KEY", &c.APIKey)
	str("ADA_MODEL", &c.Model)
	str("ADA_BASE_URL", &c.BaseURL)
	num("ADA_AUDIENCE_AGE", &c.AudienceAge)
	str("ADA_AUDIENCE_EXPERIENCE", &c.AudienceExperience)
	num("ADA_MIN_REFERENCES", &c.MinReferences)
	flag("ADA_CACHE_ENABLED", &c.CacheEnabled)
	num("ADA_CACHE_TTL_MINUTES", &c.CacheTTLMinutes)
	str("ADA_CACHE_PATH", &c.CachePath)
	str("ADA_LOG_FILE", &c.LogFile)
	str("ADA_LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// ToMap flattens c for the wire protocol. The API key is masked.
func (c *Config) ToMap() map[string]string {
	m := map[string]string{
		"answer_provider":     c.AnswerProvider,
		"answer_url":          c.AnswerURL,
		"timeout_seconds":     strconv.Itoa(c.TimeoutSeconds),
		"llm_provider":        c.LLMProvider,
		"model":               c.Model,
		"base_url":            c.BaseURL,
		"audience_age":        strconv.Itoa(c.AudienceAge),
		"audience_experience": c.AudienceExperience,
		"min_references":      strconv.Itoa(c.MinReferences),
		"cache_enabled":       strconv.FormatBool(c.CacheEnabled),
		"cache_ttl_minutes":   strconv.Itoa(c.CacheTTLMinutes),
		"cache_path":          c.CachePath,
		"log_file":            c.LogFile,
		"log_level":           c.LogLevel,
	}
	if c.APIKey != "" {
		m["api_key"] = maskKey(c.APIKey)
	}
	return m
}

// Apply copies values from m into c. Unknown keys and malformed values are
// errors; c is left unchanged in that case.
func (c *Config) Apply(m map[string]string) error {
	next := *c
	var errs []error
	atoi := func(k, v string, dst *int) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			return
		}
		*dst = n
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		switch k {
		case "answer_provider":
			next.AnswerProvider = v
		case "answer_url":
			next.AnswerURL = v
		case "timeout_seconds":
			atoi(k, v, &next.TimeoutSeconds)
		case "llm_provider":
			next.LLMProvider = v
		case "api_key":
			// A masked key echoed back from ToMap keeps the stored one.
			if v != "" && v != maskKey(c.APIKey) {
				next.APIKey = v
			}
		case "model":
			next.Model = v
		case "base_url":
			next.BaseURL = v
		case "audience_age":
			atoi(k, v, &next.AudienceAge)
		case "audience_experience":
			next.AudienceExperience = v
		case "min_references":
			atoi(k, v, &next.MinReferences)
		case "cache_enabled":
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				continue
			}
			next.CacheEnabled = b
		case "cache_ttl_minutes":
			atoi(k, v, &next.CacheTTLMinutes)
		case "cache_path":
			next.CachePath = v
		case "log_file":
			next.LogFile = v
		case "log_level":
			next.LogLevel = v
		default:
			errs = append(errs, fmt.Errorf("unknown config key %q", k))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	*c = next
	return nil
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
