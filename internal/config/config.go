package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel          = "gemini-2.0-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultEmbeddingDim   = 768
	DefaultMaxTokens      = 2048
	DefaultBufSize        = 100
	DefaultConsolePort    = 18890

	DefaultRequestsPerMinute = 60
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldownMs = 30000
	DefaultRetryMaxAttempts  = 3

	DefaultShortTermLimit      = 20
	DefaultRetentionDays       = 30
	DefaultSimilarityThreshold = 0.7
	DefaultRetrievalTopK       = 5
	DefaultImportanceThreshold = 0.65

	DefaultActiveAt  = "07:00"
	DefaultFreeAt    = "20:00"
	DefaultStandbyAt = "00:00"

	DefaultTickSecondsProd   = 300
	DefaultTickSecondsTest   = 10
	DefaultSpeechProbProd    = 0.33
	DefaultSpeechProbTest    = 1.0
	DefaultTaskChannelBias   = 0.9
	DefaultAntiRepeatPenalty = 0.1

	DefaultPipelineTimeoutMs = 10000
	DefaultMaxConcurrent     = 4
	DefaultDedupWindow       = 4096
	DefaultQueueWarnDepth    = 1000
)

type Config struct {
	Workspace string          `json:"workspace"`
	Provider  ProviderConfig  `json:"provider"`
	Limits    LimitsConfig    `json:"limits"`
	Channels  ChannelsConfig  `json:"channels"`
	Memory    MemoryConfig    `json:"memory"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

type ProviderConfig struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl,omitempty"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embeddingModel"`
	EmbeddingDim   int    `json:"embeddingDim"`
	MaxTokens      int    `json:"maxTokens"`
}

// LimitsConfig tunes the rate-limited gateway in front of the provider.
type LimitsConfig struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	BreakerThreshold  int `json:"breakerThreshold"`
	BreakerCooldownMs int `json:"breakerCooldownMs"`
	RetryMaxAttempts  int `json:"retryMaxAttempts"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Console  ConsoleConfig  `json:"console"`
}

// TelegramConfig carries one bot token per persona so each persona
// transmits under its own identity, plus the mapping from logical channel
// names to telegram chat IDs.
type TelegramConfig struct {
	Enabled       bool              `json:"enabled"`
	PersonaTokens map[string]string `json:"personaTokens"`
	ChatMap       map[string]int64  `json:"chatMap"`
	AllowFrom     []string          `json:"allowFrom"`
	Proxy         string            `json:"proxy,omitempty"`
}

type ConsoleConfig struct {
	Enabled   bool     `json:"enabled"`
	Port      int      `json:"port,omitempty"`
	AllowFrom []string `json:"allowFrom"`
}

type MemoryConfig struct {
	DBPath              string  `json:"dbPath,omitempty"`
	ShortTermLimit      int     `json:"shortTermLimit"`
	RetentionDays       int     `json:"retentionDays"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
	RetrievalTopK       int     `json:"retrievalTopK"`
	ImportanceThreshold float64 `json:"importanceThreshold"`
	ConsolidateAt       string  `json:"consolidateAt"`
}

// WorkflowConfig sets the daily phase boundaries (HH:MM wall clock) and
// the channels the phase machine cares about.
type WorkflowConfig struct {
	ActiveAt        string   `json:"activeAt"`
	FreeAt          string   `json:"freeAt"`
	StandbyAt       string   `json:"standbyAt"`
	Channels        []string `json:"channels"`
	SocialChannel   string   `json:"socialChannel"`
	AnnounceChannel string   `json:"announceChannel"`
}

// ChannelNames returns the logical channel set, falling back to the
// built-in four rooms when the config leaves it empty.
func (w WorkflowConfig) ChannelNames() []string {
	if len(w.Channels) > 0 {
		return w.Channels
	}
	return []string{"command_center", "lounge", "development", "creation"}
}

type SchedulerConfig struct {
	Environment       string  `json:"environment"` // "test" or "production"
	TickSeconds       int     `json:"tickSeconds,omitempty"`
	SpeechProbability float64 `json:"speechProbability,omitempty"`
	TaskChannelBias   float64 `json:"taskChannelBias"`
	AntiRepeatPenalty float64 `json:"antiRepeatPenalty"`
}

type PipelineConfig struct {
	TimeoutMs      int `json:"timeoutMs"`
	MaxConcurrent  int `json:"maxConcurrent"`
	DedupWindow    int `json:"dedupWindow"`
	QueueWarnDepth int `json:"queueWarnDepth"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: filepath.Join(home, ".triad", "workspace"),
		Provider: ProviderConfig{
			Model:          DefaultModel,
			EmbeddingModel: DefaultEmbeddingModel,
			EmbeddingDim:   DefaultEmbeddingDim,
			MaxTokens:      DefaultMaxTokens,
		},
		Limits: LimitsConfig{
			RequestsPerMinute: DefaultRequestsPerMinute,
			BreakerThreshold:  DefaultBreakerThreshold,
			BreakerCooldownMs: DefaultBreakerCooldownMs,
			RetryMaxAttempts:  DefaultRetryMaxAttempts,
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{Port: DefaultConsolePort},
		},
		Memory: MemoryConfig{
			ShortTermLimit:      DefaultShortTermLimit,
			RetentionDays:       DefaultRetentionDays,
			SimilarityThreshold: DefaultSimilarityThreshold,
			RetrievalTopK:       DefaultRetrievalTopK,
			ImportanceThreshold: DefaultImportanceThreshold,
			ConsolidateAt:       "06:00",
		},
		Workflow: WorkflowConfig{
			ActiveAt:        DefaultActiveAt,
			FreeAt:          DefaultFreeAt,
			StandbyAt:       DefaultStandbyAt,
			Channels:        []string{"command_center", "lounge", "development", "creation"},
			SocialChannel:   "lounge",
			AnnounceChannel: "command_center",
		},
		Scheduler: SchedulerConfig{
			Environment:       "production",
			TaskChannelBias:   DefaultTaskChannelBias,
			AntiRepeatPenalty: DefaultAntiRepeatPenalty,
		},
		Pipeline: PipelineConfig{
			TimeoutMs:      DefaultPipelineTimeoutMs,
			MaxConcurrent:  DefaultMaxConcurrent,
			DedupWindow:    DefaultDedupWindow,
			QueueWarnDepth: DefaultQueueWarnDepth,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".triad")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("TRIAD_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if url := os.Getenv("TRIAD_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("TRIAD_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if env := os.Getenv("TRIAD_ENVIRONMENT"); env != "" {
		cfg.Scheduler.Environment = env
	}
	if tick := os.Getenv("TRIAD_TICK_SECONDS"); tick != "" {
		if parsed, err := strconv.Atoi(tick); err == nil && parsed > 0 {
			cfg.Scheduler.TickSeconds = parsed
		}
	}
	if db := os.Getenv("TRIAD_DB_PATH"); db != "" {
		cfg.Memory.DBPath = db
	}
}

// TickSeconds resolves the autonomous tick interval: explicit value first,
// then the environment default (10s test, 300s production).
func (s SchedulerConfig) ResolveTickSeconds() int {
	if s.TickSeconds > 0 {
		return s.TickSeconds
	}
	if s.Environment == "test" {
		return DefaultTickSecondsTest
	}
	return DefaultTickSecondsProd
}

// ResolveSpeechProbability resolves the per-tick speech gate: explicit
// value first, then 1.0 for test and 0.33 for production.
func (s SchedulerConfig) ResolveSpeechProbability() float64 {
	if s.SpeechProbability > 0 {
		return s.SpeechProbability
	}
	if s.Environment == "test" {
		return DefaultSpeechProbTest
	}
	return DefaultSpeechProbProd
}

// ParseClock parses an HH:MM wall-clock setting.
func ParseClock(value string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse clock %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("parse clock %q: out of range", value)
	}
	return hour, minute, nil
}

func (cfg *Config) Save() error {
	return cfg.SaveTo(ConfigPath())
}

func (cfg *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
