package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Memory.ShortTermLimit != DefaultShortTermLimit {
		t.Errorf("ShortTermLimit = %d, want %d", cfg.Memory.ShortTermLimit, DefaultShortTermLimit)
	}
	if cfg.Memory.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("SimilarityThreshold = %v", cfg.Memory.SimilarityThreshold)
	}
	if cfg.Workflow.ActiveAt != "07:00" || cfg.Workflow.FreeAt != "20:00" || cfg.Workflow.StandbyAt != "00:00" {
		t.Errorf("phase boundaries = %s/%s/%s", cfg.Workflow.ActiveAt, cfg.Workflow.FreeAt, cfg.Workflow.StandbyAt)
	}
	if cfg.Workflow.SocialChannel != "lounge" {
		t.Errorf("social channel = %q", cfg.Workflow.SocialChannel)
	}
	if len(cfg.Workflow.ChannelNames()) != 4 {
		t.Errorf("channels = %v", cfg.Workflow.ChannelNames())
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	cfg.Scheduler.Environment = "test"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.PersonaTokens = map[string]string{"spectra": "t1"}
	cfg.Channels.Telegram.ChatMap = map[string]int64{"lounge": -42}

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom error: %v", err)
	}
	if loaded.Provider.APIKey != "sk-test" {
		t.Errorf("api key = %q", loaded.Provider.APIKey)
	}
	if loaded.Channels.Telegram.ChatMap["lounge"] != -42 {
		t.Errorf("chat map = %v", loaded.Channels.Telegram.ChatMap)
	}
	if loaded.Scheduler.ResolveTickSeconds() != DefaultTickSecondsTest {
		t.Errorf("tick = %d, want test default", loaded.Scheduler.ResolveTickSeconds())
	}
}

func TestLoadConfigFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfigFrom error: %v", err)
	}
	if cfg.Memory.RetrievalTopK != DefaultRetrievalTopK {
		t.Errorf("RetrievalTopK = %d", cfg.Memory.RetrievalTopK)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIAD_API_KEY", "env-key")
	t.Setenv("TRIAD_ENVIRONMENT", "test")
	t.Setenv("TRIAD_TICK_SECONDS", "17")

	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfigFrom error: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
	if cfg.Scheduler.Environment != "test" {
		t.Errorf("environment = %q", cfg.Scheduler.Environment)
	}
	if cfg.Scheduler.ResolveTickSeconds() != 17 {
		t.Errorf("tick = %d, want explicit 17", cfg.Scheduler.ResolveTickSeconds())
	}
}

func TestResolveSchedulerDefaults(t *testing.T) {
	tests := []struct {
		env      string
		tick     int
		prob     float64
		wantTick int
		wantProb float64
	}{
		{"production", 0, 0, DefaultTickSecondsProd, DefaultSpeechProbProd},
		{"test", 0, 0, DefaultTickSecondsTest, DefaultSpeechProbTest},
		{"production", 45, 0.5, 45, 0.5},
	}
	for _, tt := range tests {
		s := SchedulerConfig{Environment: tt.env, TickSeconds: tt.tick, SpeechProbability: tt.prob}
		if got := s.ResolveTickSeconds(); got != tt.wantTick {
			t.Errorf("env %s: tick = %d, want %d", tt.env, got, tt.wantTick)
		}
		if got := s.ResolveSpeechProbability(); got != tt.wantProb {
			t.Errorf("env %s: probability = %v, want %v", tt.env, got, tt.wantProb)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		value   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"07:00", 7, 0, false},
		{"23:59", 23, 59, false},
		{"24:00", 0, 0, true},
		{"aa:bb", 0, 0, true},
	}
	for _, tt := range tests {
		hour, minute, err := ParseClock(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseClock(%q) expected error", tt.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseClock(%q) error: %v", tt.value, err)
			continue
		}
		if hour != tt.hour || minute != tt.minute {
			t.Errorf("ParseClock(%q) = %d:%d", tt.value, hour, minute)
		}
	}
}
