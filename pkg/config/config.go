// Package config loads and persists the engine's runtime configuration:
// device connection parameters, template/profile file locations, workflow
// tuning knobs, and optional advisor credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// DeviceConfig configures the debug-bridge transport.
type DeviceConfig struct {
	Serial          string `json:"serial" env:"QUESTBOT_DEVICE_SERIAL"`
	CaptureTimeoutS int    `json:"capture_timeout_s" env:"QUESTBOT_DEVICE_CAPTURE_TIMEOUT_S"`
	OpTimeoutS      int    `json:"op_timeout_s" env:"QUESTBOT_DEVICE_OP_TIMEOUT_S"`
	ReconnectTries  int    `json:"reconnect_tries" env:"QUESTBOT_DEVICE_RECONNECT_TRIES"`
	ReconnectBaseS  float64 `json:"reconnect_base_s" env:"QUESTBOT_DEVICE_RECONNECT_BASE_S"`
	AppPackage      string `json:"app_package" env:"QUESTBOT_DEVICE_APP_PACKAGE"`
	ScreenW         int    `json:"screen_w" env:"QUESTBOT_DEVICE_SCREEN_W"`
	ScreenH         int    `json:"screen_h" env:"QUESTBOT_DEVICE_SCREEN_H"`
}

// OCRConfig locates the external OCR engine subprocess.
type OCRConfig struct {
	Command  string `json:"command" env:"QUESTBOT_OCR_COMMAND"`
	TimeoutS int    `json:"timeout_s" env:"QUESTBOT_OCR_TIMEOUT_S"`
}

// TemplateConfig configures the template store.
type TemplateConfig struct {
	RootDir        string  `json:"root_dir" env:"QUESTBOT_TEMPLATE_ROOT"`
	MatchThreshold float64 `json:"match_threshold" env:"QUESTBOT_TEMPLATE_THRESHOLD"`
	// ReloadCron, if set, is a cron expression checked once per loop iteration;
	// when due, the loop reloads the template store in place before going on
	// with that iteration.
	ReloadCron string `json:"reload_cron" env:"QUESTBOT_TEMPLATE_RELOAD_CRON"`
}

// ProfileConfig locates the game profile and quest-script table.
type ProfileConfig struct {
	ProfilePath       string `json:"profile_path" env:"QUESTBOT_PROFILE_PATH"`
	QuestScriptsPath  string `json:"quest_scripts_path" env:"QUESTBOT_QUEST_SCRIPTS_PATH"`
	CityLayoutPath    string `json:"city_layout_path" env:"QUESTBOT_CITY_LAYOUT_PATH"`
	HotReloadCron     string `json:"hot_reload_cron" env:"QUESTBOT_PROFILE_RELOAD_CRON"`
}

// WorkflowConfig tunes the quest workflow state machine.
type WorkflowConfig struct {
	MaxExecuteIterations int     `json:"max_execute_iterations" env:"QUESTBOT_WF_MAX_EXECUTE_ITERATIONS"`
	MaxCheckRetries      int     `json:"max_check_retries" env:"QUESTBOT_WF_MAX_CHECK_RETRIES"`
	MaxVerifyRetries     int     `json:"max_verify_retries" env:"QUESTBOT_WF_MAX_VERIFY_RETRIES"`
	ActionButtonExhaust  int     `json:"action_button_exhaust_threshold" env:"QUESTBOT_WF_ACTION_BUTTON_EXHAUST"`
	CooldownSeconds      float64 `json:"cooldown_seconds" env:"QUESTBOT_WF_COOLDOWN_SECONDS"`
}

// RecoveryConfig tunes stuck recovery and the auto-loop.
type RecoveryConfig struct {
	StuckMaxSameScene int     `json:"stuck_max_same_scene" env:"QUESTBOT_STUCK_MAX_SAME_SCENE"`
	LoopIntervalS     float64 `json:"loop_interval_s" env:"QUESTBOT_LOOP_INTERVAL_S"`
	ConsecutiveErrorBudget int `json:"consecutive_error_budget" env:"QUESTBOT_CONSECUTIVE_ERROR_BUDGET"`
	StatusLogEvery    int     `json:"status_log_every" env:"QUESTBOT_STATUS_LOG_EVERY"`
}

// AdvisorConfig configures the optional LLM advisor failover (primary +
// fallback).
type AdvisorConfig struct {
	Enabled       bool   `json:"enabled" env:"QUESTBOT_ADVISOR_ENABLED"`
	PrimaryModel  string `json:"primary_model" env:"QUESTBOT_ADVISOR_PRIMARY_MODEL"`
	FallbackModel string `json:"fallback_model" env:"QUESTBOT_ADVISOR_FALLBACK_MODEL"`
	AnthropicAPIKey string `json:"anthropic_api_key" env:"QUESTBOT_ADVISOR_ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `json:"openai_api_key" env:"QUESTBOT_ADVISOR_OPENAI_API_KEY"`
	HoldMinutes     int    `json:"hold_minutes" env:"QUESTBOT_ADVISOR_HOLD_MINUTES"`
}

// LoggingConfig configures pkg/logger at start-up.
type LoggingConfig struct {
	Level           string `json:"level" env:"QUESTBOT_LOG_LEVEL"`
	FilePath        string `json:"file_path" env:"QUESTBOT_LOG_FILE"`
	RotationEnabled bool   `json:"rotation_enabled" env:"QUESTBOT_LOG_ROTATION_ENABLED"`
	MaxSizeMB       int    `json:"max_size_mb" env:"QUESTBOT_LOG_MAX_SIZE_MB"`
	MaxAgeDays      int    `json:"max_age_days" env:"QUESTBOT_LOG_MAX_AGE_DAYS"`
}

// Config is the root configuration object, built once at start-up and
// threaded by reference through every component.
type Config struct {
	Workspace string          `json:"workspace" env:"QUESTBOT_WORKSPACE"`
	Device    DeviceConfig    `json:"device"`
	OCR       OCRConfig       `json:"ocr"`
	Template  TemplateConfig  `json:"template"`
	Profile   ProfileConfig   `json:"profile"`
	Workflow  WorkflowConfig  `json:"workflow"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Advisor   AdvisorConfig   `json:"advisor"`
	Logging   LoggingConfig   `json:"logging"`

	mu sync.RWMutex
}

// DefaultConfig returns the engine's built-in defaults.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	workspace := filepath.Join(home, ".questbot")
	return &Config{
		Workspace: workspace,
		Device: DeviceConfig{
			Serial:          "localhost:5555",
			CaptureTimeoutS: 15,
			OpTimeoutS:      10,
			ReconnectTries:  5,
			ReconnectBaseS:  1.0,
			AppPackage:      "",
			ScreenW:         1080,
			ScreenH:         1920,
		},
		OCR: OCRConfig{
			Command:  "",
			TimeoutS: 30,
		},
		Template: TemplateConfig{
			RootDir:        filepath.Join(workspace, "templates"),
			MatchThreshold: 0.8,
			ReloadCron:     "",
		},
		Profile: ProfileConfig{
			ProfilePath:      filepath.Join(workspace, "profile.json"),
			QuestScriptsPath: filepath.Join(workspace, "quest_scripts.json"),
			CityLayoutPath:   filepath.Join(workspace, "city_layout.json"),
			HotReloadCron:    "",
		},
		Workflow: WorkflowConfig{
			MaxExecuteIterations: 40,
			MaxCheckRetries:      3,
			MaxVerifyRetries:     3,
			ActionButtonExhaust:  2,
			CooldownSeconds:      180,
		},
		Recovery: RecoveryConfig{
			StuckMaxSameScene:      10,
			LoopIntervalS:          2.0,
			ConsecutiveErrorBudget: 5,
			StatusLogEvery:         10,
		},
		Advisor: AdvisorConfig{
			Enabled:       false,
			PrimaryModel:  "claude-sonnet-4-5",
			FallbackModel: "gpt-4o",
			HoldMinutes:   5,
		},
		Logging: LoggingConfig{
			Level:           "info",
			RotationEnabled: true,
			MaxSizeMB:       50,
			MaxAgeDays:      14,
		},
	}
}

// LoadConfig reads a JSON config file, falling back to defaults if the file
// doesn't exist, then overlays environment variable overrides and resolves
// ${VAR}/$VAR indirection in the two advisor API key fields; other string
// fields are taken literally.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	resolveEnvRefs(cfg)

	return cfg, nil
}

func resolveEnvRefs(cfg *Config) {
	cfg.Advisor.AnthropicAPIKey = resolveEnvRef(cfg.Advisor.AnthropicAPIKey)
	cfg.Advisor.OpenAIAPIKey = resolveEnvRef(cfg.Advisor.OpenAIAPIKey)
}

// resolveEnvRef resolves "${VAR}" or "$VAR" indirection through the process
// environment, returning the literal value unchanged if it isn't a reference.
func resolveEnvRef(value string) string {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		name := v[2 : len(v)-1]
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
		return value
	}
	if strings.HasPrefix(v, "$") {
		name := v[1:]
		if resolved, ok := os.LookupEnv(name); ok {
			return resolved
		}
	}
	return value
}

// SaveConfig writes cfg to path as indented JSON, creating parent
// directories as needed.
func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// WorkspacePath returns the configured workspace directory.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Workspace
}

// StatePath returns the path to the GameState snapshot file.
func (c *Config) StatePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(c.Workspace, "state", "game_state.json")
}
