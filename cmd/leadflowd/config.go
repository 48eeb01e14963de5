package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all leadflowd daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	StepBudget    int    `json:"step_budget"`
	SweepSeconds  int    `json:"sweep_seconds"`
	ClaimLimit    int    `json:"claim_limit"`
}

func defaultConfig() Config {
	return Config{
		DBPath:       "file:" + filepath.Join(leadflowDir(), "leadflow.db"),
		LogLevel:     "info",
		StepBudget:   500,
		SweepSeconds: 60,
		ClaimLimit:   100,
	}
}

func leadflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func settingsPath() string {
	return filepath.Join(leadflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("LEADFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEADFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEADFLOW_STEP_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StepBudget = n
		}
	}
	if v := os.Getenv("LEADFLOW_SWEEP_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweepSeconds = n
		}
	}
	if v := os.Getenv("LEADFLOW_CLAIM_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClaimLimit = n
		}
	}

	return cfg
}
