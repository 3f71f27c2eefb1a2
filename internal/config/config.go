// Package config loads and validates the server configuration record. The
// canonical source is optional-config.json next to the server binary; a
// default file is written on first run. Environment variables override file
// values.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/halyard-chat/halyard/internal/wire"
)

// DefaultPath is where the server looks for its configuration file.
const DefaultPath = "optional-config.json"

// Config holds every tunable the engine consumes. JSON keys match the
// original file format; env tags allow overrides without editing the file.
type Config struct {
	// OwnerID bypasses every permission check. 0 disables the bypass.
	OwnerID uint64 `json:"owner_id" env:"HALYARD_OWNER_ID"`

	LimitConnectionsPerIP             uint `json:"limit_connections_per_ip" env:"HALYARD_LIMIT_CONNECTIONS_PER_IP"`
	LimitRequestsCheapPer10Seconds    uint `json:"limit_requests_cheap_per_10_seconds" env:"HALYARD_LIMIT_REQUESTS_CHEAP"`
	LimitRequestsExpensivePer5Minutes uint `json:"limit_requests_expensive_per_5_minutes" env:"HALYARD_LIMIT_REQUESTS_EXPENSIVE"`

	LimitChannelNameMax int `json:"limit_channel_name_max" env:"HALYARD_LIMIT_CHANNEL_NAME_MAX"`
	LimitChannelNameMin int `json:"limit_channel_name_min" env:"HALYARD_LIMIT_CHANNEL_NAME_MIN"`
	LimitRoleAmountMax  int `json:"limit_role_amount_max" env:"HALYARD_LIMIT_ROLE_AMOUNT_MAX"`
	LimitRoleNameMax    int `json:"limit_role_name_max" env:"HALYARD_LIMIT_ROLE_NAME_MAX"`
	LimitRoleNameMin    int `json:"limit_role_name_min" env:"HALYARD_LIMIT_ROLE_NAME_MIN"`
	LimitMessageMax     int `json:"limit_message_max" env:"HALYARD_LIMIT_MESSAGE_MAX"`
	LimitMessageMin     int `json:"limit_message_min" env:"HALYARD_LIMIT_MESSAGE_MIN"`
	LimitUserNameMax    int `json:"limit_user_name_max" env:"HALYARD_LIMIT_USER_NAME_MAX"`
	LimitUserNameMin    int `json:"limit_user_name_min" env:"HALYARD_LIMIT_USER_NAME_MIN"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		OwnerID: 1,

		LimitConnectionsPerIP:             128,
		LimitRequestsCheapPer10Seconds:    7,
		LimitRequestsExpensivePer5Minutes: 2,

		LimitChannelNameMax: 32,
		LimitChannelNameMin: 1,
		LimitRoleAmountMax:  128,
		LimitRoleNameMax:    32,
		LimitRoleNameMin:    1,
		LimitMessageMax:     1024,
		LimitMessageMin:     1,
		LimitUserNameMax:    32,
		LimitUserNameMin:    1,
	}
}

// Load reads the configuration file at path, creating it with defaults when
// it does not exist, applies environment overrides, and validates the result
// against the protocol's hard limits. All violations are reported at once.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			// A missing default file is not fatal; the server still runs.
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", writeErr)
		}
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeDefault(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// IsOwner reports whether the given user id holds the owner bypass.
func (c *Config) IsOwner(userID uint64) bool {
	return c.OwnerID != 0 && userID == c.OwnerID
}

func (c *Config) validate() error {
	var errs []error

	check := func(name string, min, max, hard int) {
		if min > max || min == 0 || max > hard {
			errs = append(errs, fmt.Errorf(
				"%s bounds invalid: min %d, max %d (hard limit %d)", name, min, max, hard))
		}
	}
	check("user name", c.LimitUserNameMin, c.LimitUserNameMax, wire.LimitUserName)
	check("channel name", c.LimitChannelNameMin, c.LimitChannelNameMax, wire.LimitChannelName)
	check("role name", c.LimitRoleNameMin, c.LimitRoleNameMax, wire.LimitRoleName)
	check("message", c.LimitMessageMin, c.LimitMessageMax, wire.LimitMessage)

	if c.LimitRoleAmountMax < 1 || c.LimitRoleAmountMax > wire.LimitRoleAmount {
		errs = append(errs, fmt.Errorf(
			"role amount limit %d out of range 1..%d", c.LimitRoleAmountMax, wire.LimitRoleAmount))
	}
	if c.LimitConnectionsPerIP < 1 {
		errs = append(errs, fmt.Errorf("limit_connections_per_ip must be at least 1"))
	}
	if c.LimitRequestsCheapPer10Seconds < 1 {
		errs = append(errs, fmt.Errorf("limit_requests_cheap_per_10_seconds must be at least 1"))
	}
	if c.LimitRequestsExpensivePer5Minutes < 1 {
		errs = append(errs, fmt.Errorf("limit_requests_expensive_per_5_minutes must be at least 1"))
	}

	return errors.Join(errs...)
}
