package config

import (
	"fmt"
	"strings"

	"github.com/chatwarden/warden/automod/detection"
)

// Thresholds used when routing a detection result to an action.
type DetectionThresholds struct {
	// net confidence strictly above this is eligible for auto-ban
	AutoBanThreshold int `json:"autoBanThreshold"`
	// net confidence strictly above this (but not auto-banned) goes to human review
	ReviewThreshold int `json:"reviewThreshold"`
	// minimum AI classifier confidence required to auto-ban
	ConfidentThreshold int `json:"confidentThreshold"`
}

type WarningPolicy struct {
	AutoBanEnabled bool `json:"autoBanEnabled"`
	// number of active warnings which triggers an automatic ban
	AutoBanThreshold int `json:"autoBanThreshold"`
	// warnings older than this stop counting; zero means they never expire
	ExpiryDays int `json:"expiryDays"`
}

type CheckConfig struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	// run even for trusted users and admins
	AlwaysRun bool `json:"alwaysRun"`
}

type ModerationConfig struct {
	Detection DetectionThresholds `json:"detection"`
	Warnings  WarningPolicy       `json:"warnings"`
	Checks    []CheckConfig       `json:"checks"`
}

func Default() ModerationConfig {
	return ModerationConfig{
		Detection: DetectionThresholds{
			AutoBanThreshold:   50,
			ReviewThreshold:    0,
			ConfidentThreshold: 85,
		},
		Warnings: WarningPolicy{
			AutoBanEnabled:   true,
			AutoBanThreshold: 3,
		},
		Checks: []CheckConfig{
			{Name: detection.CheckURLBlocklist, Enabled: true, AlwaysRun: true},
			{Name: detection.CheckFileScanning, Enabled: true, AlwaysRun: true},
			{Name: detection.CheckOpenAI, Enabled: true},
			{Name: detection.CheckStopWords, Enabled: true},
			{Name: detection.CheckCAS, Enabled: true},
			{Name: detection.CheckBayes, Enabled: true},
		},
	}
}

// Names of checks which are enabled and marked always-run.
func (c *ModerationConfig) CriticalCheckNames() []string {
	out := []string{}
	for _, chk := range c.Checks {
		if chk.Enabled && chk.AlwaysRun && strings.TrimSpace(chk.Name) != "" {
			out = append(out, chk.Name)
		}
	}
	return out
}

func (c *ModerationConfig) Validate() error {
	d := c.Detection
	if d.ConfidentThreshold < 0 || d.ConfidentThreshold > 100 {
		return fmt.Errorf("confident threshold out of range: %d", d.ConfidentThreshold)
	}
	if d.ReviewThreshold > d.AutoBanThreshold {
		return fmt.Errorf("review threshold (%d) above auto-ban threshold (%d)", d.ReviewThreshold, d.AutoBanThreshold)
	}
	if c.Warnings.AutoBanEnabled && c.Warnings.AutoBanThreshold < 1 {
		return fmt.Errorf("warning auto-ban threshold must be at least 1")
	}
	if c.Warnings.ExpiryDays < 0 {
		return fmt.Errorf("warning expiry must not be negative")
	}
	seen := map[string]bool{}
	for _, chk := range c.Checks {
		k := strings.ToLower(chk.Name)
		if k == "" {
			return fmt.Errorf("check with empty name")
		}
		if seen[k] {
			return fmt.Errorf("duplicate check config: %s", chk.Name)
		}
		seen[k] = true
	}
	return nil
}
