package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultTurboThreshold gates the fast-answer path when an organization has
// no explicit configuration.
const DefaultTurboThreshold = 0.75

// OrgSettings holds per-organization routing configuration. The engine treats
// these as pure inputs: the turbo threshold is passed into attempts by the
// caller, never read globally by scoring code.
type OrgSettings struct {
	Name           string   `yaml:"name"`
	Categories     []string `yaml:"categories"`
	TurboThreshold float64  `yaml:"turbo_threshold"`
	TurboEnabled   bool     `yaml:"turbo_enabled"`
}

// OrgConfig maps organization ids to their settings.
type OrgConfig struct {
	Orgs map[uuid.UUID]OrgSettings
}

// orgConfigFile is the on-disk shape. Keys stay strings because yaml.v3 does
// not decode through encoding.TextUnmarshaler for map keys.
type orgConfigFile struct {
	Orgs map[string]OrgSettings `yaml:"orgs"`
}

// LoadOrgConfig reads the per-organization configuration file. A missing file
// is not an error; every org then falls back to defaults.
func LoadOrgConfig(path string) (*OrgConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OrgConfig{Orgs: map[uuid.UUID]OrgSettings{}}, nil
		}
		return nil, fmt.Errorf("read org config: %w", err)
	}

	var file orgConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse org config: %w", err)
	}

	cfg := &OrgConfig{Orgs: make(map[uuid.UUID]OrgSettings, len(file.Orgs))}
	for key, settings := range file.Orgs {
		orgID, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("org config: invalid org id %q: %w", key, err)
		}
		cfg.Orgs[orgID] = settings
	}
	return cfg, nil
}

// Settings returns the organization's settings, falling back to defaults for
// unknown organizations.
func (c *OrgConfig) Settings(orgID uuid.UUID) OrgSettings {
	if s, ok := c.Orgs[orgID]; ok {
		if s.TurboThreshold <= 0 {
			s.TurboThreshold = DefaultTurboThreshold
		}
		return s
	}
	return OrgSettings{
		TurboThreshold: DefaultTurboThreshold,
		TurboEnabled:   true,
	}
}

// HasCategory reports whether the category is configured for the org. An org
// with no category list accepts any category.
func (s OrgSettings) HasCategory(category string) bool {
	if len(s.Categories) == 0 {
		return true
	}
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}
