// Package config loads the service configuration from a yaml or json file
// with optional SOLGRID_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/groengemak/solgrid/drivers"
	"github.com/groengemak/solgrid/infra/mqtt"
	"github.com/groengemak/solgrid/infra/serial"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	MQTT    mqtt.Config   `json:"mqtt"`
	Grids   []GridConfig  `json:"grids"`
	Buses   []BusConfig   `json:"buses"`
}

// GridConfig declares one power budget and its scheduler parameters.
type GridConfig struct {
	Name          string  `json:"name"`
	CapacityW     float64 `json:"capacity_w"`
	PeriodSeconds int     `json:"period_seconds"`
	// Confidence is the demand quantile used in capacity checks.
	Confidence float64 `json:"confidence"`
	// Horizon caps open-ended claims, in periods.
	Horizon int `json:"horizon"`
}

// BusConfig declares one field bus, its serial port and its devices.
type BusConfig struct {
	Name    string         `json:"name"`
	Grid    string         `json:"grid"`
	Serial  serial.Config  `json:"serial"`
	Devices []DeviceConfig `json:"devices"`
}

// DeviceConfig maps a device name to one register on a slave.
type DeviceConfig struct {
	Name     string  `json:"name"`
	Slave    byte    `json:"slave"`
	Kind     string  `json:"kind"`
	Register uint16  `json:"register"`
	Scale    float64 `json:"scale"`
}

// Load reads the configuration file, applies environment overrides, fills
// defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("SOLGRID_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "solgrid_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields across the whole tree.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Metrics.SetDefaults()
	c.MQTT.SetDefaults()
	for i := range c.Grids {
		g := &c.Grids[i]
		if g.Name == "" {
			g.Name = "home"
		}
		if g.PeriodSeconds == 0 {
			g.PeriodSeconds = 300
		}
	}
	for i := range c.Buses {
		b := &c.Buses[i]
		if b.Grid == "" {
			b.Grid = "home"
		}
		b.Serial.SetDefaults()
		for j := range b.Devices {
			if b.Devices[j].Scale == 0 {
				b.Devices[j].Scale = 1
			}
		}
	}
}

// Validate checks cross-references and mandatory fields.
func (c Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if len(c.Grids) == 0 {
		return fmt.Errorf("config: at least one grid is required")
	}
	grids := make(map[string]bool, len(c.Grids))
	for _, g := range c.Grids {
		if grids[g.Name] {
			return fmt.Errorf("config: duplicate grid %q", g.Name)
		}
		grids[g.Name] = true
		if g.CapacityW <= 0 {
			return fmt.Errorf("config: grid %q needs a positive capacity", g.Name)
		}
	}
	buses := make(map[string]bool, len(c.Buses))
	for _, b := range c.Buses {
		if b.Name == "" {
			return fmt.Errorf("config: bus without a name")
		}
		if buses[b.Name] {
			return fmt.Errorf("config: duplicate bus %q", b.Name)
		}
		buses[b.Name] = true
		if !grids[b.Grid] {
			return fmt.Errorf("config: bus %q references unknown grid %q", b.Name, b.Grid)
		}
		if err := b.Serial.Validate(); err != nil {
			return fmt.Errorf("config: bus %q: %w", b.Name, err)
		}
		names := make(map[string]bool, len(b.Devices))
		for _, d := range b.Devices {
			if d.Name == "" {
				return fmt.Errorf("config: bus %q has a device without a name", b.Name)
			}
			if names[d.Name] {
				return fmt.Errorf("config: bus %q: duplicate device %q", b.Name, d.Name)
			}
			names[d.Name] = true
			if _, err := drivers.ParseKind(d.Kind); err != nil {
				return fmt.Errorf("config: bus %q device %q: %w", b.Name, d.Name, err)
			}
		}
	}
	return nil
}
