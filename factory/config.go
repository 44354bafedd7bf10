/*
Package factory turns a YAML configuration file into the allocator's runtime
configuration and the components built from it.

PURPOSE:
  The allocation engine takes an immutable allocation.Config; the wrapper
  layer (CLI, HTTP server) additionally needs to know where state lives,
  where reports go and where usage comes from. This package reads one YAML
  file, fills in defaults, validates everything at once and hands back a
  Config value. Nothing here is package-level mutable state.

FILE FORMAT:
  baseYear: 2025
  baseQuarter: 4
  periods:
    - startDay: 0
      fraction: 0.5
    - startDay: 45          # terminal: no fraction
  categories:
    ttk: {description: TTK faculty, weight: 1.0}
  pastMemberWeight: 0
  penaltyFactor: 1
  warningThresholds: [80, 100]
  usageEpsilon: 1
  people:
    - {id: diemer, category: ttk}
    - {id: visitor1, category: gs, weight: 0.5, past: true}
  groups:
    - {id: komacek-prj, leader: diemer}
  storage: {driver: sqlite, path: ./data/allocator.db}
  notify: {outbox: ./outbox, mailDomain: umd.edu, signOff: The HPC admin}
  source: {file: ./usage.yaml}
  server: {port: 8080, tickInterval: 1h}

DEFAULTING:
  Missing scalars fall back to allocation.DefaultConfig(). Categories in
  the file are merged over the default table. A period table is taken as a
  whole: if present it is validated, never patched.

SEE ALSO:
  - allocation/config.go: Config and its invariants
  - factory/components.go: Store, Source and Dispatcher construction
*/
package factory

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/su-allocator/allocation"
	"github.com/warp/su-allocator/generic"
)

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// File is the YAML representation of the configuration.
type File struct {
	BaseYear          int                     `yaml:"baseYear"`
	BaseQuarter       int                     `yaml:"baseQuarter"`
	Periods           []PeriodFile            `yaml:"periods"`
	Categories        map[string]CategoryFile `yaml:"categories"`
	PastMemberWeight  *decimal.Decimal        `yaml:"pastMemberWeight"`
	PenaltyFactor     *decimal.Decimal        `yaml:"penaltyFactor"`
	WarningThresholds []decimal.Decimal       `yaml:"warningThresholds"`
	UsageEpsilon      *decimal.Decimal        `yaml:"usageEpsilon"`
	People            []PersonFile            `yaml:"people"`
	Groups            []GroupFile             `yaml:"groups"`

	Storage StorageConfig `yaml:"storage"`
	Notify  NotifyConfig  `yaml:"notify"`
	Source  SourceConfig  `yaml:"source"`
	Server  ServerConfig  `yaml:"server"`
}

// PeriodFile is one row of the period table.
type PeriodFile struct {
	StartDay int              `yaml:"startDay"`
	Fraction *decimal.Decimal `yaml:"fraction"`
}

// CategoryFile overrides or adds a member category.
type CategoryFile struct {
	Description string          `yaml:"description"`
	Weight      decimal.Decimal `yaml:"weight"`
}

// PersonFile is a roster entry.
type PersonFile struct {
	ID       string           `yaml:"id"`
	Category string           `yaml:"category"`
	Weight   *decimal.Decimal `yaml:"weight"`
	Past     bool             `yaml:"past"`
}

// GroupFile names a tracked group.
type GroupFile struct {
	ID     string `yaml:"id"`
	Leader string `yaml:"leader"`
}

// StorageConfig selects the state store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, fs, memory
	Path   string `yaml:"path"`   // database file or directory
}

// NotifyConfig configures report rendering and the outbox.
type NotifyConfig struct {
	Outbox     string `yaml:"outbox"`     // root of drafts/ and sent/
	MailDomain string `yaml:"mailDomain"` // appended to user ids for recipients
	SignOff    string `yaml:"signOff"`
}

// SourceConfig points at the usage and supply data.
type SourceConfig struct {
	File string `yaml:"file"`
}

// ServerConfig configures the HTTP wrapper.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	TickInterval time.Duration `yaml:"tickInterval"` // e.g. "1h"; 0 disables scheduled ticks
}

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverFS     = "fs"
	DriverMemory = "memory"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config is the validated runtime configuration.
type Config struct {
	Allocation allocation.Config
	Storage    StorageConfig
	Notify     NotifyConfig
	Source     SourceConfig
	Server     ServerConfig
}

// LoadConfig loads configuration from a YAML file.
//
// Returns:
//   - *Config: Loaded configuration with defaults applied
//   - error: read, parse or validation failure; validation problems are
//     aggregated so every mistake in the file is reported at once
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	f.SetDefaults()

	cfg, err := f.Build()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills in every value the file leaves out.
func (f *File) SetDefaults() {
	def := allocation.DefaultConfig()

	if f.BaseYear == 0 && f.BaseQuarter == 0 {
		f.BaseYear, f.BaseQuarter = def.BaseYear, def.BaseQuarter
	}
	if len(f.Periods) == 0 {
		for _, p := range def.Periods {
			f.Periods = append(f.Periods, PeriodFile{StartDay: p.StartDay, Fraction: p.Fraction})
		}
	}
	if f.PastMemberWeight == nil {
		f.PastMemberWeight = &def.PastMemberWeight
	}
	if f.PenaltyFactor == nil {
		f.PenaltyFactor = &def.PenaltyFactor
	}
	if f.WarningThresholds == nil {
		f.WarningThresholds = def.WarningThresholds
	}
	if f.UsageEpsilon == nil {
		f.UsageEpsilon = &def.UsageEpsilon
	}

	if f.Storage.Driver == "" {
		f.Storage.Driver = DriverSQLite
	}
	if f.Storage.Path == "" {
		switch f.Storage.Driver {
		case DriverSQLite:
			f.Storage.Path = "./data/allocator.db"
		case DriverFS:
			f.Storage.Path = "./data/state"
		}
	}
	if f.Notify.Outbox == "" {
		f.Notify.Outbox = "./outbox"
	}
	if f.Notify.SignOff == "" {
		f.Notify.SignOff = "The HPC admin"
	}
	if f.Server.Port == 0 {
		f.Server.Port = 8080
	}
}

// Build converts the file into a Config and validates it.
func (f *File) Build() (*Config, error) {
	alloc := allocation.Config{
		BaseYear:          f.BaseYear,
		BaseQuarter:       f.BaseQuarter,
		Categories:        allocation.DefaultCategories(),
		WarningThresholds: f.WarningThresholds,
	}
	if f.PastMemberWeight != nil {
		alloc.PastMemberWeight = *f.PastMemberWeight
	}
	if f.PenaltyFactor != nil {
		alloc.PenaltyFactor = *f.PenaltyFactor
	}
	if f.UsageEpsilon != nil {
		alloc.UsageEpsilon = *f.UsageEpsilon
	}
	for _, p := range f.Periods {
		alloc.Periods = append(alloc.Periods, allocation.PeriodSpec{StartDay: p.StartDay, Fraction: p.Fraction})
	}
	for key, c := range f.Categories {
		alloc.Categories[allocation.Category(key)] = allocation.CategorySpec{Description: c.Description, Weight: c.Weight}
	}
	for _, p := range f.People {
		alloc.People = append(alloc.People, allocation.PersonSpec{
			ID:       p.ID,
			Category: allocation.Category(p.Category),
			Weight:   p.Weight,
			Past:     p.Past,
		})
	}
	for _, g := range f.Groups {
		alloc.Groups = append(alloc.Groups, allocation.GroupSpec{ID: g.ID, Leader: g.Leader})
	}

	cfg := &Config{
		Allocation: alloc,
		Storage:    f.Storage,
		Notify:     f.Notify,
		Source:     f.Source,
		Server:     f.Server,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the allocation settings and the wrapper settings. All
// problems are returned together as a *multierror.Error.
func (c *Config) Validate() error {
	var result *multierror.Error
	for _, err := range c.Allocation.Validate() {
		result = multierror.Append(result, err)
	}

	switch c.Storage.Driver {
	case DriverSQLite, DriverFS:
		if c.Storage.Path == "" {
			result = multierror.Append(result, &generic.ConfigurationError{Field: "storage.path", Reason: "required for driver " + c.Storage.Driver})
		}
	case DriverMemory:
	default:
		result = multierror.Append(result, &generic.ConfigurationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", c.Storage.Driver)})
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		result = multierror.Append(result, &generic.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("out of range: %d", c.Server.Port)})
	}
	if c.Server.TickInterval < 0 {
		result = multierror.Append(result, &generic.ConfigurationError{Field: "server.tickInterval", Reason: "must not be negative"})
	}

	return result.ErrorOrNil()
}
