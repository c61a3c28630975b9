// Package config loads and validates the engine configuration. All
// validation happens once at load time; components downstream trust the
// typed structs and never re-check.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"eavstore/internal/cache"
	"eavstore/internal/core/apperror"
	"eavstore/internal/eav/backend"
	"eavstore/internal/eav/batch"
	"eavstore/internal/eav/metadata"
)

// Config is the root document.
type Config struct {
	Database    Database     `yaml:"database"`
	Log         Log          `yaml:"log"`
	Cache       Cache        `yaml:"cache"`
	Batch       Batch        `yaml:"batch"`
	Tables      Tables       `yaml:"tables"`
	EntityTypes []EntityType `yaml:"entity_types"`
}

// Database holds the connection settings. DSN wins over the discrete fields
// when both are set.
type Database struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxConns int32 `yaml:"max_conns"`
}

// ConnString renders a pgx-compatible connection string.
func (d Database) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslMode)
}

// Log configures the logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Cache mirrors the four-tier stack settings.
type Cache struct {
	Enabled    *bool         `yaml:"enabled"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Prefix     string        `yaml:"prefix"`

	L1Enabled *bool `yaml:"l1_enabled"`

	L2Enabled *bool         `yaml:"l2_enabled"`
	L2TTL     time.Duration `yaml:"l2_ttl"`

	L3Enabled *bool         `yaml:"l3_enabled"`
	L3Path    string        `yaml:"l3_path"`
	L3TTL     time.Duration `yaml:"l3_ttl"`

	L4Enabled *bool         `yaml:"l4_enabled"`
	L4Driver  string        `yaml:"l4_driver"`
	L4TTL     time.Duration `yaml:"l4_ttl"`
}

// Batch bounds the bulk operations.
type Batch struct {
	MaxSize   int `yaml:"max_size"`
	ChunkSize int `yaml:"chunk_size"`
}

// Tables overrides the default table layout.
type Tables struct {
	Entity   string `yaml:"entity"`
	Varchar  string `yaml:"varchar"`
	Int      string `yaml:"int"`
	Decimal  string `yaml:"decimal"`
	Text     string `yaml:"text"`
	Datetime string `yaml:"datetime"`
}

// EntityType is one configured entity kind.
type EntityType struct {
	Code            string        `yaml:"code"`
	Label           string        `yaml:"label"`
	Table           string        `yaml:"table"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	EnableFlatTable bool          `yaml:"enable_flat_table"`
	Attributes      []Attribute   `yaml:"attributes"`
}

// Attribute is one configured attribute definition.
type Attribute struct {
	Code        string          `yaml:"code"`
	Label       string          `yaml:"label"`
	BackendType string          `yaml:"backend_type"`
	Required    bool            `yaml:"required"`
	Unique      bool            `yaml:"unique"`
	Searchable  bool            `yaml:"searchable"`
	Filterable  bool            `yaml:"filterable"`
	Default     any             `yaml:"default"`
	Rules       ValidationRules `yaml:"validation_rules"`
	SortOrder   int             `yaml:"sort_order"`
}

// ValidationRules is the declarative rule block of one attribute.
type ValidationRules struct {
	Min        *float64 `yaml:"min"`
	Max        *float64 `yaml:"max"`
	MinLength  *int     `yaml:"min_length"`
	MaxLength  *int     `yaml:"max_length"`
	Pattern    string   `yaml:"pattern"`
	Enum       []string `yaml:"enum"`
	Expression string   `yaml:"expression"`
}

// Load reads and validates the configuration file, then applies environment
// overrides for deploy-specific settings.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperror.NewConfiguration("cannot read configuration file").
			WithDetail("path", path).WithCause(err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, apperror.NewConfiguration("cannot parse configuration file").
			WithDetail("path", path).WithCause(err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a configuration from environment variables only; used when
// no file is given.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if os.Getenv("APP_ENV") == "development" {
		c.Log.Development = true
	}
	if path := os.Getenv("CACHE_FILE_PATH"); path != "" {
		c.Cache.L3Path = path
	}
}

// Validate checks the whole document. Every violation is a configuration
// error naming the offending entry.
func (c *Config) Validate() error {
	if c.Database.ConnString() == "postgres://:@:0/?sslmode=disable" {
		return apperror.NewConfiguration("database connection is not configured")
	}
	if c.Cache.L4Driver != "" && c.Cache.L4Driver != "memory" && c.Cache.L4Driver != "file" {
		return apperror.NewConfiguration("cache.l4_driver must be \"memory\" or \"file\"").
			WithDetail("l4_driver", c.Cache.L4Driver)
	}
	if (boolOr(c.Cache.L3Enabled, false) || c.Cache.L4Driver == "file") && c.Cache.L3Path == "" {
		return apperror.NewConfiguration("file-backed cache tiers require cache.l3_path")
	}

	seenTypes := make(map[string]struct{}, len(c.EntityTypes))
	for i, t := range c.EntityTypes {
		if t.Code == "" {
			return apperror.NewConfiguration("entity type has no code").WithDetail("index", i)
		}
		if _, dup := seenTypes[t.Code]; dup {
			return apperror.NewConfiguration("duplicate entity type code").WithDetail("entity_type", t.Code)
		}
		seenTypes[t.Code] = struct{}{}

		seenAttrs := make(map[string]struct{}, len(t.Attributes))
		for _, a := range t.Attributes {
			if a.Code == "" {
				return apperror.NewConfiguration("attribute has no code").WithDetail("entity_type", t.Code)
			}
			if _, dup := seenAttrs[a.Code]; dup {
				return apperror.NewConfiguration("duplicate attribute code").
					WithDetail("entity_type", t.Code).WithDetail("attribute", a.Code)
			}
			seenAttrs[a.Code] = struct{}{}

			if !backend.Type(a.BackendType).Valid() {
				return apperror.NewConfiguration("unknown backend type").
					WithDetail("entity_type", t.Code).
					WithDetail("attribute", a.Code).
					WithDetail("backend_type", a.BackendType)
			}

			rules := a.Rules.toMetadata()
			if err := rules.Compile(); err != nil {
				return apperror.NewConfiguration("invalid validation rules").
					WithDetail("entity_type", t.Code).
					WithDetail("attribute", a.Code).
					WithCause(err)
			}
		}
	}
	return nil
}

// CacheOptions maps the cache section onto the tier stack options.
func (c *Config) CacheOptions() cache.Options {
	opts := cache.DefaultOptions()
	opts.Enabled = boolOr(c.Cache.Enabled, opts.Enabled)
	if c.Cache.DefaultTTL > 0 {
		opts.DefaultTTL = c.Cache.DefaultTTL
	}
	opts.Prefix = c.Cache.Prefix
	opts.L1Enabled = boolOr(c.Cache.L1Enabled, opts.L1Enabled)
	opts.L2Enabled = boolOr(c.Cache.L2Enabled, opts.L2Enabled)
	if c.Cache.L2TTL > 0 {
		opts.L2TTL = c.Cache.L2TTL
	}
	opts.L3Enabled = boolOr(c.Cache.L3Enabled, opts.L3Enabled)
	opts.L3Path = c.Cache.L3Path
	if c.Cache.L3TTL > 0 {
		opts.L3TTL = c.Cache.L3TTL
	}
	opts.L4Enabled = boolOr(c.Cache.L4Enabled, opts.L4Enabled)
	if c.Cache.L4Driver != "" {
		opts.L4Driver = c.Cache.L4Driver
	}
	if c.Cache.L4TTL > 0 {
		opts.L4TTL = c.Cache.L4TTL
	}
	return opts
}

// BatchOptions maps the batch section onto the bulk-operation bounds.
func (c *Config) BatchOptions() batch.Options {
	opts := batch.DefaultOptions()
	if c.Batch.MaxSize > 0 {
		opts.MaxSize = c.Batch.MaxSize
	}
	if c.Batch.ChunkSize > 0 {
		opts.ChunkSize = c.Batch.ChunkSize
	}
	return opts
}

// TableNames maps the tables section onto the value table layout.
func (c *Config) TableNames() backend.TableNames {
	names := backend.TableNames{}
	if c.Tables.Varchar != "" {
		names[backend.TypeVarchar] = c.Tables.Varchar
	}
	if c.Tables.Int != "" {
		names[backend.TypeInt] = c.Tables.Int
	}
	if c.Tables.Decimal != "" {
		names[backend.TypeDecimal] = c.Tables.Decimal
	}
	if c.Tables.Text != "" {
		names[backend.TypeText] = c.Tables.Text
	}
	if c.Tables.Datetime != "" {
		names[backend.TypeDatetime] = c.Tables.Datetime
	}
	return names
}

// EntityTable returns the configured entity table name.
func (c *Config) EntityTable() string {
	if c.Tables.Entity != "" {
		return c.Tables.Entity
	}
	return "eav_entity"
}

// MetadataTypes converts the configured entity types into metadata
// definitions ready for registry synchronization.
func (c *Config) MetadataTypes() []*metadata.EntityType {
	types := make([]*metadata.EntityType, 0, len(c.EntityTypes))
	for _, t := range c.EntityTypes {
		table := t.Table
		if table == "" {
			table = c.EntityTable()
		}
		def := &metadata.EntityType{
			Code:            t.Code,
			Label:           t.Label,
			Table:           table,
			CacheTTL:        t.CacheTTL,
			EnableFlatTable: t.EnableFlatTable,
		}
		for i, a := range t.Attributes {
			sortOrder := a.SortOrder
			if sortOrder == 0 {
				sortOrder = i
			}
			def.Attributes = append(def.Attributes, &metadata.Attribute{
				Code:       a.Code,
				Label:      a.Label,
				Backend:    backend.Type(a.BackendType),
				Required:   a.Required,
				Unique:     a.Unique,
				Searchable: a.Searchable,
				Filterable: a.Filterable,
				Default:    a.Default,
				Rules:      a.Rules.toMetadata(),
				SortOrder:  sortOrder,
			})
		}
		types = append(types, def)
	}
	return types
}

func (r ValidationRules) toMetadata() metadata.ValidationRules {
	return metadata.ValidationRules{
		Min:        r.Min,
		Max:        r.Max,
		MinLength:  r.MinLength,
		MaxLength:  r.MaxLength,
		Pattern:    r.Pattern,
		Enum:       r.Enum,
		Expression: r.Expression,
	}
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
