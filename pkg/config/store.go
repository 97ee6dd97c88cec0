package config

import "fmt"

// StoreConfig configures the relational store and the vector index.
type StoreConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`

	// VectorDir holds the persisted vector index. Empty keeps it in memory.
	VectorDir string `yaml:"vector_dir"`

	// Parent-topic linking knobs.
	ParentMinTagOverlap int     `yaml:"parent_min_tag_overlap"`
	ParentSimilarity    float64 `yaml:"parent_similarity"`

	SearchLimit int `yaml:"search_limit"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "./data/browserflow.db"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 1800
	}
	if c.ParentMinTagOverlap == 0 {
		c.ParentMinTagOverlap = 1
	}
	if c.ParentSimilarity == 0 {
		c.ParentSimilarity = 0.7
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = 10
	}
}

func (c *StoreConfig) Validate() error {
	switch c.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported store driver: %s (use postgres or sqlite)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store dsn is required")
	}
	if c.ParentSimilarity < 0 || c.ParentSimilarity > 1 {
		return fmt.Errorf("parent_similarity must be in [0, 1], got %f", c.ParentSimilarity)
	}
	if c.ParentMinTagOverlap < 1 {
		return fmt.Errorf("parent_min_tag_overlap must be at least 1")
	}
	return nil
}
