package config

import (
	"fmt"
	"os"
)

// ExcelConfig configures the spreadsheet writer tool server.
type ExcelConfig struct {
	Dir          string `yaml:"dir"`
	DefaultSheet string `yaml:"default_sheet"`
}

func (c *ExcelConfig) SetDefaults() {
	if c.Dir == "" {
		c.Dir = "./data/excel"
	}
	if c.DefaultSheet == "" {
		c.DefaultSheet = "Sheet1"
	}
}

// NotesConfig configures the collaborative-notes tool server.
type NotesConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Version string `yaml:"version"`
	Timeout int    `yaml:"timeout"`
}

func (c *NotesConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.notion.com/v1"
	}
	if c.Token == "" {
		c.Token = os.Getenv("NOTES_API_TOKEN")
	}
	if c.Version == "" {
		c.Version = "2022-06-28"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
}

// FallbackConfig configures the external fallback tool gateway. The gateway
// fronts third-party toolkits behind a single MCP endpoint.
type FallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout int    `yaml:"timeout"`
}

func (c *FallbackConfig) SetDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("FALLBACK_GATEWAY_API_KEY")
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

// ToolsConfig aggregates tool server configuration.
type ToolsConfig struct {
	Excel    ExcelConfig    `yaml:"excel"`
	Notes    NotesConfig    `yaml:"notes"`
	Fallback FallbackConfig `yaml:"fallback"`
}

func (c *ToolsConfig) SetDefaults() {
	c.Excel.SetDefaults()
	c.Notes.SetDefaults()
	c.Fallback.SetDefaults()
}

func (c *ToolsConfig) Validate() error {
	if c.Fallback.Enabled && c.Fallback.BaseURL == "" {
		return fmt.Errorf("fallback gateway enabled but base_url is empty")
	}
	return nil
}
