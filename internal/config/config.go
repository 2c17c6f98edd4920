package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Paths           Paths      `yaml:"paths"`
	Names           Names      `yaml:"names"`
	DesktopDB       DesktopDB  `yaml:"desktop_db"`
	InternalDomains []string   `yaml:"internal_domains"`
	CRM             CRM        `yaml:"crm"`
	MDB             MDB        `yaml:"mdb"`
	Validation      Validation `yaml:"validation"`
	Output          Output     `yaml:"output"`
	Server          Server     `yaml:"server"`
	Logging         Logging    `yaml:"logging"`
}

type Paths struct {
	Calendar        string `yaml:"calendar"`
	RawData         string `yaml:"raw_data"`
	RawSheet        string `yaml:"raw_sheet"`
	Destination     string `yaml:"destination"`
	Ledger          string `yaml:"ledger"`
	MasterOrgReview string `yaml:"master_org_review"`
	Template        string `yaml:"template"`
	Communication   string `yaml:"communication"`
}

// Names are the dataset roles. Each doubles as the external table to export,
// the file-name suffix and the sheet label.
type Names struct {
	CRMUpload  string `yaml:"crm_upload"`
	MDBUpload  string `yaml:"mdb_upload"`
	MDBExclude string `yaml:"mdb_exclude"`
	CRMExclude string `yaml:"crm_exclude"`
}

type DesktopDB struct {
	Path        string            `yaml:"path"`
	ImportTable string            `yaml:"import_table"`
	Form        string            `yaml:"form"`
	Cleanup     string            `yaml:"cleanup"`
	MasterOrg   string            `yaml:"master_org_table"`
	Procedures  map[string]string `yaml:"procedures"`
	Forms       map[string]string `yaml:"forms"`
}

type CRM struct {
	LegacyColumns []string `yaml:"legacy_columns"`
	ReviewMarker  string   `yaml:"review_marker"`
}

type MDB struct {
	BadEmail        string   `yaml:"bad_email"`
	Undeliverable   string   `yaml:"undeliverable"`
	InvalidEmail    string   `yaml:"invalid_email"`
	InternalColumns []string `yaml:"internal_columns"`
}

type Validation struct {
	Pattern    string `yaml:"pattern"`
	SheetIndex int    `yaml:"sheet_index"`
	Policy     string `yaml:"policy"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConfigDir returns the XDG config directory for demoproc.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "demoproc")
}

// DataDir returns the XDG data directory for demoproc.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "demoproc")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/demoproc/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'demoproc init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Paths: Paths{
			RawSheet: "Attendee Report",
		},
		Names: Names{
			CRMUpload:  "SFDC_Upload",
			MDBUpload:  "UDB_Upload",
			MDBExclude: "UDB_Exclude",
		},
		DesktopDB: DesktopDB{
			ImportTable: "LeadImportFile",
			Form:        "frm_DemoProcessing",
			Cleanup:     "delete_leadimportfile",
			MasterOrg:   "No_Master_Org_Match",
		},
		CRM: CRM{
			ReviewMarker: "REVIEW",
		},
		MDB: MDB{
			BadEmail:      "BadEmail",
			Undeliverable: "Undeliverable",
			InvalidEmail:  "InvalidEmail",
		},
		Validation: Validation{
			Pattern:    ".*SF.*Validation.*",
			SheetIndex: 1,
			Policy:     "lexical",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	switch cfg.Validation.Policy {
	case "lexical", "modified":
	default:
		return nil, fmt.Errorf("parsing config: unknown validation policy %q (want lexical or modified)", cfg.Validation.Policy)
	}

	for _, p := range []*string{
		&cfg.Paths.Calendar, &cfg.Paths.RawData, &cfg.Paths.Destination, &cfg.Paths.Ledger,
		&cfg.Paths.MasterOrgReview, &cfg.Paths.Template, &cfg.Paths.Communication,
		&cfg.DesktopDB.Path, &cfg.Output.DataDir, &cfg.Logging.File,
	} {
		*p = ExpandHome(*p)
	}

	return cfg, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// LedgerPath returns the counts ledger file, defaulting into the data dir.
func (c *Config) LedgerPath() string {
	if c.Paths.Ledger != "" {
		return c.Paths.Ledger
	}
	return filepath.Join(c.GetDataDir(), "validation_counts.json")
}

// LogPath returns the append-only log file, defaulting into the data dir.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.GetDataDir(), "log.txt")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
