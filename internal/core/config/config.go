package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/neilberkman/pcswitcher/internal/core/jobs"
	"github.com/neilberkman/pcswitcher/internal/core/models"
)

// DefaultSummaryTemplate is the mustache template printed after a sync.
// Free-text fields use triple braces so they are not HTML-escaped.
const DefaultSummaryTemplate = `Sync session {{session_id}} {{status}} after {{duration}} ({{source}} -> {{target}}).{{#failed_job}} Failed job: {{failed_job}}.{{/failed_job}}{{#error}}
Reason: {{{error}}}{{/error}}
{{#outcomes}}  {{job}}: {{status}}{{#error}} ({{{error}}}){{/error}}
{{/outcomes}}Log file: {{{log_file}}}`

// JobToggle is one sync_jobs entry
type JobToggle struct {
	Name    string
	Enabled bool
}

// SSH configures the connection to the target
type SSH struct {
	IdentityFiles     []string
	KnownHostsFile    string
	ConnectTimeout    time.Duration
	MaxSessions       int
	KeepaliveInterval time.Duration
}

type Config struct {
	Path            string
	FileLevel       slog.Level // Minimum level written to the session log
	TUILevel        slog.Level // Minimum level shown live
	SyncJobs        []JobToggle
	JobParams       map[string]jobs.Params
	SSH             SSH
	GracePeriod     time.Duration
	SummaryTemplate string

	raw   map[string]any
	order []string // sync_jobs keys in file order
}

// Top-level keys that are not job blocks
var sectionKeys = []string{"logging", "sync_jobs", "ssh", "grace_period", "summary_template"}

// Default returns the configuration used for keys the file leaves out
func Default() *Config {
	return &Config{
		FileLevel: models.LevelInfo,
		TUILevel:  models.LevelInfo,
		JobParams: make(map[string]jobs.Params),
		SSH: SSH{
			IdentityFiles:     []string{"~/.ssh/id_ed25519", "~/.ssh/id_ecdsa", "~/.ssh/id_rsa"},
			KnownHostsFile:    "~/.ssh/known_hosts",
			ConnectTimeout:    15 * time.Second,
			MaxSessions:       8,
			KeepaliveInterval: 15 * time.Second,
		},
		GracePeriod:     10 * time.Second,
		SummaryTemplate: DefaultSummaryTemplate,
		raw:             map[string]any{},
	}
}

// Dir returns ~/.config/pcswitcher
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	return filepath.Join(home, ".config", "pcswitcher")
}

// DataDir returns ~/.local/share/pcswitcher, home of logs, locks and
// session history
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "~"
	}
	return filepath.Join(home, ".local", "share", "pcswitcher")
}

// DefaultPath returns the config file used when --config is not given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads a YAML or TOML file, chosen by extension. Syntax errors are
// returned; shape problems are left for Validate so they can all be
// reported together.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var raw map[string]any
	var order []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, order, err = parseYAML(data)
	case ".toml":
		raw, order, err = parseTOML(data)
	default:
		return nil, fmt.Errorf("unsupported config format %q: use .yaml or .toml", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg := Default()
	cfg.Path = path
	cfg.raw = raw
	cfg.order = order
	cfg.decode(nil)

	// A custom summary template next to the config wins, as with the
	// other per-user text files
	if data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "summary_template.txt")); err == nil {
		cfg.SummaryTemplate = string(data)
	}
	return cfg, nil
}

// Validate checks the file's shape: known top-level keys, well-typed
// sections and levels. knownJobs lists job names whose blocks may appear
// at the top level. Calling it again gives the same answer.
func (c *Config) Validate(knownJobs []string) []jobs.ConfigError {
	probe := Default()
	probe.raw = c.raw
	probe.order = c.order
	return probe.decode(knownJobs)
}

// decode fills the typed fields from raw, returning every problem. With
// knownJobs nil, unknown top-level keys are not reported.
func (c *Config) decode(knownJobs []string) []jobs.ConfigError {
	var errs []jobs.ConfigError
	fail := func(section, field, format string, args ...any) {
		errs = append(errs, jobs.ConfigError{Job: section, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	allowed := make(map[string]bool)
	for _, k := range append(append([]string{}, sectionKeys...), knownJobs...) {
		allowed[k] = true
	}
	if knownJobs != nil {
		for _, key := range sortedKeys(c.raw) {
			if !allowed[key] {
				fail(key, "", "unknown configuration key")
			}
		}
	}

	if v, ok := c.raw["logging"]; ok {
		section, ok := v.(map[string]any)
		if !ok {
			fail("logging", "", "must be a mapping")
		} else {
			for _, key := range sortedKeys(section) {
				s, ok := section[key].(string)
				if !ok {
					fail("logging", key, "must be a level name")
					continue
				}
				level, err := models.ParseLevel(s)
				if err != nil {
					fail("logging", key, "%v", err)
					continue
				}
				switch key {
				case "file":
					c.FileLevel = level
				case "tui":
					c.TUILevel = level
				default:
					fail("logging", key, "unknown key")
				}
			}
		}
	}

	if v, ok := c.raw["sync_jobs"]; ok {
		section, ok := v.(map[string]any)
		if !ok {
			fail("sync_jobs", "", "must be a mapping of job name to true/false")
		} else {
			for _, name := range c.order {
				enabled, ok := section[name].(bool)
				if !ok {
					fail("sync_jobs", name, "must be true or false")
					continue
				}
				c.SyncJobs = append(c.SyncJobs, JobToggle{Name: name, Enabled: enabled})
			}
		}
	}

	if v, ok := c.raw["ssh"]; ok {
		section, ok := v.(map[string]any)
		if !ok {
			fail("ssh", "", "must be a mapping")
		} else {
			c.decodeSSH(section, fail)
		}
	}

	if v, ok := c.raw["grace_period"]; ok {
		d, err := seconds(v)
		if err != nil || d <= 0 {
			fail("grace_period", "", "must be a positive number of seconds")
		} else {
			c.GracePeriod = d
		}
	}

	if v, ok := c.raw["summary_template"]; ok {
		s, ok := v.(string)
		if !ok {
			fail("summary_template", "", "must be a string")
		} else {
			c.SummaryTemplate = s
		}
	}

	for _, key := range sortedKeys(c.raw) {
		if isSection(key) || (knownJobs != nil && !allowed[key]) {
			continue
		}
		block, ok := c.raw[key].(map[string]any)
		if !ok {
			fail(key, "", "job configuration must be a mapping")
			continue
		}
		c.JobParams[key] = jobs.Params(block)
	}
	return errs
}

func (c *Config) decodeSSH(section map[string]any, fail func(section, field, format string, args ...any)) {
	for _, key := range sortedKeys(section) {
		v := section[key]
		switch key {
		case "identity_files":
			list, ok := v.([]any)
			if !ok {
				fail("ssh", key, "must be a list of paths")
				continue
			}
			c.SSH.IdentityFiles = nil
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					fail("ssh", key, "must be a list of paths")
					break
				}
				c.SSH.IdentityFiles = append(c.SSH.IdentityFiles, s)
			}
		case "known_hosts":
			s, ok := v.(string)
			if !ok {
				fail("ssh", key, "must be a path")
				continue
			}
			c.SSH.KnownHostsFile = s
		case "connect_timeout", "keepalive_interval":
			d, err := seconds(v)
			if err != nil || d < 0 {
				fail("ssh", key, "must be a non-negative number of seconds")
				continue
			}
			if key == "connect_timeout" {
				c.SSH.ConnectTimeout = d
			} else {
				c.SSH.KeepaliveInterval = d
			}
		case "max_sessions":
			n, ok := wholeNumber(v)
			if !ok || n < 1 {
				fail("ssh", key, "must be a positive whole number")
				continue
			}
			c.SSH.MaxSessions = n
		default:
			fail("ssh", key, "unknown key")
		}
	}
}

// Params returns the block for a job, empty when the file has none
func (c *Config) Params(job string) jobs.Params {
	if p, ok := c.JobParams[job]; ok {
		return p
	}
	return jobs.Params{}
}

func isSection(key string) bool {
	for _, k := range sectionKeys {
		if k == key {
			return true
		}
	}
	return false
}

func seconds(v any) (time.Duration, error) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("not a number: %v", v)
}

func wholeNumber(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
