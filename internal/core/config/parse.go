package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// parseYAML decodes the document and records the sync_jobs key order,
// which a plain map would lose
func parseYAML(data []byte) (map[string]any, []string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}
	raw := map[string]any{}
	if len(doc.Content) == 0 {
		return raw, nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, errors.New("top level must be a mapping")
	}
	if err := root.Decode(&raw); err != nil {
		return nil, nil, err
	}

	var order []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "sync_jobs" || root.Content[i+1].Kind != yaml.MappingNode {
			continue
		}
		section := root.Content[i+1]
		for j := 0; j+1 < len(section.Content); j += 2 {
			order = append(order, section.Content[j].Value)
		}
	}
	return raw, order, nil
}

// parseTOML decodes the document; MetaData.Keys preserves file order
func parseTOML(data []byte) (map[string]any, []string, error) {
	raw := map[string]any{}
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, nil, err
	}
	var order []string
	for _, key := range md.Keys() {
		if len(key) == 2 && key[0] == "sync_jobs" {
			order = append(order, key[1])
		}
	}
	return raw, order, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultYAML is written by `pcswitcher init`
const DefaultYAML = `# pcswitcher configuration

logging:
  # DEBUG, FULL, INFO, WARNING, ERROR or CRITICAL
  file: FULL
  tui: INFO

# Sync jobs run in this order. Disabled jobs are recorded as skipped.
sync_jobs:
  dummy_success: true
  dummy_fail: false

ssh:
  identity_files: [~/.ssh/id_ed25519, ~/.ssh/id_rsa]
  known_hosts: ~/.ssh/known_hosts
  connect_timeout: 15
  keepalive_interval: 15
  max_sessions: 8

# Seconds to wait for jobs to stop after an interrupt or failure before
# their processes are killed
grace_period: 10

disk_space_monitor:
  path: /
  preflight_minimum: 20%
  runtime_minimum: 15%
  check_interval: 30

btrfs_snapshots:
  subvolumes: ["@", "@home"]
  keep_recent: 3
  max_age_days: 7

install_on_target:
  path: .local/bin/pcswitcher

dummy_success:
  duration_seconds: 20

dummy_fail:
  duration_seconds: 20
  fail_at_percent: 60
  mode: raise
`

// WriteDefault writes DefaultYAML to path. An existing file is only
// replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultYAML), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
