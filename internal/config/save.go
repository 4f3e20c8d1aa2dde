package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// SaveDataDir updates data_dir in the config file.
// Comments and formatting in other sections are preserved.
func SaveDataDir(configPath, dataDir string) error {
	return upsertScalar(configPath, []string{"data_dir"}, dataDir)
}

// SaveSnapshotDB updates snapshot_db in the config file.
func SaveSnapshotDB(configPath, dbPath string) error {
	return upsertScalar(configPath, []string{"snapshot_db"}, dbPath)
}

// SaveMaxAttempts updates retry.max_attempts in the config file.
func SaveMaxAttempts(configPath string, attempts int) error {
	if attempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", attempts)
	}
	return upsertScalar(configPath, []string{"retry", "max_attempts"}, strconv.Itoa(attempts))
}

// SaveStaleAfter updates review.stale_after in the config file.
func SaveStaleAfter(configPath string, window time.Duration) error {
	if window <= 0 {
		return fmt.Errorf("stale window must be positive, got %v", window)
	}
	return upsertScalar(configPath, []string{"review", "stale_after"}, window.String())
}

// upsertScalar sets a scalar at the given key path, creating intermediate
// mappings as needed. Parsing into yaml.Node keeps existing comments intact.
func upsertScalar(configPath string, keys []string, value string) error {
	data, err := os.ReadFile(configPath) //nolint:gosec // G304: caller-supplied config path
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config root is not a mapping")
	}

	node := root
	for i, key := range keys {
		last := i == len(keys)-1
		idx := -1
		for j := 0; j < len(node.Content)-1; j += 2 {
			if node.Content[j].Value == key {
				idx = j + 1
				break
			}
		}

		if last {
			scalar := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
			if idx >= 0 {
				// Keep the existing node's line comment by mutating in place.
				node.Content[idx].Kind = yaml.ScalarNode
				node.Content[idx].Tag = ""
				node.Content[idx].Value = value
				node.Content[idx].Content = nil
			} else {
				node.Content = append(node.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: key}, scalar)
			}
			continue
		}

		if idx >= 0 {
			if node.Content[idx].Kind != yaml.MappingNode {
				return fmt.Errorf("config key %q is not a mapping", key)
			}
			node = node.Content[idx]
			continue
		}
		child := &yaml.Node{Kind: yaml.MappingNode}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
		node = child
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// writeAtomic writes to a temp file in the target directory, then renames.
func writeAtomic(configPath string, data []byte) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".croc.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, configPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
