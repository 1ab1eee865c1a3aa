// Package notices holds the operator-facing message catalog: shutdown
// broadcasts, abandonment verdicts and connection notices. Texts live in
// an embedded YAML file so wording changes never touch handler code, and
// an optional override directory lets deployments reword them.
package notices

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

//go:embed notices.yaml
var embedded embed.FS

// Catalog maps flattened dot-keys ("shutdown.notice") to parsed templates.
// Templates render with missingkey=error so a typo in a data field fails
// loudly instead of emitting "<no value>" to players.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*template.Template
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return LoadDir("")
}

// LoadDir parses the embedded catalog, then applies *.yaml overrides from
// dir in filename order. Later files win on key collisions.
func LoadDir(dir string) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*template.Template)}

	raw, err := fs.ReadFile(embedded, "notices.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded notices: %w", err)
	}
	if err := c.apply(raw); err != nil {
		return nil, fmt.Errorf("embedded notices: %w", err)
	}

	if strings.TrimSpace(dir) != "" {
		if err := c.applyDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read notices dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.apply(b); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) apply(raw []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	flat := make(map[string]string)
	if err := flatten(doc, "", flat); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, text := range flat {
		t, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("template %s: %w", key, err)
		}
		c.templates[key] = t
	}
	return nil
}

func flatten(src any, prefix string, out map[string]string) error {
	switch v := src.(type) {
	case map[string]any:
		for k, sub := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := flatten(sub, key, out); err != nil {
				return err
			}
		}
		return nil
	case string:
		if prefix == "" {
			return fmt.Errorf("notice text without a key")
		}
		out[prefix] = v
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
}

// Render executes the template stored under key.
func (c *Catalog) Render(key string, data any) (string, error) {
	c.mu.RLock()
	t, ok := c.templates[strings.TrimSpace(key)]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("notice not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// RenderOr renders key and falls back to the given literal when the key is
// missing or the data is incomplete. Broadcast paths use this so a catalog
// mistake never suppresses a notice.
func (c *Catalog) RenderOr(key, fallback string, data any) string {
	s, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return s
}

// Keys returns the loaded keys in sorted order.
func (c *Catalog) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.templates))
	for k := range c.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
