package msgcat

import (
	"embed"
	"errors"
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

const defaultFile = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

var ErrNotFound = errors.New("message not found")

// Catalog holds dot-keyed text/template sources. Embedded English defaults
// load first; YAML files from an override directory replace single keys.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]string
	parsed    map[string]*template.Template
}

func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{
		templates: make(map[string]string),
		parsed:    make(map[string]*template.Template),
	}
	raw, err := fs.ReadFile(defaultFiles, defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	flat, err := flatten(raw)
	if err != nil {
		return nil, fmt.Errorf("parse embedded messages: %w", err)
	}
	c.merge(flat)

	if dir := strings.TrimSpace(overrideDir); dir != "" {
		if err := c.loadDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// loadDir applies every *.yaml/*.yml file in name order. A key defined by
// two override files is an error.
func (c *Catalog) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	var names []string
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

	owner := make(map[string]string)
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, dup := owner[k]; dup {
				return fmt.Errorf("duplicate message key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
		}
		c.merge(flat)
	}
	return nil
}

func (c *Catalog) merge(flat map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.templates[k] = v
		delete(c.parsed, k)
	}
}

func flatten(raw []byte) (map[string]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if len(root.Content) == 0 {
		return out, nil
	}
	return out, walk(root.Content[0], "", out)
}

func walk(n *yaml.Node, prefix string, out map[string]string) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := walk(n.Content[i+1], key, out); err != nil {
				return err
			}
		}
		return nil
	case yaml.ScalarNode:
		if prefix == "" {
			return errors.New("scalar without key")
		}
		if n.Tag != "!!str" {
			return fmt.Errorf("%s: only string values are allowed, got %s", prefix, n.Tag)
		}
		out[prefix] = n.Value
		return nil
	default:
		return fmt.Errorf("%s: unsupported yaml node", prefix)
	}
}

func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.templates[strings.TrimSpace(key)]
	return ok
}

// Render executes the template stored under key. Missing data fields are
// errors, not "<no value>".
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	tpl, err := c.lookup(key)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return b.String(), nil
}

// Text renders key and falls back to fallback on any failure.
func (c *Catalog) Text(key string, data any, fallback string) string {
	if c == nil {
		return fallback
	}
	s, err := c.Render(key, data)
	if err != nil {
		return fallback
	}
	return s
}

func (c *Catalog) lookup(key string) (*template.Template, error) {
	c.mu.RLock()
	tpl, ok := c.parsed[key]
	src, known := c.templates[key]
	c.mu.RUnlock()
	if ok {
		return tpl, nil
	}
	if !known || strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	tpl, err := template.New(key).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	c.mu.Lock()
	c.parsed[key] = tpl
	c.mu.Unlock()
	return tpl, nil
}
