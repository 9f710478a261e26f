// Package agents holds the catalog of consultable agents and its HTTP
// handlers.
package agents

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownAgent  = errors.New("unknown agent")
	ErrAgentInactive = errors.New("agent is not active")
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,31}$`)

// CatalogConfig controls how entries without explicit values are filled.
type CatalogConfig struct {
	WebhookBaseURL    string
	DefaultDailyLimit int
}

// Catalog is an immutable, ordered set of agents.
type Catalog struct {
	agents map[string]Agent
	order  []string
}

// LoadCatalog reads the catalog at path, or the embedded default when
// path is empty.
func LoadCatalog(path string, cfg CatalogConfig) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading agent catalog: %w", err)
		}
		data = b
	}
	return ParseCatalog(data, cfg)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte, cfg CatalogConfig) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agent catalog: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, errors.New("agent catalog is empty")
	}
	if cfg.DefaultDailyLimit < 1 {
		cfg.DefaultDailyLimit = 3
	}
	base := strings.TrimRight(cfg.WebhookBaseURL, "/")

	c := &Catalog{agents: make(map[string]Agent, len(file.Agents))}
	for i, e := range file.Agents {
		if !namePattern.MatchString(e.Name) {
			return nil, fmt.Errorf("agent catalog entry %d: invalid name %q", i, e.Name)
		}
		if _, dup := c.agents[e.Name]; dup {
			return nil, fmt.Errorf("agent catalog: duplicate agent %q", e.Name)
		}
		if e.DailyLimit < 0 {
			return nil, fmt.Errorf("agent %s: negative daily_limit", e.Name)
		}

		a := Agent{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			Territory:   e.Territory,
			Description: e.Description,
			Symbol:      e.Symbol,
			DailyLimit:  e.DailyLimit,
			Active:      e.Active == nil || *e.Active,
			WebhookURL:  e.WebhookURL,
		}
		if a.DisplayName == "" {
			a.DisplayName = a.Name
		}
		if a.DailyLimit == 0 {
			a.DailyLimit = cfg.DefaultDailyLimit
		}
		if a.WebhookURL == "" {
			if base == "" {
				return nil, fmt.Errorf("agent %s: no webhook_url and no webhook base URL configured", e.Name)
			}
			a.WebhookURL = base + "/" + a.Name
		}
		if _, err := url.ParseRequestURI(a.WebhookURL); err != nil {
			return nil, fmt.Errorf("agent %s: invalid webhook URL", e.Name)
		}

		c.agents[a.Name] = a
		c.order = append(c.order, a.Name)
	}
	return c, nil
}

// Get returns the named agent.
func (c *Catalog) Get(name string) (Agent, bool) {
	a, ok := c.agents[name]
	return a, ok
}

// Resolve returns the named agent if it exists and is active.
func (c *Catalog) Resolve(name string) (Agent, error) {
	a, ok := c.agents[name]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	if !a.Active {
		return Agent{}, fmt.Errorf("%w: %q", ErrAgentInactive, name)
	}
	return a, nil
}

// List returns every agent in catalog order.
func (c *Catalog) List() []Agent {
	out := make([]Agent, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.agents[name])
	}
	return out
}

// Names returns the agent names in catalog order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}
