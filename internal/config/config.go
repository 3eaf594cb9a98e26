// Package config loads the JSON configuration of the wsrpcctl shell.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lightforgemedia/go-wsrpc/pkg/transport"
)

// DefaultPath is used by LoadConfig when no path is given.
const DefaultPath = "./wsrpc.json"

// Duration is a time.Duration that reads and writes JSON strings like "5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ClientConfig describes one managed client.
type ClientConfig struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NATSConfig enables forwarding of reports to NATS when URL is set.
type NATSConfig struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
}

// Config is the root of the configuration file.
type Config struct {
	ConnectTimeout Duration       `json:"connect_timeout"`
	RequestTimeout Duration       `json:"request_timeout"`
	Clients        []ClientConfig `json:"clients"`
	NATS           *NATSConfig    `json:"nats,omitempty"`
}

// LoadConfig reads, parses and validates the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found at %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	config := new(Config)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", absPath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", absPath, err)
	}
	return config, nil
}

// Validate checks the configuration for missing or conflicting values.
func (c *Config) Validate() error {
	var errs []error
	if c.ConnectTimeout < 0 {
		errs = append(errs, errors.New("connect_timeout must not be negative"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, errors.New("request_timeout must not be negative"))
	}

	seen := make(map[string]bool, len(c.Clients))
	for i, cl := range c.Clients {
		if cl.ID == "" {
			errs = append(errs, fmt.Errorf("clients[%d]: id is required", i))
			continue
		}
		if seen[cl.ID] {
			errs = append(errs, fmt.Errorf("clients[%d]: duplicate id %q", i, cl.ID))
		}
		seen[cl.ID] = true
		if _, err := transport.ParseURL(cl.URL); err != nil {
			errs = append(errs, fmt.Errorf("clients[%d] (%s): %w", i, cl.ID, err))
		}
	}

	if c.NATS != nil && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats: url is required when the nats section is present"))
	}
	return errors.Join(errs...)
}

// Without returns a copy of c whose client list leaves out ids. The copy shares
// everything else with c.
func (c *Config) Without(ids ...string) *Config {
	if len(ids) == 0 {
		return c
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := *c
	out.Clients = make([]ClientConfig, 0, len(c.Clients))
	for _, cl := range c.Clients {
		if !drop[cl.ID] {
			out.Clients = append(out.Clients, cl)
		}
	}
	return &out
}

// Changes lists what differs between two client lists.
type Changes struct {
	Added   []ClientConfig // ids only present in the new list
	Removed []ClientConfig // ids only present in the old list
	Changed []ClientConfig // ids present in both with a different URL, new value
}

// Empty reports whether there is nothing to apply.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares the client lists of old and updated. Both may be nil.
func Diff(old, updated *Config) Changes {
	before := map[string]ClientConfig{}
	if old != nil {
		for _, cl := range old.Clients {
			before[cl.ID] = cl
		}
	}

	var ch Changes
	after := map[string]bool{}
	if updated != nil {
		for _, cl := range updated.Clients {
			after[cl.ID] = true
			prev, ok := before[cl.ID]
			switch {
			case !ok:
				ch.Added = append(ch.Added, cl)
			case prev.URL != cl.URL:
				ch.Changed = append(ch.Changed, cl)
			}
		}
	}
	if old != nil {
		for _, cl := range old.Clients {
			if !after[cl.ID] {
				ch.Removed = append(ch.Removed, cl)
			}
		}
	}
	return ch
}
