package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML pool file. Durations are Go duration strings ("500ms").
//
//	localHost: 0.0.0.0
//	connRetryTimes: 3
//	pool:
//	  80:
//	    serviceHost: 10.1.0.20
//	    servicePort: 8080
//	  8080: {}
type File struct {
	Defaults `yaml:",inline"`

	StatusAddr    string             `yaml:"statusAddr"`
	ShutdownGrace *time.Duration     `yaml:"shutdownGrace"`
	OnBindFailure BindFailurePolicy  `yaml:"onBindFailure"`
	Pool          map[int]*PoolEntry `yaml:"pool"`
}

// ParseFile decodes a pool file
func ParseFile(content []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &f, nil
}

// LoadFile reads the pool file at path and applies it to c. Values already
// taken from the environment win over the file's status address.
func (c *Config) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	f, err := ParseFile(content)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	c.Apply(f)
	return nil
}

// Apply merges a parsed pool file into c
func (c *Config) Apply(f *File) {
	c.Defaults = f.Defaults
	if c.StatusAddr == "" {
		c.StatusAddr = f.StatusAddr
	}
	if f.ShutdownGrace != nil {
		c.ShutdownGrace = *f.ShutdownGrace
	}
	if f.OnBindFailure != "" {
		c.OnBindFailure = f.OnBindFailure
	}

	if c.Pool == nil {
		c.Pool = make(map[int]PoolEntry)
	}
	for port, entry := range f.Pool {
		// "8080:" with no body is a dynamic listener
		if entry == nil {
			entry = &PoolEntry{}
		}
		c.Pool[port] = *entry
	}
}
