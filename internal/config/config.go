package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/julienstroheker/HexRelay/internal/relay"
)

// Built-in listener defaults, used when neither the pool entry nor the
// file-level defaults set a value
const (
	DefaultLocalHost          = "127.0.0.1"
	DefaultListenRetryTimes   = 1
	DefaultListenRetryTimeout = 500 * time.Millisecond
	DefaultConnRetryTimes     = 2
	DefaultConnRetryTimeout   = time.Second
	DefaultShutdownGrace      = time.Second
)

// Defaults holds listener settings shared by pool entries. Nil pointers and
// empty strings mean "not set".
type Defaults struct {
	LocalHost          string         `yaml:"localHost"`
	SourceHost         string         `yaml:"sourceHost"`
	ListenRetryTimes   *int           `yaml:"listenRetryTimes"`
	ListenRetryTimeout *time.Duration `yaml:"listenRetryTimeout"`
	ConnRetryTimes     *int           `yaml:"connRetryTimes"`
	ConnRetryTimeout   *time.Duration `yaml:"connRetryTimeout"`
}

// PoolEntry configures the listener on one local port. An entry without
// ServiceHost and ServicePort is a dynamic listener.
type PoolEntry struct {
	Defaults `yaml:",inline"`

	ServiceHost string `yaml:"serviceHost"`
	ServicePort int    `yaml:"servicePort"`
}

// Config holds the relay configuration
type Config struct {
	// LogLevel controls logging verbosity (debug, info, warn, error)
	LogLevel string

	// ConfigFile is the YAML pool file to load, if any
	ConfigFile string

	// StatusAddr is the status server listen address; empty disables it
	StatusAddr string

	// ShutdownGrace bounds the wait for ended redirections at shutdown
	ShutdownGrace time.Duration

	// OnBindFailure decides whether a failed bind stops the whole relay
	OnBindFailure BindFailurePolicy

	// Defaults apply to every pool entry
	Defaults Defaults

	// Pool maps local ports to listener settings
	Pool map[int]PoolEntry
}

// Load creates a Config by reading from environment variables
// and applying defaults where values are not set
func Load() *Config {
	return &Config{
		LogLevel:      getEnvOrDefault("HEXRELAY_LOG_LEVEL", "info"),
		ConfigFile:    getEnvOrDefault("HEXRELAY_CONFIG", ""),
		StatusAddr:    getEnvOrDefault("HEXRELAY_STATUS_ADDR", ""),
		ShutdownGrace: DefaultShutdownGrace,
		OnBindFailure: BindFailureExit,
		Pool:          make(map[int]PoolEntry),
	}
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var problems []string

	if len(c.Pool) == 0 {
		problems = append(problems, "no listeners configured")
	}
	if !c.OnBindFailure.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown bind failure policy %q", c.OnBindFailure))
	}
	if c.ShutdownGrace < 0 {
		problems = append(problems, "shutdown grace must not be negative")
	}

	for _, spec := range c.Specs() {
		if spec.ListenRetryTimes < 0 || spec.ConnRetryTimes < 0 {
			problems = append(problems, fmt.Sprintf("port %d: retry times must not be negative", spec.LocalPort))
		}
		if spec.ListenRetryTimeout < 0 || spec.ConnRetryTimeout < 0 {
			problems = append(problems, fmt.Sprintf("port %d: retry timeouts must not be negative", spec.LocalPort))
		}
		if _, err := spec.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("port %d: %v", spec.LocalPort, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

// Specs resolves the pool into listener specs ordered by port. Every value
// comes from the pool entry when set, then from Defaults, then from the
// built-in defaults.
func (c *Config) Specs() []relay.ListenerSpec {
	ports := make([]int, 0, len(c.Pool))
	for port := range c.Pool {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	specs := make([]relay.ListenerSpec, 0, len(ports))
	for _, port := range ports {
		entry := c.Pool[port]
		specs = append(specs, relay.ListenerSpec{
			LocalHost:          firstNonEmpty(entry.LocalHost, c.Defaults.LocalHost, DefaultLocalHost),
			LocalPort:          port,
			ServiceHost:        entry.ServiceHost,
			ServicePort:        entry.ServicePort,
			SourceHost:         firstNonEmpty(entry.SourceHost, c.Defaults.SourceHost),
			ListenRetryTimes:   pick(DefaultListenRetryTimes, entry.ListenRetryTimes, c.Defaults.ListenRetryTimes),
			ListenRetryTimeout: pick(DefaultListenRetryTimeout, entry.ListenRetryTimeout, c.Defaults.ListenRetryTimeout),
			ConnRetryTimes:     pick(DefaultConnRetryTimes, entry.ConnRetryTimes, c.Defaults.ConnRetryTimes),
			ConnRetryTimeout:   pick(DefaultConnRetryTimeout, entry.ConnRetryTimeout, c.Defaults.ConnRetryTimeout),
		})
	}
	return specs
}

// pick returns the first set layer, or fallback
func pick[T any](fallback T, layers ...*T) T {
	for _, v := range layers {
		if v != nil {
			return *v
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
