package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseForward parses a command-line listener: "PORT" (dynamic),
// "PORT=HOST" (remote host, same port), "PORT=:SERVICEPORT" (local host)
// or "PORT=HOST:SERVICEPORT".
func ParseForward(s string) (int, PoolEntry, error) {
	local, target, hasTarget := strings.Cut(s, "=")

	port, err := parsePort(local)
	if err != nil {
		return 0, PoolEntry{}, fmt.Errorf("forward %q: %w", s, err)
	}
	if !hasTarget {
		return port, PoolEntry{}, nil
	}
	if target == "" {
		return 0, PoolEntry{}, fmt.Errorf("forward %q: empty destination", s)
	}

	host, servicePort, err := net.SplitHostPort(target)
	if err != nil {
		// No port: a bare host or IPv6 literal
		return port, PoolEntry{ServiceHost: strings.Trim(target, "[]")}, nil
	}

	entry := PoolEntry{ServiceHost: host}
	entry.ServicePort, err = parsePort(servicePort)
	if err != nil {
		return 0, PoolEntry{}, fmt.Errorf("forward %q: service %w", s, err)
	}
	return port, entry, nil
}

// AddForward adds a command-line listener, replacing any pool entry on the
// same port
func (c *Config) AddForward(s string) error {
	port, entry, err := ParseForward(s)
	if err != nil {
		return err
	}
	if c.Pool == nil {
		c.Pool = make(map[int]PoolEntry)
	}
	c.Pool[port] = entry
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}
