// Package poolconfig builds pools from declarative YAML files.
//
// The expected shape:
//
//	pool:
//	  framed: true
//	  timeout: 2s
//	  endpoints:
//	    - addr: 10.0.0.1:9090
//	      name: shard-0
//	    - addr: 10.0.0.2:9090
//	      disabled: true
//
// `framed` and `timeout` apply to every endpoint of the pool.
// Caller-supplied pool options override the file settings.
package poolconfig

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avissian/multicall"
)

type rawEndpoint struct {
	Addr     string `yaml:"addr"`
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled"`
}

type rawPool struct {
	Framed    bool          `yaml:"framed"`
	Timeout   string        `yaml:"timeout"`
	Endpoints []rawEndpoint `yaml:"endpoints"`
}

type rawConfig struct {
	Pool rawPool `yaml:"pool"`
}

// Config is a validated pool description, ready to build.
type Config struct {
	Framed    bool
	Timeout   time.Duration
	Endpoints []EndpointConfig
}

// EndpointConfig describes one pool member.
type EndpointConfig struct {
	Addr     string
	Name     string
	Disabled bool
}

// Parse decodes YAML from r and returns a Config with validated
// entries. Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	var rc rawConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil {
		return nil, fmt.Errorf("poolconfig: %w", err)
	}

	cfg := &Config{Framed: rc.Pool.Framed}

	if rc.Pool.Timeout != "" {
		d, err := time.ParseDuration(rc.Pool.Timeout)
		if err != nil {
			return nil, fmt.Errorf("poolconfig: pool.timeout is invalid: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("poolconfig: pool.timeout is negative: %s", d)
		}
		cfg.Timeout = d
	}

	eps := make([]EndpointConfig, 0, len(rc.Pool.Endpoints))
	seen := make(map[string]struct{}, len(rc.Pool.Endpoints))
	for i, re := range rc.Pool.Endpoints {
		if re.Addr == "" {
			return nil, fmt.Errorf("poolconfig: endpoints[%d].addr is required", i)
		}
		host, portRaw, err := net.SplitHostPort(re.Addr)
		if err != nil {
			return nil, fmt.Errorf("poolconfig: endpoints[%d].addr is invalid: %w", i, err)
		}
		if host == "" {
			return nil, fmt.Errorf("poolconfig: endpoints[%d].addr has no host: %s", i, re.Addr)
		}
		port, err := strconv.Atoi(portRaw)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("poolconfig: endpoints[%d].addr port is invalid: %s", i, portRaw)
		}
		if re.Name != "" {
			if _, dup := seen[re.Name]; dup {
				return nil, fmt.Errorf("poolconfig: endpoints[%d].name reused: %s", i, re.Name)
			}
			seen[re.Name] = struct{}{}
		}

		eps = append(eps, EndpointConfig{
			Addr:     re.Addr,
			Name:     re.Name,
			Disabled: re.Disabled,
		})
	}
	cfg.Endpoints = eps

	return cfg, nil
}

// ParseFile opens path and parses it into a Config.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("poolconfig: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Build assembles a pool speaking proto from the description.
func (c *Config) Build(proto multicall.Protocol, opts ...multicall.PoolOption) (*multicall.Pool, error) {
	var defaults []multicall.EndpointOption
	if c.Framed {
		defaults = append(defaults, multicall.WithFramed(true))
	}
	if c.Timeout > 0 {
		defaults = append(defaults, multicall.WithTimeout(c.Timeout))
	}
	if len(defaults) > 0 {
		opts = append([]multicall.PoolOption{multicall.WithEndpointDefaults(defaults...)}, opts...)
	}

	pool, err := multicall.NewPool(proto, opts...)
	if err != nil {
		return nil, err
	}

	for i, ec := range c.Endpoints {
		var epOpts []multicall.EndpointOption
		if ec.Name != "" {
			epOpts = append(epOpts, multicall.WithName(ec.Name))
		}
		if ec.Disabled {
			epOpts = append(epOpts, multicall.WithDisabled())
		}
		if _, err := pool.Add(ec.Addr, epOpts...); err != nil {
			return nil, fmt.Errorf("poolconfig: endpoints[%d]: %w", i, err)
		}
	}

	return pool, nil
}

// BuildFile parses path and builds the pool in one step.
func BuildFile(path string, proto multicall.Protocol, opts ...multicall.PoolOption) (*multicall.Pool, error) {
	cfg, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return cfg.Build(proto, opts...)
}
