// Package config defines the server's runtime configuration and an
// optional YAML config-file layer. Precedence is CLI flags and
// environment variables first, the config file filling in whatever
// they leave unset, and compiled-in defaults last.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved configuration the core is started with.
type Config struct {
	Port          int
	ReplicaOfHost string // empty means this server is a primary
	ReplicaOfPort int
	Dir           string
	DBFilename    string
	MetricsAddr   string // empty disables the metrics HTTP endpoint
}

// FileConfig is the shape of an optional --config YAML file. Every
// field is a pointer so "absent" is distinguishable from "zero value".
type FileConfig struct {
	Port        *int    `yaml:"port"`
	ReplicaOf   *string `yaml:"replicaof"`
	Dir         *string `yaml:"dir"`
	DBFilename  *string `yaml:"dbfilename"`
	MetricsAddr *string `yaml:"metrics_addr"`
}

// LoadFile parses a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &fc, nil
}

// ApplyDefaults fills any zero-valued field of c from fc, then from
// compiled-in defaults. Call it after flags and environment variables
// have already been applied to c, so those keep precedence.
func (c *Config) ApplyDefaults(fc *FileConfig) {
	if fc != nil {
		if c.Port == 0 && fc.Port != nil {
			c.Port = *fc.Port
		}
		if c.ReplicaOfHost == "" && fc.ReplicaOf != nil {
			c.ReplicaOfHost = *fc.ReplicaOf
		}
		if c.Dir == "" && fc.Dir != nil {
			c.Dir = *fc.Dir
		}
		if c.DBFilename == "" && fc.DBFilename != nil {
			c.DBFilename = *fc.DBFilename
		}
		if c.MetricsAddr == "" && fc.MetricsAddr != nil {
			c.MetricsAddr = *fc.MetricsAddr
		}
	}

	if c.Dir == "" {
		c.Dir = "."
	}
	if c.DBFilename == "" {
		c.DBFilename = "dump.rdb"
	}
}

// IsReplica reports whether this config makes the server a replica.
func (c *Config) IsReplica() bool { return c.ReplicaOfHost != "" }
