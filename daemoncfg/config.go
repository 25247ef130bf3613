// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daemoncfg loads an optional on-disk configuration file and
// layers it under the command-line flags of the vpfsd binary.
package daemoncfg

import (
	"flag"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/cwood00/vpfsd/flags"
)

// Config is the shape of the optional YAML configuration file. Any field
// left unset (zero value) does not override the corresponding flag.
type Config struct {
	Port                int    `yaml:"port"`
	RootAddr            string `yaml:"root_addr"`
	ListeningAddr       string `yaml:"listening_addr"`
	Name                string `yaml:"name"`
	CacheSize           int64  `yaml:"cache_size"`
	ArtificialLatencyMS int    `yaml:"artificial_latency_ms"`
	GCPProject          string `yaml:"gcp_project"`
}

// Load reads the YAML configuration file at path. A missing file is not
// an error; it yields a zero Config, leaving every flags.* variable as
// the CLI left it.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply layers c under the flags package vars: a config value only takes
// effect for a flag the user did not explicitly set on the command line,
// and only when the config value is itself non-zero. Command-line flags
// always win over the file; the file always wins over the compiled-in
// default.
func (c *Config) Apply() {
	set := explicitlySetFlags()

	if c.Port != 0 && !set["port"] {
		flags.Port = c.Port
	}
	if c.RootAddr != "" && !set["root-addr"] {
		flags.RootAddr = c.RootAddr
	}
	if c.ListeningAddr != "" && !set["listening-addr"] {
		flags.ListeningAddr = c.ListeningAddr
	}
	if c.Name != "" && !set["name"] {
		flags.Name = c.Name
	}
	if c.CacheSize != 0 && !set["cache-size"] {
		flags.CacheSize = c.CacheSize
	}
	if c.ArtificialLatencyMS != 0 && !set["artificial-latency"] {
		flags.ArtificialLatencyMS = c.ArtificialLatencyMS
	}
	if c.GCPProject != "" && !set["gcp-project"] {
		flags.GCPProject = c.GCPProject
	}
}

func explicitlySetFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}
