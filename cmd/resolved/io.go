// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/glassdns/resolve/config"
)

const (
	defaultQPS     int = 100
	defaultWorkers int = 25
)

type params struct {
	ConfigPath string
	Resolvers  commaSep
	QPS        int
	Workers    int
	Quiet      bool
	Verbose    bool
	Stats      bool
	Input      *os.File
	Output     *os.File
	Help       bool
}

type commaSep []string

func (c *commaSep) String() string { return strings.Join(*c, ",") }

func (c *commaSep) Set(value string) error {
	if value == "" {
		return fmt.Errorf("the list of resolvers cannot be empty")
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*c = append(*c, part)
		}
	}
	return nil
}

// ObtainParams parses the command-line arguments, returning the usage
// buffer alongside any error.
func ObtainParams(args []string) (*params, *bytes.Buffer, error) {
	p := &params{
		Input:  os.Stdin,
		Output: os.Stdout,
	}

	buf := new(bytes.Buffer)
	fs := flag.NewFlagSet("resolved", flag.ContinueOnError)
	fs.SetOutput(buf)

	var ipath, opath string
	fs.StringVar(&p.ConfigPath, "c", "", "path to the JSON configuration file")
	fs.Var(&p.Resolvers, "r", "comma-separated list of upstream server addresses")
	fs.IntVar(&p.QPS, "qps", defaultQPS, "maximum queries issued per second")
	fs.IntVar(&p.Workers, "w", defaultWorkers, "number of concurrent resolutions")
	fs.StringVar(&ipath, "i", "", "file containing hostnames to resolve (default stdin)")
	fs.StringVar(&opath, "o", "", "file for the resolution output (default stdout)")
	fs.BoolVar(&p.Quiet, "q", false, "suppress per-hostname failure output")
	fs.BoolVar(&p.Verbose, "v", false, "enable debug logging")
	fs.BoolVar(&p.Stats, "stats", false, "print metrics in Prometheus format on exit")
	fs.BoolVar(&p.Help, "h", false, "print this usage information")
	fs.Usage = func() { fs.PrintDefaults() }

	if err := fs.Parse(args); err != nil {
		return nil, buf, err
	}
	if p.Help {
		fs.Usage()
		return p, buf, nil
	}

	if p.ConfigPath == "" && len(p.Resolvers) == 0 {
		return nil, buf, fmt.Errorf("either a config file (-c) or upstream servers (-r) must be provided")
	}

	if ipath != "" {
		f, err := os.Open(ipath)
		if err != nil {
			return nil, buf, fmt.Errorf("failed to open the input file: %w", err)
		}
		p.Input = f
	}
	if opath != "" {
		f, err := os.Create(opath)
		if err != nil {
			return nil, buf, fmt.Errorf("failed to create the output file: %w", err)
		}
		p.Output = f
	}
	return p, buf, nil
}

// BuildConfig produces the configuration snapshot from the file or the
// -r server list.
func BuildConfig(p *params) (config.Config, error) {
	if p.ConfigPath != "" {
		return config.Load(p.ConfigPath)
	}

	cfg := config.Default()
	for _, addr := range p.Resolvers {
		cfg.Servers = append(cfg.Servers, config.Server{
			Address:       addr,
			Port:          53,
			Weight:        1,
			TimeoutMillis: 2000,
			Enabled:       true,
		})
	}
	return cfg, cfg.Validate()
}

// InputHostnames feeds trimmed, non-empty lines from the reader into the
// channel, closing it when the input is exhausted.
func InputHostnames(r io.Reader, names chan string) {
	defer close(names)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			names <- line
		}
	}
}
