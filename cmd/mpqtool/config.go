// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	mpq "github.com/suprsokr/mpqedit"
)

// Config is the optional YAML configuration of mpqtool.
type Config struct {
	LogLevel string `yaml:"logLevel"`
	Legacy   bool   `yaml:"legacy"`
	TempDir  string `yaml:"tempDir"`
	Workers  int    `yaml:"workers"`

	// Recompress applies to the rebuild command.
	Recompress mpq.RecompressOptions `yaml:"recompress"`
}

func defaultConfig() Config {
	return Config{
		LogLevel:   "info",
		Workers:    4,
		Recompress: mpq.DefaultRecompressOptions(),
	}
}

// loadConfig reads the file at path over the defaults. An empty path
// returns the defaults.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Recompress.Iterations <= 0 {
		config.Recompress.Iterations = mpq.DefaultRecompressOptions().Iterations
	}
	return config, nil
}

func (c Config) logger(verbose bool) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	return logger, nil
}

// options returns the archive options for the configuration.
func (c Config) options(logger logrus.FieldLogger, readOnly bool) []mpq.Option {
	return []mpq.Option{
		mpq.WithLogger(logger),
		mpq.WithReadOnly(readOnly),
		mpq.WithLegacyCompat(c.Legacy),
		mpq.WithTempDir(c.TempDir),
	}
}
