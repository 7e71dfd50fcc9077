package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v2"

	"github.com/cqkv/journal"
	"github.com/cqkv/journal/keydir"
	"github.com/cqkv/journal/utils/log"
)

// Config is the journal configuration file.
type Config struct {
	Directory         string
	FileSize          int
	MinFiles          int
	PoolSize          int
	CompactMinFiles   int
	CompactPercentage float64
	FilePrefix        string
	FileExtension     string
	UserVersion       int32
	AutoReclaim       bool
	Keydir            string
	LogLevel          log.Level
}

func Default() *Config {
	return &Config{
		FileSize:          journal.DefaultFileSize,
		MinFiles:          journal.DefaultMinFiles,
		PoolSize:          journal.DefaultPoolSize,
		CompactMinFiles:   journal.DefaultCompactMinFiles,
		CompactPercentage: journal.DefaultCompactPercentage,
		FilePrefix:        journal.DefaultFilePrefix,
		FileExtension:     journal.DefaultFileExtension,
		AutoReclaim:       true,
		Keydir:            keydir.BTreeName,
		LogLevel:          log.INFO,
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	if err := c.Parse(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse overrides the fields set in the YAML document data.
func (c *Config) Parse(data []byte) error {
	var aux struct {
		Directory         string   `yaml:"directory"`
		FileSize          string   `yaml:"file_size"`
		MinFiles          *int     `yaml:"min_files"`
		PoolSize          *int     `yaml:"pool_size"`
		CompactMinFiles   *int     `yaml:"compact_min_files"`
		CompactPercentage *float64 `yaml:"compact_percentage"`
		FilePrefix        string   `yaml:"file_prefix"`
		FileExtension     string   `yaml:"file_extension"`
		UserVersion       *int32   `yaml:"user_version"`
		AutoReclaim       string   `yaml:"auto_reclaim"`
		Keydir            string   `yaml:"keydir"`
		LogLevel          string   `yaml:"log_level"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Directory == "" && c.Directory == "" {
		return errors.New("invalid directory")
	}
	if aux.Directory != "" {
		c.Directory = aux.Directory
	}

	if aux.FileSize != "" {
		size, err := bytefmt.ToBytes(aux.FileSize)
		if err != nil {
			return fmt.Errorf("invalid file size %q: %w", aux.FileSize, err)
		}
		c.FileSize = int(size)
	}
	if aux.MinFiles != nil {
		c.MinFiles = *aux.MinFiles
	}
	if aux.PoolSize != nil {
		c.PoolSize = *aux.PoolSize
	}
	if aux.CompactMinFiles != nil {
		c.CompactMinFiles = *aux.CompactMinFiles
	}
	if aux.CompactPercentage != nil {
		c.CompactPercentage = *aux.CompactPercentage
	}
	if aux.FilePrefix != "" {
		c.FilePrefix = aux.FilePrefix
	}
	if aux.FileExtension != "" {
		c.FileExtension = aux.FileExtension
	}
	if aux.UserVersion != nil {
		c.UserVersion = *aux.UserVersion
	}

	if aux.AutoReclaim != "" {
		enabled, err := strconv.ParseBool(aux.AutoReclaim)
		if err != nil {
			log.Error("Invalid value: %v for auto_reclaim. Keeping %v...", aux.AutoReclaim, c.AutoReclaim)
		} else {
			c.AutoReclaim = enabled
		}
	}

	if aux.Keydir != "" {
		if _, err := keydir.New(aux.Keydir); err != nil {
			return err
		}
		c.Keydir = aux.Keydir
	}
	if aux.LogLevel != "" {
		c.LogLevel = log.ParseLevel(aux.LogLevel)
	}
	return nil
}

// Options turns the configuration into journal options. Every call builds a
// fresh keydir.
func (c *Config) Options() ([]journal.Option, error) {
	kd, err := keydir.New(c.Keydir)
	if err != nil {
		return nil, err
	}
	log.SetLevel(c.LogLevel)

	return []journal.Option{
		journal.WithFileSize(c.FileSize),
		journal.WithMinFiles(c.MinFiles),
		journal.WithPoolSize(c.PoolSize),
		journal.WithCompactMinFiles(c.CompactMinFiles),
		journal.WithCompactPercentage(c.CompactPercentage),
		journal.WithFilePrefix(c.FilePrefix),
		journal.WithFileExtension(c.FileExtension),
		journal.WithUserVersion(c.UserVersion),
		journal.WithAutoReclaim(c.AutoReclaim),
		journal.WithKeydir(kd),
	}, nil
}

// Open builds a journal from the configuration. The journal is not started.
func (c *Config) Open() (*journal.Journal, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return journal.New(c.Directory, opts...)
}
