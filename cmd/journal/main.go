package main

import (
	"fmt"
	"os"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/cqkv/journal"
	"github.com/cqkv/journal/config"
	"github.com/cqkv/journal/utils/log"
)

var (
	flagConfig      string
	flagDir         string
	flagFileSize    string
	flagPrefix      string
	flagExtension   string
	flagUserVersion int32
)

func main() {
	c := &cobra.Command{
		Use:           "journal",
		Short:         "inspect and maintain journal directories",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	c.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to a journal YAML configuration")
	c.PersistentFlags().StringVarP(&flagDir, "dir", "d", "", "journal directory, overrides the configuration")
	c.PersistentFlags().StringVar(&flagFileSize, "file-size", "", "journal file size, e.g. 10M")
	c.PersistentFlags().StringVar(&flagPrefix, "prefix", "", "journal file prefix")
	c.PersistentFlags().StringVar(&flagExtension, "ext", "", "journal file extension")
	c.PersistentFlags().Int32Var(&flagUserVersion, "user-version", 0, "user version stamped in the file headers")

	c.AddCommand(printCmd, infoCmd, compactCmd, exportCmd)

	if err := c.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the configuration file with the command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		c = loaded
	}
	// the tools only read and rewrite, they never wait on a reclaim
	c.AutoReclaim = false
	c.CompactMinFiles = 0
	if c.LogLevel == log.INFO {
		c.LogLevel = log.WARNING
	}

	if flagDir != "" {
		c.Directory = flagDir
	}
	if c.Directory == "" {
		return nil, fmt.Errorf("no journal directory, use --dir or --config")
	}
	if flagFileSize != "" {
		size, err := bytefmt.ToBytes(flagFileSize)
		if err != nil {
			return nil, fmt.Errorf("invalid file size %q: %w", flagFileSize, err)
		}
		c.FileSize = int(size)
	}
	if flagPrefix != "" {
		c.FilePrefix = flagPrefix
	}
	if flagExtension != "" {
		c.FileExtension = flagExtension
	}
	if cmd.Flags().Changed("user-version") {
		c.UserVersion = flagUserVersion
	}
	return c, nil
}

// openJournal starts and loads the journal the flags describe.
func openJournal(cmd *cobra.Command, cb journal.LoaderCallback) (*journal.Journal, journal.LoadInfo, error) {
	c, err := loadConfig(cmd)
	if err != nil {
		return nil, journal.LoadInfo{}, err
	}
	j, err := c.Open()
	if err != nil {
		return nil, journal.LoadInfo{}, err
	}
	if err := j.Start(); err != nil {
		return nil, journal.LoadInfo{}, err
	}
	info, err := j.Load(cb)
	if err != nil {
		_ = j.Stop()
		return nil, journal.LoadInfo{}, err
	}
	return j, info, nil
}
