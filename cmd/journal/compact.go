package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagReclaim bool

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "load the journal and rewrite its live records into new files",
	Args:  cobra.NoArgs,
	RunE:  executeCompact,
}

func init() {
	compactCmd.Flags().BoolVar(&flagReclaim, "reclaim", true, "free obsolete files before compacting")
}

func executeCompact(cmd *cobra.Command, args []string) error {
	j, info, err := openJournal(cmd, &counter{})
	if err != nil {
		return err
	}
	defer j.Stop()

	out := cmd.OutOrStdout()
	before := j.DataFilesCount()
	if flagReclaim {
		if _, err := j.CheckReclaimStatus(); err != nil {
			return err
		}
		fmt.Fprintf(out, "reclaimed %d of %d data files\n", before-j.DataFilesCount(), before)
	}
	if err := j.Compact(); err != nil {
		return err
	}
	fmt.Fprintf(out, "compacted %d records from %d into %d data files\n", info.NumberOfRecords, before, j.DataFilesCount())
	return j.Stop()
}
