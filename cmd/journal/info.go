package main

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"

	"github.com/cqkv/journal"
	"github.com/cqkv/journal/model"
)

var flagVerbose bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "load the journal and print its statistics",
	Args:  cobra.NoArgs,
	RunE:  executeInfo,
}

func init() {
	infoCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "print the accounting of every file")
}

// counter is a LoaderCallback that only counts.
type counter struct {
	adds, updates, deletes int
	prepared, failed       int
}

var _ journal.LoaderCallback = (*counter)(nil)

func (c *counter) AddRecord(model.RecordInfo)                           { c.adds++ }
func (c *counter) UpdateRecord(model.RecordInfo)                        { c.updates++ }
func (c *counter) DeleteRecord(int64)                                   { c.deletes++ }
func (c *counter) AddPreparedTransaction(model.PreparedTransactionInfo) { c.prepared++ }
func (c *counter) FailedTransaction(int64, []model.RecordInfo, []model.RecordInfo) {
	c.failed++
}

func executeInfo(cmd *cobra.Command, args []string) error {
	cnt := &counter{}
	j, info, err := openJournal(cmd, cnt)
	if err != nil {
		return err
	}
	defer j.Stop()

	var live int64
	files := j.DataFiles()
	for _, f := range files {
		live += f.LiveSize()
	}
	total := uint64(len(files)) * uint64(j.FileSize())

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "records:       %d (max id %d)\n", info.NumberOfRecords, info.MaxID)
	fmt.Fprintf(out, "replayed:      %d adds, %d updates, %d deletes\n", cnt.adds, cnt.updates, cnt.deletes)
	fmt.Fprintf(out, "transactions:  %d prepared, %d failed\n", cnt.prepared, cnt.failed)
	fmt.Fprintf(out, "data files:    %d of %s, %s live of %s\n", len(files),
		bytefmt.ByteSize(uint64(j.FileSize())), bytefmt.ByteSize(uint64(live)), bytefmt.ByteSize(total))
	fmt.Fprintf(out, "free files:    %d\n", j.FreeFilesCount())
	fmt.Fprintf(out, "current file:  %d\n", j.CurrentFileID())
	if flagVerbose {
		fmt.Fprint(out, j.Debug())
	}
	return nil
}
