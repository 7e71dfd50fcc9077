package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/snappy"
	"github.com/spf13/cobra"

	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

var (
	flagOutput   string
	flagCompress bool
	flagFormat   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "write the committed records as text",
	Long: "export loads the journal and writes one line per committed record:\n" +
		"id, user record type, update flag and the hex encoded body.\n" +
		"--format csv writes the same columns as csv with a header row.",
	Args: cobra.NoArgs,
	RunE: executeExport,
}

func init() {
	exportCmd.Flags().StringVarP(&flagOutput, "out", "o", "", "output file, stdout when empty")
	exportCmd.Flags().BoolVar(&flagCompress, "compress", false, "snappy compress the output stream")
	exportCmd.Flags().StringVar(&flagFormat, "format", "text", "output format, text or csv")
}

func executeExport(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	j, err := c.Open()
	if err != nil {
		return err
	}
	if err := j.Start(); err != nil {
		return err
	}
	defer j.Stop()

	records, prepared, _, err := j.LoadRecords(func(txID int64, records, _ []model.RecordInfo) {
		log.Warn("skipping failed transaction %d with %d records", txID, len(records))
	})
	if err != nil {
		return err
	}
	if len(prepared) > 0 {
		log.Warn("%d prepared transactions are not exported", len(prepared))
	}

	if flagFormat != "text" && flagFormat != "csv" {
		return fmt.Errorf("unknown export format %q", flagFormat)
	}

	var out io.Writer = cmd.OutOrStdout()
	if flagOutput != "" {
		f, err := os.Create(flagOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return writeRecords(out, records, flagFormat, flagCompress)
}

// csvRecord is one exported row.
type csvRecord struct {
	ID       int64  `csv:"id"`
	Type     int    `csv:"type"`
	IsUpdate bool   `csv:"update"`
	Data     string `csv:"data"`
}

func writeRecords(out io.Writer, records []model.RecordInfo, format string, compress bool) error {
	var sw *snappy.Writer
	if compress {
		sw = snappy.NewBufferedWriter(out)
		out = sw
	}
	w := bufio.NewWriter(out)
	switch format {
	case "csv":
		rows := make([]*csvRecord, 0, len(records))
		for _, r := range records {
			rows = append(rows, &csvRecord{ID: r.ID, Type: int(r.UserRecordType), IsUpdate: r.IsUpdate, Data: hex.EncodeToString(r.Data)})
		}
		if err := gocsv.Marshal(rows, w); err != nil {
			return err
		}
	default:
		for _, r := range records {
			if _, err := fmt.Fprintf(w, "%d\t%d\t%t\t%s\n", r.ID, r.UserRecordType, r.IsUpdate, hex.EncodeToString(r.Data)); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if sw != nil {
		return sw.Close()
	}
	return nil
}
