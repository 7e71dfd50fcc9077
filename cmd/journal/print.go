package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cqkv/journal/codec"
	"github.com/cqkv/journal/executor"
	"github.com/cqkv/journal/filerepo"
	"github.com/cqkv/journal/fio"
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/reader"
)

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "list every record of every journal file",
	Long: "print reads the journal files without loading the journal and lists the\n" +
		"records each file holds, including the ones that are no longer live.",
	Args: cobra.NoArgs,
	RunE: executePrint,
}

func executePrint(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	exec := executor.NewOrdered("journal-print")
	defer exec.Shutdown()
	repo := filerepo.New(fio.NewFileFactory(c.Directory), exec, filerepo.Config{
		FileSize:    c.FileSize,
		MinFiles:    c.MinFiles,
		PoolSize:    c.PoolSize,
		Prefix:      c.FilePrefix,
		Extension:   c.FileExtension,
		UserVersion: c.UserVersion,
	})
	files, err := repo.OrderFiles()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, f := range files {
		fmt.Fprintf(out, "%s id=%d version=%d\n", f.File.FileName(), f.ID(), f.Version())
		p := &printer{out: out}
		last, err := reader.Read(f, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %d records, last valid position %d\n", p.count, last)
	}
	return nil
}

// printer writes one line per record it is handed.
type printer struct {
	out   io.Writer
	count int
	torn  bool
}

var _ reader.Callback = (*printer)(nil)

func (p *printer) line(pos model.RecordPos, format string, args ...interface{}) error {
	p.count++
	fmt.Fprintf(p.out, "  @%-8d %5d  %s\n", pos.Offset, pos.Size, fmt.Sprintf(format, args...))
	return nil
}

func (p *printer) OnReadAddRecord(pos model.RecordPos, info model.RecordInfo) error {
	return p.line(pos, "add id=%d type=%d len=%d compacted=%d", info.ID, info.UserRecordType, len(info.Data), info.CompactCount)
}

func (p *printer) OnReadUpdateRecord(pos model.RecordPos, info model.RecordInfo) error {
	return p.line(pos, "update id=%d type=%d len=%d compacted=%d", info.ID, info.UserRecordType, len(info.Data), info.CompactCount)
}

func (p *printer) OnReadDeleteRecord(pos model.RecordPos, id int64) error {
	return p.line(pos, "delete id=%d", id)
}

func (p *printer) OnReadAddRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	return p.line(pos, "add tx=%d id=%d type=%d len=%d", txID, info.ID, info.UserRecordType, len(info.Data))
}

func (p *printer) OnReadUpdateRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	return p.line(pos, "update tx=%d id=%d type=%d len=%d", txID, info.ID, info.UserRecordType, len(info.Data))
}

func (p *printer) OnReadDeleteRecordTX(txID int64, pos model.RecordPos, info model.RecordInfo) error {
	return p.line(pos, "delete tx=%d id=%d", txID, info.ID)
}

func (p *printer) OnReadPrepareRecord(txID int64, pos model.RecordPos, extra []byte, counts []codec.FileCount) error {
	return p.line(pos, "prepare tx=%d extra=%d counts=%v", txID, len(extra), counts)
}

func (p *printer) OnReadCommitRecord(txID int64, pos model.RecordPos, counts []codec.FileCount) error {
	return p.line(pos, "commit tx=%d counts=%v", txID, counts)
}

func (p *printer) OnReadRollbackRecord(txID int64, pos model.RecordPos) error {
	return p.line(pos, "rollback tx=%d", txID)
}

func (p *printer) MarkAsDataFile(file *model.JournalFile) {
	if p.torn {
		return
	}
	p.torn = true
	fmt.Fprintf(p.out, "  torn record at the end of %s\n", file.File.FileName())
}
