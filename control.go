package journal

import (
	"fmt"

	"github.com/vmihailenco/msgpack"

	"github.com/cqkv/journal/filerepo"
	"github.com/cqkv/journal/utils"
	"github.com/cqkv/journal/utils/log"
)

const controlExtension = "ctr"

// controlFile is written before a compaction swaps files and deleted once the
// new files carry their final names. Finding one on load means the swap must
// be completed.
type controlFile struct {
	DataFiles []string       `msgpack:"data_files"`
	NewFiles  []string       `msgpack:"new_files"`
	Renames   []renameRecord `msgpack:"renames"`
}

type renameRecord struct {
	From string `msgpack:"from"`
	To   string `msgpack:"to"`
}

func (j *Journal) controlFileName() string {
	return fmt.Sprintf("%s.%s", j.opts.filePrefix, controlExtension)
}

func (j *Journal) writeControlFile(ctl *controlFile) error {
	data, err := msgpack.Marshal(ctl)
	if err != nil {
		return err
	}
	file := j.factory.CreateSequentialFile(j.controlFileName())
	if err := file.Open(); err != nil {
		return err
	}
	if err := file.Fill(0); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.WriteDirect(utils.AppendCrc(data), true); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// readControlFile returns nil when there is no complete control file.
func (j *Journal) readControlFile() (*controlFile, error) {
	file := j.factory.CreateSequentialFile(j.controlFileName())
	if !file.Exists() {
		return nil, nil
	}
	framed, err := file.ReadAll()
	if err != nil {
		return nil, err
	}
	body, ok := utils.SplitCrc(framed)
	if !ok {
		log.Warn("control file %s is incomplete, ignoring it", file.FileName())
		return nil, file.Delete()
	}
	var ctl controlFile
	if err := msgpack.Unmarshal(body, &ctl); err != nil {
		log.Warn("control file %s is unreadable, ignoring it: %v", file.FileName(), err)
		return nil, file.Delete()
	}
	return &ctl, nil
}

func (j *Journal) deleteControlFile() error {
	return j.factory.CreateSequentialFile(j.controlFileName()).Delete()
}

// checkControlFile finishes a compaction interrupted after its control file
// was written, then removes compaction output nobody will install.
func (j *Journal) checkControlFile() error {
	ctl, err := j.readControlFile()
	if err != nil {
		return err
	}
	if ctl != nil {
		log.Info("finishing interrupted compaction: %d old files, %d new files", len(ctl.DataFiles), len(ctl.NewFiles))
		for _, name := range ctl.DataFiles {
			file := j.factory.CreateSequentialFile(name)
			if file.Exists() {
				if err := file.Delete(); err != nil {
					return err
				}
			}
		}
		for _, r := range ctl.Renames {
			file := j.factory.CreateSequentialFile(r.From)
			if !file.Exists() {
				continue
			}
			if err := file.RenameTo(r.To); err != nil {
				return err
			}
		}
		if err := j.deleteControlFile(); err != nil {
			return err
		}
	}

	stray, err := j.factory.ListFiles(filerepo.CompactExtension)
	if err != nil {
		return err
	}
	for _, name := range stray {
		log.Info("deleting unfinished compaction output %s", name)
		if err := j.factory.CreateSequentialFile(name).Delete(); err != nil {
			return err
		}
	}
	return nil
}
