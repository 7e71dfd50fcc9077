package journal

import (
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/reclaim"
	"github.com/cqkv/journal/utils/log"
)

// CheckReclaimStatus moves every data file whose records are all obsolete to
// the free pool and reports whether any file was freed. It does nothing while
// a compaction runs.
func (j *Journal) CheckReclaimStatus() (bool, error) {
	if err := j.checkLoaded("check reclaim"); err != nil {
		return false, err
	}
	if j.compactorRunning.Load() {
		return false, nil
	}

	j.reclaimMu.Lock()
	defer j.reclaimMu.Unlock()

	j.compactingLock.RLock()
	j.appendLock.Lock()
	if j.getState() != stateLoaded {
		j.appendLock.Unlock()
		j.compactingLock.RUnlock()
		return false, &Error{Kind: KindNotLoaded, Op: "check reclaim"}
	}
	files := j.repo.DataFiles()
	scan := files
	if j.currentFile != nil {
		scan = append(append([]*model.JournalFile(nil), files...), j.currentFile)
	}
	reclaim.Scan(scan)

	var freed []*model.JournalFile
	for _, f := range files {
		if f.CanReclaim() && j.repo.RemoveDataFile(f) {
			freed = append(freed, f)
		}
	}
	j.appendLock.Unlock()
	j.compactingLock.RUnlock()

	for _, f := range freed {
		log.Debug("reclaiming %s", f)
		if err := j.repo.AddFreeFile(f, false); err != nil {
			return true, wrapIO("reclaim", err)
		}
	}
	return len(freed) > 0, nil
}

// scheduleReclaim queues a reclaim scan, followed by a compaction check when
// nothing could be reclaimed. Called with appendLock held.
func (j *Journal) scheduleReclaim() {
	if !j.autoReclaim.Load() {
		return
	}
	err := j.compactorExecutor.Execute(func() {
		if !j.IsLoaded() {
			return
		}
		reclaimed, err := j.CheckReclaimStatus()
		if err != nil {
			log.Error("reclaim failed: %v", err)
			return
		}
		if !reclaimed {
			j.checkCompact()
		}
	})
	if err != nil {
		log.Warn("cannot schedule reclaim: %v", err)
	}
}

// checkCompact compacts inline when the live bytes of the data files fell
// below the configured share. It runs on the compactor executor.
func (j *Journal) checkCompact() {
	if j.opts.compactMinFiles == 0 || j.compactorRunning.Load() {
		return
	}
	files := j.repo.DataFiles()
	if len(files) < j.opts.compactMinFiles {
		return
	}

	var live int64
	for _, f := range files {
		live += f.LiveSize()
	}
	total := int64(len(files)) * int64(j.opts.fileSize)
	if float64(live) >= float64(total)*j.opts.compactPercentage {
		return
	}
	if !j.compactorRunning.CompareAndSwap(false, true) {
		return
	}
	log.Info("compacting %d data files, %d of %d bytes live", len(files), live, total)
	if err := j.compact(); err != nil {
		log.Error("compaction failed: %v", err)
	}
}
