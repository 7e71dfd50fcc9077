package reclaim

import (
	"github.com/cqkv/journal/model"
	"github.com/cqkv/journal/utils/log"
)

// Scan marks every file whose records are all obsolete as reclaimable. files
// must be ordered by id.
//
// A file is reclaimable when the negatives held against it by itself and by
// later files cover its positives, unless it holds negatives against an
// earlier file that stays: those negatives are still needed on replay.
func Scan(files []*model.JournalFile) {
	for i, file := range files {
		posCount := file.PosCount()

		var totNeg int32
		for j := i; j < len(files); j++ {
			totNeg += files[j].NegCount(file)
		}

		file.SetCanReclaim(true)
		if posCount > totNeg {
			file.SetCanReclaim(false)
			continue
		}

		for j := 0; j < i; j++ {
			if !files[j].CanReclaim() && file.NegCount(files[j]) != 0 {
				log.Debug("%s cannot be reclaimed, %s still depends on its deletes", file, files[j])
				file.SetCanReclaim(false)
				break
			}
		}
	}
}
