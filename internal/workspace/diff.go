package workspace

import (
	"fmt"
	"path/filepath"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// summarizeDiff describes how much text changed between two versions of a file.
func summarizeDiff(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))

	var inserted, deleted int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			deleted += len([]rune(d.Text))
		}
	}
	if inserted == 0 && deleted == 0 {
		return "content unchanged"
	}
	return fmt.Sprintf("+%d/-%d chars", inserted, deleted)
}

func toSlash(rel string) string {
	return filepath.ToSlash(rel)
}
