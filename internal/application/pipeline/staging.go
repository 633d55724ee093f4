package pipeline

import (
	"os"
	"path/filepath"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// outputBatch collects a run's flat files under temporary names next to
// their final paths. Nothing becomes visible under a final name until
// Commit, so a failed run leaves the previous outputs untouched.
type outputBatch struct {
	tag     string
	pending []stagedFile
}

type stagedFile struct {
	tmp   string
	final string
}

func newOutputBatch(runID string) *outputBatch {
	return &outputBatch{tag: runID}
}

// Stage returns the temporary path to write final's content to. The
// extension is kept so the delimiter is inferred the same way.
func (b *outputBatch) Stage(final string) string {
	tmp := filepath.Join(filepath.Dir(final), ".tmp-"+b.tag+"-"+filepath.Base(final))
	b.pending = append(b.pending, stagedFile{tmp: tmp, final: final})
	return tmp
}

// Commit renames every staged file to its final path in staging order.
// Files not yet renamed are removed when a rename fails.
func (b *outputBatch) Commit() error {
	for i, f := range b.pending {
		if err := os.Rename(f.tmp, f.final); err != nil {
			b.pending = b.pending[i:]
			b.Discard()
			return errors.Wrapf(err, errors.CodeOutputWrite, "publish %s", f.final)
		}
	}
	b.pending = nil
	return nil
}

// Discard removes every staged file that has not been committed.
func (b *outputBatch) Discard() {
	for _, f := range b.pending {
		_ = os.Remove(f.tmp)
	}
	b.pending = nil
}
