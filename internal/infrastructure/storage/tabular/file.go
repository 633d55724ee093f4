// Package tabular reads and writes the flat files exchanged by a run: omics
// and drug input tables, clinical follow-up, and every output table.
package tabular

import (
	"compress/gzip"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// Delimiter returns the field separator implied by path: tab for .tsv and
// .txt (optionally gzipped), comma otherwise.
func Delimiter(path string) rune {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(strings.ToLower(path), ".gz")))
	if ext == ".tsv" || ext == ".txt" {
		return '\t'
	}
	return ','
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens path for reading, transparently decompressing .gz files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(errors.CodeInputUnreadable, "open input").
			WithDetailf("path=%s", path).WithCause(err)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.New(errors.CodeInputUnreadable, "open gzip input").
			WithDetailf("path=%s", path).WithCause(err)
	}
	return &readCloser{Reader: gz, closers: []io.Closer{f, gz}}, nil
}

func newReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	return cr
}

// WriteFile creates path (and its directory) and hands a CSV writer to fn.
// The file is flushed and closed before returning.
func WriteFile(path string, fn func(w *csv.Writer) error) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, errors.CodeOutputWrite, "create output directory %s", dir)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, errors.CodeOutputWrite, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, errors.CodeOutputWrite, "close %s", path)
		}
	}()

	w := csv.NewWriter(f)
	w.Comma = Delimiter(path)
	if err := fn(w); err != nil {
		return err
	}
	w.Flush()
	return errors.Wrapf(w.Error(), errors.CodeOutputWrite, "flush %s", path)
}
