package filesystem

import (
	"encoding/csv"
	"io"

	"afsrpt/pkg/contract"
)

type csvEncoder struct {
	w *csv.Writer
}

func openCSV(out io.Writer, fs *FS) (encoder, error) {
	cw := csv.NewWriter(out)
	cw.Comma = fs.delim
	return &csvEncoder{w: cw}, nil
}

func (e *csvEncoder) WriteHeader(names []string) error { return e.w.Write(names) }

func (e *csvEncoder) WriteRecord(values contract.Record) error { return e.w.Write(values) }

func (e *csvEncoder) Close() error {
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) Abort() {}
