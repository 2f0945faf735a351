// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package filewriter writes exported rows to a sequence of files, rotating
// on a per-file line limit and applying compression or encryption.
package filewriter

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/xuri/excelize/v2"

	"github.com/cardinalhq/shardexport/internal/cipher"
)

const bufferSize = 256 * 1024

var (
	ErrWriterClosed = errors.New("filewriter: writer is already closed")
	// ErrLineMode is returned by WriteBlock when the cipher needs per-line framing.
	ErrLineMode = errors.New("filewriter: cipher requires line mode writes")
	// ErrCellMode is returned by WriteBlock and WriteRow for spreadsheet output.
	ErrCellMode = errors.New("filewriter: spreadsheet output requires WriteCells")

	errNoFile = errors.New("filewriter: no open file after failed rotation")
)

// Config controls file naming and the write pipeline.
type Config struct {
	// Prefix is the path every output file name starts with.
	Prefix string

	// LineLimit caps rows per file. Zero disables rotation and drops the
	// sequence component from the file name.
	LineLimit int64

	Format      Format
	Compression Compression

	// Cipher, when set, encrypts output. Ciphers without block support
	// switch the writer to framed per-line output.
	Cipher cipher.Cipher

	// Header is written as the first line of every file. It must end in a newline.
	Header []byte

	// HeaderCells is the first row of every spreadsheet file.
	HeaderCells []string
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Prefix == "" {
		return &ConfigError{Field: "Prefix", Message: "cannot be empty"}
	}
	if c.LineLimit < 0 {
		return &ConfigError{Field: "LineLimit", Message: "cannot be negative"}
	}
	if c.Cipher != nil && c.Compression != CompressionNone {
		return &ConfigError{Field: "Compression", Message: "cannot be combined with encryption"}
	}
	if c.Format == FormatXLSX && (c.Cipher != nil || c.Compression != CompressionNone) {
		return &ConfigError{Field: "Format", Message: "xlsx cannot be compressed or encrypted"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "filewriter config: " + e.Field + " " + e.Message
}

// Result describes one finished file.
type Result struct {
	FileName    string
	RecordCount int64
	FileSize    int64
}

type output struct {
	name  string
	file  *os.File
	comp  io.WriteCloser
	buf   *bufio.Writer
	lines int64

	// spreadsheet output
	book  *excelize.File
	sheet *excelize.StreamWriter
	row   int
}

func (o *output) close() error {
	if o.book != nil {
		return o.closeBook()
	}
	var errs []error
	if err := o.buf.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", o.name, err))
	}
	if o.comp != nil {
		if err := o.comp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close compressor %s: %w", o.name, err))
		}
	}
	if err := o.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", o.name, err))
	}
	return errors.Join(errs...)
}

func (o *output) closeBook() error {
	var errs []error
	if err := o.sheet.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush sheet %s: %w", o.name, err))
	} else if err := o.book.SaveAs(o.name); err != nil {
		errs = append(errs, fmt.Errorf("save %s: %w", o.name, err))
	}
	if err := o.book.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close workbook %s: %w", o.name, err))
	}
	return errors.Join(errs...)
}

func (o *output) appendCells(values []any) error {
	o.row++
	cell, err := excelize.CoordinatesToCellName(1, o.row)
	if err != nil {
		return err
	}
	if err := o.sheet.SetRow(cell, values); err != nil {
		return fmt.Errorf("write %s row %d: %w", o.name, o.row, err)
	}
	return nil
}

// Writer is one output sink. It is safe for concurrent use; writes are
// serialized so that every row lands intact in exactly one file.
type Writer struct {
	mu      sync.Mutex
	cfg     Config
	seq     int
	cur     *output
	scratch []byte
	results []Result
	total   int64
	closed  bool
}

// New validates cfg and creates the first output file.
func New(cfg Config) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := &Writer{cfg: cfg, seq: NoSequence}
	if cfg.LineLimit > 0 {
		w.seq = 0
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// LineMode reports whether rows must be written one at a time, with WriteRow
// or, for spreadsheets, WriteCells.
func (w *Writer) LineMode() bool {
	return w.Cells() || w.framed()
}

// Cells reports whether the writer produces spreadsheets.
func (w *Writer) Cells() bool {
	return w.cfg.Format == FormatXLSX
}

func (w *Writer) framed() bool {
	return w.cfg.Cipher != nil && !w.cfg.Cipher.SupportsBlock()
}

// Remaining returns how many rows fit in the current file before the next
// write rotates, or 0 when there is no line limit.
func (w *Writer) Remaining() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cfg.LineLimit <= 0 || w.cur == nil {
		return 0
	}
	if w.cur.lines >= w.cfg.LineLimit {
		return w.cfg.LineLimit
	}
	return w.cfg.LineLimit - w.cur.lines
}

func (w *Writer) open() error {
	name := Filename(w.cfg.Prefix, w.seq, w.cfg.Format, w.cfg.Compression)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if w.Cells() {
		return w.openBook(name)
	}
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	o := &output{name: name, file: f}
	var sink io.Writer = f
	switch w.cfg.Compression {
	case CompressionGzip:
		gz := gzip.NewWriter(f)
		o.comp, sink = gz, gz
	case CompressionZstd:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		o.comp, sink = enc, enc
	}
	o.buf = bufio.NewWriterSize(sink, bufferSize)
	w.cur = o

	if len(w.cfg.Header) > 0 {
		if w.framed() {
			return w.writeFramed(w.cfg.Header)
		}
		return w.writeRaw(w.cfg.Header)
	}
	return nil
}

func (w *Writer) openBook(name string) error {
	book := excelize.NewFile()
	sheet, err := book.NewStreamWriter(book.GetSheetName(0))
	if err != nil {
		_ = book.Close()
		return fmt.Errorf("create sheet writer: %w", err)
	}
	w.cur = &output{name: name, book: book, sheet: sheet}
	if len(w.cfg.HeaderCells) == 0 {
		return nil
	}
	values := make([]any, len(w.cfg.HeaderCells))
	for i, h := range w.cfg.HeaderCells {
		values[i] = h
	}
	return w.cur.appendCells(values)
}

// finish closes the current file, removing it if no rows were written.
func (w *Writer) finish() error {
	o := w.cur
	if o == nil {
		return nil
	}
	w.cur = nil
	if err := o.close(); err != nil {
		return err
	}
	if o.lines == 0 {
		if err := os.Remove(o.name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty file %s: %w", o.name, err)
		}
		return nil
	}
	var size int64
	if st, err := os.Stat(o.name); err == nil {
		size = st.Size()
	}
	w.results = append(w.results, Result{FileName: o.name, RecordCount: o.lines, FileSize: size})
	return nil
}

func (w *Writer) rotate() error {
	if err := w.finish(); err != nil {
		return err
	}
	w.seq++
	return w.open()
}

func (w *Writer) writeRaw(data []byte) error {
	if w.cfg.Cipher != nil {
		enc, err := w.cfg.Cipher.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypt block: %w", err)
		}
		data = enc
	}
	if _, err := w.cur.buf.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", w.cur.name, err)
	}
	return nil
}

func (w *Writer) writeFramed(line []byte) error {
	enc, err := w.cfg.Cipher.Encrypt(bytes.TrimSuffix(line, []byte{'\n'}))
	if err != nil {
		return fmt.Errorf("encrypt line: %w", err)
	}
	w.scratch, err = cipher.AppendFrame(w.scratch[:0], enc)
	if err != nil {
		return err
	}
	if _, err := w.cur.buf.Write(w.scratch); err != nil {
		return fmt.Errorf("write %s: %w", w.cur.name, err)
	}
	return nil
}

// WriteBlock appends rows already encoded as newline-terminated lines. A block
// is never split: when it would push a non-empty file past the line limit the
// writer first rotates to a new file.
func (w *Writer) WriteBlock(data []byte, rows int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.cur == nil {
		return errNoFile
	}
	if w.Cells() {
		return ErrCellMode
	}
	if w.framed() {
		return ErrLineMode
	}
	if rows <= 0 {
		return nil
	}
	if w.cfg.LineLimit > 0 && w.cur.lines > 0 && w.cur.lines+int64(rows) > w.cfg.LineLimit {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	if err := w.writeRaw(data); err != nil {
		return err
	}
	w.cur.lines += int64(rows)
	w.total += int64(rows)
	return nil
}

// WriteRow appends one newline-terminated row, rotating first if the current
// file is full.
func (w *Writer) WriteRow(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.cur == nil {
		return errNoFile
	}
	if w.Cells() {
		return ErrCellMode
	}
	if err := w.rotateIfFull(); err != nil {
		return err
	}
	var err error
	if w.framed() {
		err = w.writeFramed(line)
	} else {
		err = w.writeRaw(line)
	}
	if err != nil {
		return err
	}
	w.cur.lines++
	w.total++
	return nil
}

// WriteCells appends one spreadsheet row. NULL values leave the cell blank.
func (w *Writer) WriteCells(row [][]byte, isNull func([]byte) bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.cur == nil {
		return errNoFile
	}
	if !w.Cells() {
		return fmt.Errorf("filewriter: WriteCells needs format %s, have %s", FormatXLSX, w.cfg.Format)
	}
	if err := w.rotateIfFull(); err != nil {
		return err
	}
	values := make([]any, len(row))
	for i, v := range row {
		if isNull == nil || !isNull(v) {
			values[i] = string(v)
		}
	}
	if err := w.cur.appendCells(values); err != nil {
		return err
	}
	w.cur.lines++
	w.total++
	return nil
}

func (w *Writer) rotateIfFull() error {
	if w.cfg.LineLimit > 0 && w.cur.lines >= w.cfg.LineLimit {
		return w.rotate()
	}
	return nil
}

// Lines returns the number of rows written so far, excluding headers.
func (w *Writer) Lines() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Close flushes and closes the current file and returns every non-empty file
// written. Files that never received a row are deleted.
func (w *Writer) Close() ([]Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWriterClosed
	}
	w.closed = true
	if err := w.finish(); err != nil {
		return w.results, err
	}
	return w.results, nil
}
