package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lypezin/DASHBOARD-GERAL-sub006/internal/backend"
)

const maxReportedRowErrors = 20

var (
	// ErrInvalidRows is returned when cells fail coercion. No rows are
	// inserted in that case.
	ErrInvalidRows = errors.New("upload: invalid rows")
	// ErrBatchFailed wraps the insert error of the batch that stopped the
	// pipeline.
	ErrBatchFailed = errors.New("upload: batch failed")
)

// Inserter writes a batch of rows into a backend table.
type Inserter interface {
	Insert(ctx context.Context, table string, rows any, opts ...backend.CallOption) error
}

// RowsObserver counts inserted rows per upload kind.
type RowsObserver interface {
	ObserveUploadedRows(kind string, rows int)
}

// Row is one table row keyed by column name.
type Row map[string]any

// RowError locates a cell that could not be converted.
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Message string `json:"message"`
}

// RowErrors is returned by Transform. Row numbers are 1-based spreadsheet
// lines, the header being line 1.
type RowErrors struct {
	Errors []RowError
	Total  int
}

func (e *RowErrors) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, re := range e.Errors {
		parts = append(parts, fmt.Sprintf("line %d %s: %s", re.Row, re.Column, re.Message))
	}
	return fmt.Sprintf("%s: %d invalid cells (%s)", ErrInvalidRows, e.Total, strings.Join(parts, "; "))
}

func (e *RowErrors) Unwrap() error { return ErrInvalidRows }

// Job is a validated upload ready to insert.
type Job struct {
	Kind     Kind
	Table    string
	Filename string
	Rows     []Row
}

// Batches returns the number of insert batches for size.
func (j *Job) Batches(size int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return (len(j.Rows) + size - 1) / size
}

// Pipeline validates spreadsheets and inserts their rows in batches.
type Pipeline struct {
	inserter Inserter
	limits   Limits
	logger   *slog.Logger
	observer RowsObserver
}

// NewPipeline constructs a pipeline. Zero limits take the defaults.
func NewPipeline(inserter Inserter, limits Limits, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{inserter: inserter, limits: limits.withDefaults(), logger: logger}
}

// WithObserver attaches a row counter.
func (p *Pipeline) WithObserver(obs RowsObserver) *Pipeline {
	p.observer = obs
	return p
}

// Limits returns the effective limits.
func (p *Pipeline) Limits() Limits {
	return p.limits
}

// Prepare runs every check that does not touch the backend: kind, file
// type, size, row count and cell coercion.
func (p *Pipeline) Prepare(kind Kind, filename string, content []byte) (*Job, error) {
	mapping, err := MappingFor(kind)
	if err != nil {
		return nil, err
	}
	f, err := DetectFormat(filename, content, p.limits)
	if err != nil {
		return nil, err
	}
	sheet, err := ParseWorkbook(content, f, p.limits.MaxRows)
	if err != nil {
		return nil, err
	}
	rows, err := Transform(sheet, mapping)
	if err != nil {
		return nil, err
	}
	return &Job{Kind: mapping.Kind, Table: mapping.Table, Filename: filename, Rows: rows}, nil
}

// Transform maps sheet rows onto the table columns.
func Transform(sheet *Sheet, mapping Mapping) ([]Row, error) {
	cols, err := mapping.bind(sheet.Headers)
	if err != nil {
		return nil, err
	}
	rowErrs := &RowErrors{}
	out := make([]Row, 0, len(sheet.Rows))
	for i, cells := range sheet.Rows {
		row := make(Row, len(cols))
		for _, col := range cols {
			var raw string
			if col.index < len(cells) {
				raw = cells[col.index]
			}
			v, err := Convert(raw, col.Type)
			if err == nil && v == nil && col.Required {
				err = fmt.Errorf("%w: required %s is empty", ErrInvalidValue, col.Type)
			}
			if err != nil {
				rowErrs.Total++
				if len(rowErrs.Errors) < maxReportedRowErrors {
					rowErrs.Errors = append(rowErrs.Errors, RowError{Row: sheet.Line(i), Column: col.Field, Message: err.Error()})
				}
				continue
			}
			row[col.Field] = v
		}
		out = append(out, row)
	}
	if rowErrs.Total > 0 {
		return nil, rowErrs
	}
	return out, nil
}

// Run inserts the job rows batch by batch and calls onProgress after each
// batch. The first failed batch stops the run; earlier batches stay
// inserted.
func (p *Pipeline) Run(ctx context.Context, job *Job, onProgress func(BatchProgress)) (BatchProgress, error) {
	size := p.limits.BatchSize
	state := BatchProgress{Batches: job.Batches(size), Total: len(job.Rows)}
	for start := 0; start < len(job.Rows); start += size {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		end := min(start+size, len(job.Rows))
		batch := job.Rows[start:end]
		if err := p.inserter.Insert(ctx, job.Table, batch); err != nil {
			p.logger.Error("upload batch failed",
				slog.String("table", job.Table),
				slog.Int("batch", state.Batch+1),
				slog.Int("batches", state.Batches),
				slog.Any("error", err))
			return state, fmt.Errorf("%w %d/%d: %w", ErrBatchFailed, state.Batch+1, state.Batches, err)
		}
		state.Batch++
		state.Inserted += len(batch)
		if p.observer != nil {
			p.observer.ObserveUploadedRows(string(job.Kind), len(batch))
		}
		if onProgress != nil {
			onProgress(state)
		}
	}
	p.logger.Info("upload inserted",
		slog.String("table", job.Table),
		slog.Int("rows", state.Inserted),
		slog.Int("batches", state.Batches))
	return state, nil
}
