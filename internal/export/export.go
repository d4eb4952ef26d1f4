// Package export streams audit log rows as CSV or XLSX, optionally gzipped.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"alertflow/internal/types"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps the format query parameter; "" means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", types.NewAppError(types.ErrCodeValidationInvalidFilter, fmt.Sprintf("unsupported export format %q", s), nil)
}

// Header is the column order of every export.
var Header = []string{"Date", "Organization", "Type", "Status", "Severity", "Title", "Description", "Error"}

const sheetName = "Notifications"

// RowSource streams audit rows matching a filter, at most maxRows.
type RowSource interface {
	ForEach(ctx context.Context, f types.NotificationFilter, maxRows int, fn func(*types.AlertNotification) error) error
}

// Options select the output encoding.
type Options struct {
	Format Format
	Gzip   bool
}

// ContentType returns the HTTP content type for o.
func (o Options) ContentType() string {
	if o.Gzip {
		return "application/gzip"
	}
	if o.Format == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName returns the attachment name for an export taken at now.
func (o Options) FileName(now time.Time) string {
	name := fmt.Sprintf("notifications-%s.%s", now.UTC().Format("20060102-150405"), o.Format)
	if o.Gzip {
		name += ".gz"
	}
	return name
}

// Exporter writes audit rows in the requested format.
type Exporter struct {
	source  RowSource
	maxRows int
}

// NewExporter creates an Exporter capped at maxRows rows (default 50000).
func NewExporter(source RowSource, maxRows int) *Exporter {
	if maxRows <= 0 {
		maxRows = 50000
	}
	return &Exporter{source: source, maxRows: maxRows}
}

// Write streams every row matching f to w and returns the row count.
func (e *Exporter) Write(ctx context.Context, w io.Writer, f types.NotificationFilter, opts Options) (n int, err error) {
	if opts.Gzip {
		zw := gzip.NewWriter(w)
		defer func() {
			if cerr := zw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("gzip close: %w", cerr)
			}
		}()
		w = zw
	}

	switch opts.Format {
	case FormatXLSX:
		return e.writeXLSX(ctx, w, f)
	default:
		return e.writeCSV(ctx, w, f)
	}
}

func (e *Exporter) writeCSV(ctx context.Context, w io.Writer, f types.NotificationFilter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return 0, err
	}
	n := 0
	err := e.source.ForEach(ctx, f, e.maxRows, func(row *types.AlertNotification) error {
		n++
		return cw.Write(record(row))
	})
	if err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}

func (e *Exporter) writeXLSX(ctx context.Context, w io.Writer, f types.NotificationFilter) (int, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := file.NewStreamWriter(sheetName)
	if err != nil {
		return 0, fmt.Errorf("stream writer: %w", err)
	}
	style, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("header style: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = excelize.Cell{StyleID: style, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return 0, err
	}

	n := 0
	err = e.source.ForEach(ctx, f, e.maxRows, func(row *types.AlertNotification) error {
		n++
		cell, err := excelize.CoordinatesToCellName(1, n+1)
		if err != nil {
			return err
		}
		rec := record(row)
		values := make([]interface{}, len(rec))
		for i, v := range rec {
			values[i] = v
		}
		return sw.SetRow(cell, values)
	})
	if err != nil {
		return n, err
	}
	if err := sw.Flush(); err != nil {
		return n, fmt.Errorf("flush sheet: %w", err)
	}
	if _, err := file.WriteTo(w); err != nil {
		return n, fmt.Errorf("write workbook: %w", err)
	}
	return n, nil
}

func record(n *types.AlertNotification) []string {
	return []string{
		n.CreatedDate.UTC().Format(time.RFC3339),
		n.OrganizationID,
		n.NotificationType,
		string(n.Status),
		string(n.Severity),
		n.Title,
		n.Description,
		n.DeliveryError,
	}
}
