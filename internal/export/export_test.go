package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"alertflow/internal/types"
)

type sliceSource struct {
	rows    []*types.AlertNotification
	err     error
	gotMax  int
	gotOrgs []string
}

func (s *sliceSource) ForEach(_ context.Context, f types.NotificationFilter, maxRows int, fn func(*types.AlertNotification) error) error {
	s.gotMax = maxRows
	s.gotOrgs = append(s.gotOrgs, f.OrganizationID)
	for i, r := range s.rows {
		if i >= maxRows {
			break
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return s.err
}

func testRows() []*types.AlertNotification {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	return []*types.AlertNotification{
		{
			OrganizationID: "org-1", NotificationType: "slack", Status: types.NotificationSent,
			Severity: types.SeverityHigh, Title: "Intrusion, Gate 4", Description: `said "stop"`, CreatedDate: at,
		},
		{
			OrganizationID: "org-1", NotificationType: "email", Status: types.NotificationFailed,
			Severity: types.SeverityCritical, Title: "Fire", Description: "line one\nline two",
			DeliveryError: "address_blocked", CreatedDate: at.Add(time.Minute),
		},
	}
}

func TestWriteCSV(t *testing.T) {
	src := &sliceSource{rows: testRows()}
	var buf bytes.Buffer

	n, err := NewExporter(src, 100).Write(context.Background(), &buf, types.NotificationFilter{OrganizationID: "org-1"}, Options{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"2026-03-02T09:30:00Z", "org-1", "slack", "sent", "high", "Intrusion, Gate 4", `said "stop"`, ""}, records[1])
	assert.Equal(t, "line one\nline two", records[2][6])
	assert.Equal(t, "address_blocked", records[2][7])
}

func TestWriteCSV_MaxRows(t *testing.T) {
	src := &sliceSource{rows: testRows()}
	var buf bytes.Buffer

	n, err := NewExporter(src, 1).Write(context.Background(), &buf, types.NotificationFilter{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, src.gotMax)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	n, err := NewExporter(&sliceSource{rows: testRows()}, 100).Write(context.Background(), &buf, types.NotificationFilter{}, Options{Format: FormatXLSX})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "Fire", rows[2][5])
}

func TestWriteGzip(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewExporter(&sliceSource{rows: testRows()}, 100).Write(context.Background(), &buf, types.NotificationFilter{}, Options{Format: FormatCSV, Gzip: true})
	require.NoError(t, err)

	zr, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	records, err := csv.NewReader(zr).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestWrite_SourceError(t *testing.T) {
	src := &sliceSource{err: errors.New("db gone")}
	_, err := NewExporter(src, 10).Write(context.Background(), &bytes.Buffer{}, types.NotificationFilter{}, Options{})
	assert.EqualError(t, err, "db gone")
}

func TestParseFormatAndOptions(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat("xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("pdf")
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidFilter, appErr.Code)

	now := time.Date(2026, 3, 2, 9, 30, 5, 0, time.UTC)
	assert.Equal(t, "notifications-20260302-093005.csv", Options{Format: FormatCSV}.FileName(now))
	assert.Equal(t, "notifications-20260302-093005.xlsx.gz", Options{Format: FormatXLSX, Gzip: true}.FileName(now))
	assert.Equal(t, "application/gzip", Options{Format: FormatCSV, Gzip: true}.ContentType())
	assert.Equal(t, "text/csv; charset=utf-8", Options{Format: FormatCSV}.ContentType())
}
