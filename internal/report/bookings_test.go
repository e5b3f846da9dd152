package report

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	args := m.Called(ctx, from, to)
	if b := args.Get(0); b != nil {
		return b.([]*models.Booking), args.Error(1)
	}
	return nil, args.Error(1)
}

func sampleBookings() []*models.Booking {
	d1 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	consumed := d1.Add(13 * time.Hour)
	return []*models.Booking{
		{ID: 1, UserID: 10, Date: d1, Slot: models.SlotLunch, Price: decimal.RequireFromString("45.50"), Status: models.StatusConsumed, ConsumedAt: &consumed, CreatedAt: d1},
		{ID: 2, UserID: 11, Date: d1, Slot: models.SlotLunch, Price: decimal.RequireFromString("45.50"), Status: models.StatusBooked, PaymentRef: "pay-1", CreatedAt: d1},
		{ID: 3, UserID: 12, Date: d1, Slot: models.SlotDinner, Price: decimal.RequireFromString("60"), Status: models.StatusCancelled, CreatedAt: d1},
		{ID: 4, UserID: 10, Date: d2, Slot: models.SlotBreakfast, Price: decimal.RequireFromString("20"), Status: models.StatusPending, SpecialRequest: "no sugar", CreatedAt: d1},
	}
}

func TestExporterBuild(t *testing.T) {
	from := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 6)

	lister := new(mockLister)
	lister.On("ListBookingsInRange", mock.Anything, from, to).Return(sampleBookings(), nil)

	logger := zerolog.Nop()
	f, err := NewExporter(lister, t.TempDir(), &logger).Build(context.Background(), from, to)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(bookingsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, []string{"2", "2026-03-09", "lunch", "11", "booked", "45.50", "pay-1"}, rows[2][:7])
	assert.Equal(t, "no sugar", rows[4][7])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	require.Len(t, summary, 5)
	assert.Equal(t, "Period: 2026-03-09 - 2026-03-15", summary[0][0])

	// lunch is the second slot: columns D (booked) and E (consumed)
	lunchBooked, _ := f.GetCellValue(summarySheet, "D3")
	lunchConsumed, _ := f.GetCellValue(summarySheet, "E3")
	revenue, _ := f.GetCellValue(summarySheet, "J3")
	assert.Equal(t, "2", lunchBooked)
	assert.Equal(t, "1", lunchConsumed)
	assert.Equal(t, "91.00", revenue, "cancelled dinner is excluded")

	total, _ := f.GetCellValue(summarySheet, "J5")
	assert.Equal(t, "111.00", total)
}

func TestExporterErrors(t *testing.T) {
	from := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	logger := zerolog.Nop()

	t.Run("inverted range", func(t *testing.T) {
		_, err := NewExporter(new(mockLister), "", &logger).Build(context.Background(), from, from.AddDate(0, 0, -1))
		assert.Error(t, err)
	})

	t.Run("store failure", func(t *testing.T) {
		lister := new(mockLister)
		lister.On("ListBookingsInRange", mock.Anything, from, from).Return(nil, errors.New("disk I/O error"))
		_, err := NewExporter(lister, "", &logger).Build(context.Background(), from, from)
		assert.ErrorContains(t, err, "disk I/O error")
	})
}

func TestExporterSaveAndWrite(t *testing.T) {
	from := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	lister := new(mockLister)
	lister.On("ListBookingsInRange", mock.Anything, from, to).Return(sampleBookings(), nil)

	logger := zerolog.Nop()
	dir := filepath.Join(t.TempDir(), "exports")
	e := NewExporter(lister, dir, &logger)

	path, err := e.Save(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bookings_2026-03-09_to_2026-03-10.xlsx"), path)

	saved, err := excelize.OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{bookingsSheet, summarySheet}, saved.GetSheetList())
	saved.Close()

	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf, from, to))
	streamed, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer streamed.Close()
	v, _ := streamed.GetCellValue(bookingsSheet, "A2")
	assert.Equal(t, "1", v)
}
