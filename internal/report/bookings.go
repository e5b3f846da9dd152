// Package report renders booking exports as Excel workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"messhall/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	summarySheet  = "Summary"
	dateLayout    = "2006-01-02"
)

var bookingHeaders = []string{"ID", "Date", "Slot", "User", "Status", "Price", "Payment ref", "Special request", "Created", "Consumed"}

type BookingLister interface {
	ListBookingsInRange(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
}

type Exporter struct {
	bookings BookingLister
	dir      string
	logger   *zerolog.Logger
}

func NewExporter(bookings BookingLister, dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{bookings: bookings, dir: dir, logger: logger}
}

// Build renders every booking with a meal date in [from, to].
func (e *Exporter) Build(ctx context.Context, from, to time.Time) (*excelize.File, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("report range ends before it starts")
	}

	bookings, err := e.bookings.ListBookingsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("error getting bookings: %w", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", bookingsSheet); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, err
	}

	if err := writeBookings(f, bookings); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, from, to, bookings); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Write streams the workbook to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, from, to time.Time) error {
	f, err := e.Build(ctx, from, to)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteTo(w)
	return err
}

// Save writes the workbook into the export directory and returns its path.
func (e *Exporter) Save(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.Build(ctx, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(e.dir, FileName(from, to))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", path).Msg("Booking report created")
	return path, nil
}

func FileName(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from.Format(dateLayout), to.Format(dateLayout))
}

func writeBookings(f *excelize.File, bookings []*models.Booking) error {
	if err := f.SetSheetRow(bookingsSheet, "A1", &bookingHeaders); err != nil {
		return err
	}

	for i, b := range bookings {
		consumed := ""
		if b.ConsumedAt != nil {
			consumed = b.ConsumedAt.Format(time.DateTime)
		}
		row := []interface{}{
			b.ID,
			b.Date.Format(dateLayout),
			string(b.Slot),
			b.UserID,
			string(b.Status),
			b.Price.StringFixed(2),
			b.PaymentRef,
			b.SpecialRequest,
			b.CreatedAt.Format(time.DateTime),
			consumed,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(bookingsSheet, cell, &row); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return err
	}
	_ = f.SetCellStyle(bookingsSheet, "A1", "J1", style)
	_ = f.SetColWidth(bookingsSheet, "A", "F", 12)
	_ = f.SetColWidth(bookingsSheet, "G", "J", 22)
	return nil
}

type slotTotals struct {
	active   int
	consumed int
	revenue  decimal.Decimal
}

// writeSummary lays out one row per date and one column pair per slot.
// Cancelled and deleted bookings are not counted.
func writeSummary(f *excelize.File, from, to time.Time, bookings []*models.Booking) error {
	totals := make(map[string]map[models.Slot]*slotTotals)
	for _, b := range bookings {
		if !b.Status.HoldsSeat() {
			continue
		}
		key := b.Date.Format(dateLayout)
		if totals[key] == nil {
			totals[key] = make(map[models.Slot]*slotTotals)
		}
		t := totals[key][b.Slot]
		if t == nil {
			t = &slotTotals{}
			totals[key][b.Slot] = t
		}
		t.active++
		if b.Status == models.StatusConsumed {
			t.consumed++
		}
		t.revenue = t.revenue.Add(b.Price)
	}

	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Period: %s - %s", from.Format(dateLayout), to.Format(dateLayout)))

	header := []interface{}{"Date"}
	for _, s := range models.Slots {
		header = append(header, string(s)+" booked", string(s)+" consumed")
	}
	header = append(header, "Revenue")
	if err := f.SetSheetRow(summarySheet, "A2", &header); err != nil {
		return err
	}

	dates := make([]string, 0, len(totals))
	for d := range totals {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	grand := decimal.Zero
	for i, d := range dates {
		row := []interface{}{d}
		revenue := decimal.Zero
		for _, s := range models.Slots {
			t := totals[d][s]
			if t == nil {
				row = append(row, 0, 0)
				continue
			}
			row = append(row, t.active, t.consumed)
			revenue = revenue.Add(t.revenue)
		}
		row = append(row, revenue.StringFixed(2))
		grand = grand.Add(revenue)

		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(header))
	totalRow := len(dates) + 3
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", totalRow), "Total")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("%s%d", lastCol, totalRow), grand.StringFixed(2))

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return err
	}
	return f.SetCellStyle(summarySheet, "A1", "A1", style)
}
