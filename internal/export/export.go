package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tolka/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// BookingSource supplies the rows for a report.
type BookingSource interface {
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
}

// Exporter writes booking reports as Excel files under the configured
// export directory.
type Exporter struct {
	source BookingSource
	path   string
	logger *zerolog.Logger
}

func NewExporter(source BookingSource, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		source: source,
		path:   path,
		logger: logger,
	}
}

var reportHeaders = []string{
	"ID", "Customer", "Status", "Language", "Due", "Duration (min)",
	"Session Time", "Town", "Attendance", "Reference", "Ended At", "Updated At",
}

// BookingsReport writes one sheet with all bookings due in the range and
// returns the file path.
func (e *Exporter) BookingsReport(ctx context.Context, startDate, endDate time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.source.GetBookingsByDateRange(ctx, startDate, endDate)
	if err != nil {
		return "", fmt.Errorf("error getting bookings: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Bookings"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Bookings: %s - %s",
		startDate.Format("2006-01-02"), endDate.Format("2006-01-02")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range reportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, b := range bookings {
		row := rowIdx + 3
		endAt := ""
		if b.EndAt != nil {
			endAt = b.EndAt.Format("2006-01-02 15:04")
		}
		values := []interface{}{
			b.ID,
			b.CustomerID,
			b.Status,
			b.FromLanguageID,
			b.Due.Format("2006-01-02 15:04"),
			b.Duration,
			b.SessionTime,
			b.Town,
			b.AttendanceType,
			b.Reference,
			endAt,
			b.UpdatedAt.Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "L", 18)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.MergeCell(sheetName, "A1", "L1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		startDate.Format("2006-01-02"),
		endDate.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Excel file created")
	return filePath, nil
}
