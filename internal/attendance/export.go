package attendance

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Attendance"

var exportHeader = []any{
	"Date", "Student ID", "Name", "Course", "Section", "Status",
	"Check In", "Check Out", "Location", "SMS Sent", "Verified By",
}

// WriteXLSX writes records as a single-sheet workbook. Times are rendered in
// loc.
func WriteXLSX(w io.Writer, records []Record, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return errors.Wrap(err, "write header")
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return errors.Wrap(err, "header style")
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return errors.Wrap(err, "apply header style")
	}

	for i, r := range records {
		checkOut := ""
		if r.CheckOut != nil {
			checkOut = r.CheckOut.In(loc).Format("15:04:05")
		}
		sms := "No"
		if r.SMSSent {
			sms = "Yes"
		}
		row := []any{
			r.Date, r.StudentID, r.StudentName, r.Course, r.Section, string(r.Status),
			r.CheckIn.In(loc).Format("15:04:05"), checkOut, r.Location, sms, r.VerifiedBy,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "cell name")
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+2)
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "K", 16); err != nil {
		return errors.Wrap(err, "column width")
	}

	_, err = f.WriteTo(w)
	return errors.Wrap(err, "write workbook")
}
