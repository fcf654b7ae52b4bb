package reports

import (
	"context"
	"fmt"
	"io"
	"strings"

	"bitbucket.org/mmdatafocus/fleet_backend/compliance"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"github.com/xuri/excelize/v2"
)

type driverComplianceRow struct {
	DriverName          string
	Role                string
	ComplianceScore     int
	Compliant           bool
	ExpiredCount        int
	ExpiringCount       int
	MissingCount        int
	MissingRequiredDocs []string
}

func getDriverComplianceRows(ctx context.Context) ([]driverComplianceRow, error) {
	driverIds, err := models.ListActiveDriverIds(ctx)
	if err != nil {
		return nil, err
	}

	drivers, err := models.ListDriversByIds(ctx, driverIds)
	if err != nil {
		return nil, err
	}

	evals, err := compliance.EvaluateDrivers(ctx, driverIds)
	if err != nil {
		return nil, err
	}
	evalsByDriver := make(map[int]*compliance.DriverEvaluation, len(evals))
	for _, e := range evals {
		evalsByDriver[e.DriverId] = e
	}

	rows := make([]driverComplianceRow, 0, len(drivers))
	for _, d := range drivers {
		eval := evalsByDriver[d.ID]
		if eval == nil {
			continue
		}
		rows = append(rows, driverComplianceRow{
			DriverName:          d.Name,
			Role:                d.Role,
			ComplianceScore:     eval.ComplianceScore,
			Compliant:           eval.Compliant,
			ExpiredCount:        eval.ExpiredCount,
			ExpiringCount:       eval.ExpiringCount,
			MissingCount:        eval.MissingCount,
			MissingRequiredDocs: eval.MissingRequiredDocs,
		})
	}
	return rows, nil
}

// ExportDriverComplianceXlsx writes the per-driver compliance report as an
// xlsx workbook.
func ExportDriverComplianceXlsx(ctx context.Context, w io.Writer) error {
	rows, err := getDriverComplianceRows(ctx)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	// Add headers
	f.SetCellValue("Sheet1", "A1", "Driver")
	f.SetCellValue("Sheet1", "B1", "Role")
	f.SetCellValue("Sheet1", "C1", "ComplianceScore")
	f.SetCellValue("Sheet1", "D1", "Compliant")
	f.SetCellValue("Sheet1", "E1", "Expired")
	f.SetCellValue("Sheet1", "F1", "Expiring")
	f.SetCellValue("Sheet1", "G1", "Missing")
	f.SetCellValue("Sheet1", "H1", "MissingDocTypes")

	// Add data
	for i, r := range rows {
		f.SetCellValue("Sheet1", "A"+fmt.Sprint(i+2), r.DriverName)
		f.SetCellValue("Sheet1", "B"+fmt.Sprint(i+2), r.Role)
		f.SetCellValue("Sheet1", "C"+fmt.Sprint(i+2), r.ComplianceScore)
		f.SetCellValue("Sheet1", "D"+fmt.Sprint(i+2), r.Compliant)
		f.SetCellValue("Sheet1", "E"+fmt.Sprint(i+2), r.ExpiredCount)
		f.SetCellValue("Sheet1", "F"+fmt.Sprint(i+2), r.ExpiringCount)
		f.SetCellValue("Sheet1", "G"+fmt.Sprint(i+2), r.MissingCount)
		f.SetCellValue("Sheet1", "H"+fmt.Sprint(i+2), strings.Join(r.MissingRequiredDocs, ", "))
	}

	return f.Write(w)
}
