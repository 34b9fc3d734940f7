package models

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExportValidationRunExcel renders one validation run as a two-sheet workbook
// (field comparisons + rule outcomes) for auditors.
func ExportValidationRunExcel(result *ValidationRunResult) ([]byte, error) {
	f := excelize.NewFile()

	fieldSheet := "Fields"
	if err := f.SetSheetName("Sheet1", fieldSheet); err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(fieldSheet, "A1", "ReportType")
	f.SetCellValue(fieldSheet, "B1", "FieldName")
	f.SetCellValue(fieldSheet, "C1", "Status")
	f.SetCellValue(fieldSheet, "D1", "CurrentValue")
	f.SetCellValue(fieldSheet, "E1", "ExpectedValue")
	f.SetCellValue(fieldSheet, "F1", "Variance")
	f.SetCellValue(fieldSheet, "G1", "Detail")

	// Add data
	for i, r := range result.FieldResults {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(fieldSheet, "A"+row, r.ReportType)
		f.SetCellValue(fieldSheet, "B"+row, r.FieldName)
		f.SetCellValue(fieldSheet, "C"+row, string(r.Status))
		f.SetCellValue(fieldSheet, "D"+row, r.CurrentValue)
		f.SetCellValue(fieldSheet, "E"+row, r.ExpectedValue)
		if r.Variance != nil {
			f.SetCellValue(fieldSheet, "F"+row, r.Variance.String())
		}
		f.SetCellValue(fieldSheet, "G"+row, r.Detail)
	}

	ruleSheet := "Rules"
	if _, err := f.NewSheet(ruleSheet); err != nil {
		return nil, err
	}
	f.SetCellValue(ruleSheet, "A1", "RuleId")
	f.SetCellValue(ruleSheet, "B1", "Priority")
	f.SetCellValue(ruleSheet, "C1", "Valid")
	f.SetCellValue(ruleSheet, "D1", "MaxDeviation")
	f.SetCellValue(ruleSheet, "E1", "Summary")

	for i, r := range result.RuleResults {
		row := fmt.Sprint(i + 2)
		f.SetCellValue(ruleSheet, "A"+row, r.RuleId)
		f.SetCellValue(ruleSheet, "B"+row, string(r.Priority))
		f.SetCellValue(ruleSheet, "C"+row, r.IsValid)
		if r.MaxDeviation != nil {
			f.SetCellValue(ruleSheet, "D"+row, r.MaxDeviation.String())
		}
		f.SetCellValue(ruleSheet, "E"+row, r.Summary)
	}

	summarySheet := "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	f.SetCellValue(summarySheet, "A1", "ProfitYear")
	f.SetCellValue(summarySheet, "B1", result.ProfitYear)
	f.SetCellValue(summarySheet, "A2", "EvaluatedAtUtc")
	f.SetCellValue(summarySheet, "B2", result.EvaluatedAtUtc.Format("2006-01-02 15:04:05"))
	f.SetCellValue(summarySheet, "A3", "TotalValidations")
	f.SetCellValue(summarySheet, "B3", result.TotalValidations)
	f.SetCellValue(summarySheet, "A4", "PassedValidations")
	f.SetCellValue(summarySheet, "B4", result.PassedValidations)
	f.SetCellValue(summarySheet, "A5", "FailedValidations")
	f.SetCellValue(summarySheet, "B5", result.FailedValidations)
	f.SetCellValue(summarySheet, "A6", "BlocksFinalization")
	f.SetCellValue(summarySheet, "B6", result.BlocksFinalization)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
