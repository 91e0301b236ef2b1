package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"medvik/internal/domain"
	"medvik/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes account statements and reconciliation reports to xlsx
// files under the configured export path.
type Exporter struct {
	repo   domain.Repository
	path   string
	logger *zerolog.Logger
}

func NewExporter(repo domain.Repository, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		repo:   repo,
		path:   path,
		logger: logger,
	}
}

var headerStyle = &excelize.Style{
	Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	Font:      &excelize.Font{Bold: true},
	Alignment: &excelize.Alignment{Horizontal: "center"},
}

// ExportLedgerStatement writes one account's balance and posting history.
func (e *Exporter) ExportLedgerStatement(ctx context.Context, accountID int64) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	balance, err := e.repo.GetBalance(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("error getting balance: %v", err)
	}

	postings, err := e.repo.GetPostings(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("error getting postings: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Statement"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Account %d, balance %s %s",
		accountID, formatMinorUnits(balance.Balance), balance.Currency))

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.MergeCell(sheetName, "A1", "G1")
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headers := []string{"ID", "Type", "Amount", "Balance Before", "Balance After", "Transaction", "Created At"}
	e.writeHeaders(f, sheetName, 2, headers)

	for i, posting := range postings {
		row := i + 3
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), posting.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), posting.Type)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), formatMinorUnits(posting.Amount))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), formatMinorUnits(posting.BalanceBefore))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), formatMinorUnits(posting.BalanceAfter))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), posting.RelatedTransactionID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), posting.CreatedAt.Format("02.01.2006 15:04"))
	}

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	_ = f.SetColWidth(sheetName, "B", "E", 16)
	_ = f.SetColWidth(sheetName, "F", "F", 12)
	_ = f.SetColWidth(sheetName, "G", "G", 20)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("statement_%d_%s.xlsx", accountID, time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("statement file created")
	return filePath, nil
}

// ExportReconciliationReport writes the latest reconciliation records.
func (e *Exporter) ExportReconciliationReport(ctx context.Context, limit int) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	records, err := e.repo.GetReconciliationRecords(ctx, limit)
	if err != nil {
		return "", fmt.Errorf("error getting records: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Reconciliation"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Run", "Scope", "Subject", "Expected", "Actual", "Discrepancy", "Resolution", "Created At"}
	e.writeHeaders(f, sheetName, 1, headers)

	for i, record := range records {
		row := i + 2
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), record.RunID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), record.Scope)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), record.Subject)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), record.ExpectedValue)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), record.ActualValue)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), record.Discrepancy)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), record.ResolutionAction)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), record.CreatedAt.Format("02.01.2006 15:04"))

		if record.Scope == models.ScopeFinancial {
			style, styleErr := f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFC7CE"}, Pattern: 1},
			})
			if styleErr == nil {
				_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), style)
			}
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 12)
	_ = f.SetColWidth(sheetName, "C", "C", 25)
	_ = f.SetColWidth(sheetName, "D", "G", 14)
	_ = f.SetColWidth(sheetName, "H", "H", 20)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("reconciliation_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("reconciliation file created")
	return filePath, nil
}

func (e *Exporter) writeHeaders(f *excelize.File, sheetName string, row int, headers []string) {
	style, _ := f.NewStyle(headerStyle)
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

// formatMinorUnits renders an int64 minor-unit amount as a decimal string.
func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
