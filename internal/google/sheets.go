package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"medvik/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var errRowNotFound = errors.New("booking row not found")

// SheetsService mirrors bookings, ledger entries and reconciliation
// discrepancies into a reporting spreadsheet. Booking rows are keyed by
// reference in column A; ledger and discrepancy sheets are append-only.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

func NewSheetsService(credentialsFile, spreadsheetID string) (*SheetsService, error) {
	ctx := context.Background()

	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %v", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %v", err)
	}

	client := config.Client(ctx)

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %v", err)
	}

	service := &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		rowCache:      make(map[string]int),
	}

	// Warm up cache in background
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		service.WarmUpCache(ctx)
	}()

	return service, nil
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %v", err)
	}
	return nil
}

// GetServiceAccountEmail возвращает email сервисного аккаунта
func (s *SheetsService) GetServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}

	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}

	return creds.ClientEmail, nil
}

// WarmUpCache populates the row index cache from the reference column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if ref, ok := row[0].(string); ok && ref != "" {
			s.rowCache[ref] = i + 1
		}
	}
	return nil
}

func bookingRowValues(booking *models.Booking) []interface{} {
	return []interface{}{
		booking.Reference,
		booking.ID,
		booking.UserID,
		booking.HospitalID,
		booking.ResourceType,
		booking.PatientName,
		booking.Urgency,
		booking.WindowStart.Format("2006-01-02 15:04"),
		booking.WindowEnd.Format("2006-01-02 15:04"),
		booking.Status,
		booking.PaymentStatus,
		booking.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// UpsertBookingRow updates the booking's row or appends one if missing.
func (s *SheetsService) UpsertBookingRow(ctx context.Context, booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}

	rowIdx, err := s.findBookingRow(ctx, booking.Reference)
	if err != nil {
		if errors.Is(err, errRowNotFound) {
			return s.appendRow(ctx, "Bookings!A:A", bookingRowValues(booking))
		}
		return err
	}

	rangeData := fmt.Sprintf("Bookings!A%d:L%d", rowIdx, rowIdx)
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// AppendLedgerRow appends one transaction to the Ledger sheet.
func (s *SheetsService) AppendLedgerRow(ctx context.Context, txn *models.Transaction) error {
	if txn == nil {
		return fmt.Errorf("transaction is nil")
	}

	row := []interface{}{
		txn.ID,
		txn.BookingID,
		txn.UserID,
		txn.HospitalID,
		txn.Amount,
		txn.PlatformFee,
		txn.HospitalShare,
		txn.Status,
		txn.GatewayReference,
		txn.FailureReason,
		txn.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
	return s.appendRow(ctx, "Ledger!A:A", row)
}

// AppendDiscrepancyRow appends one reconciliation mismatch to the
// Discrepancies sheet.
func (s *SheetsService) AppendDiscrepancyRow(ctx context.Context, record *models.ReconciliationRecord) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}

	row := []interface{}{
		record.RunID,
		record.Scope,
		record.Subject,
		record.ExpectedValue,
		record.ActualValue,
		record.Discrepancy,
		record.ResolutionAction,
		record.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	return s.appendRow(ctx, "Discrepancies!A:A", row)
}

func (s *SheetsService) appendRow(ctx context.Context, rangeData string, row []interface{}) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{row},
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, rangeData, valueRange).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// findBookingRow locates the 1-based row index for a reference in column A.
func (s *SheetsService) findBookingRow(ctx context.Context, reference string) (int, error) {
	if reference == "" {
		return 0, fmt.Errorf("booking reference is required")
	}

	if row, ok := s.getCachedRow(reference); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, "Bookings!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if ref, ok := row[0].(string); ok && ref == reference {
			rowIdx := i + 1 // Values are zero-based; sheet rows are 1-based
			s.setCachedRow(reference, rowIdx)
			return rowIdx, nil
		}
	}

	return 0, errRowNotFound
}

func (s *SheetsService) getCachedRow(reference string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[reference]
	return row, ok
}

func (s *SheetsService) setCachedRow(reference string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[reference] = row
}
