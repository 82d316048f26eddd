// Package dataset reads and writes labeled transaction datasets and generates
// synthetic ones.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Columns is the column order written by WriteCSV.
var Columns = []string{
	domain.FieldTransactionID, domain.FieldUserID, domain.FieldAmount, domain.FieldMerchantCategory,
	domain.FieldHour, domain.FieldDayOfWeek, domain.FieldMonth, domain.FieldUserAge,
	domain.FieldAccountAgeDays, domain.FieldTransactionCountDay, domain.FieldAmountLastHour,
	domain.FieldAmountLastDay, domain.FieldVelocity1h, domain.FieldAvgAmount30d,
	domain.FieldStdAmount30d, domain.FieldGeographicRisk, domain.FieldDeviceRisk,
	domain.FieldDeviceType, domain.FieldPaymentMethod, domain.FieldTimeSinceLastTransaction,
	domain.FieldLabel,
}

// columns kept verbatim even when they look numeric
var textColumns = map[string]bool{
	domain.FieldTransactionID: true,
	domain.FieldUserID:        true,
	domain.FieldTimestamp:     true,
}

// LoadCSV reads a labeled dataset from path.
func LoadCSV(path string) (*domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open dataset: %v", domain.ErrTrainingData, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a labeled dataset. The header row names the columns; extra
// columns are ignored. The is_fraud column is required and must hold 0 or 1.
func ReadCSV(r io.Reader) (*domain.Dataset, error) {
	records, labels, err := read(r, true)
	if err != nil {
		return nil, err
	}
	return &domain.Dataset{Records: records, Labels: labels}, nil
}

// ReadRecords parses transactions without requiring a label column. When the
// label column is present its values are returned too, otherwise labels is nil.
func ReadRecords(r io.Reader) ([]domain.Transaction, []int, error) {
	return read(r, false)
}

func read(r io.Reader, requireLabel bool) ([]domain.Transaction, []int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read header: %v", domain.ErrTrainingData, err)
	}
	for i, col := range header {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	labelCol := -1
	for i, col := range header {
		if col == domain.FieldLabel {
			labelCol = i
		}
	}
	if requireLabel && labelCol < 0 {
		return nil, nil, fmt.Errorf("%w: missing %q column", domain.ErrTrainingData, domain.FieldLabel)
	}

	var (
		records []domain.Transaction
		labels  []int
	)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", domain.ErrTrainingData, line, err)
		}

		attrs := make(map[string]any, len(header))
		for i, cell := range row {
			if i == labelCol || i >= len(header) {
				continue
			}
			attrs[header[i]] = cellValue(header[i], cell)
		}

		tx, err := domain.ParseTransaction(attrs)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", domain.ErrTrainingData, line, err)
		}
		records = append(records, tx)

		if labelCol >= 0 {
			y, err := parseLabel(row[labelCol])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d: %v", domain.ErrTrainingData, line, err)
			}
			labels = append(labels, y)
		}
	}
	return records, labels, nil
}

func cellValue(column, cell string) any {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil
	}
	if textColumns[column] {
		return cell
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	return cell
}

func parseLabel(cell string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "0", "0.0", "false":
		return 0, nil
	case "1", "1.0", "true":
		return 1, nil
	}
	return 0, fmt.Errorf("%s must be 0 or 1, got %q", domain.FieldLabel, cell)
}

// WriteCSV writes ds with a header in Columns order.
func WriteCSV(w io.Writer, ds *domain.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for i := range ds.Records {
		if err := cw.Write(Row(&ds.Records[i], ds.Labels[i])); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes ds to path.
func SaveCSV(path string, ds *domain.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Row renders a record in Columns order.
func Row(tx *domain.Transaction, label int) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	i := strconv.Itoa
	return []string{
		tx.TransactionID, tx.UserID, f(tx.Amount), tx.MerchantCategory,
		i(tx.Hour), i(tx.DayOfWeek), i(tx.Month), i(tx.UserAge),
		i(tx.AccountAgeDays), i(tx.TransactionCountDay), f(tx.AmountLastHour),
		f(tx.AmountLastDay), i(tx.Velocity1h), f(tx.AvgAmount30d),
		f(tx.StdAmount30d), f(tx.GeographicRisk), f(tx.DeviceRisk),
		tx.DeviceType, tx.PaymentMethod, i(tx.TimeSinceLastTransaction),
		i(label),
	}
}
