package domain

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DecodeTransaction reads one JSON record, parses it and checks its value
// ranges. Numbers stay exact until ParseTransaction converts them.
func DecodeTransaction(r io.Reader) (Transaction, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var attrs map[string]any
	if err := dec.Decode(&attrs); err != nil {
		return Transaction{}, fmt.Errorf("%w: invalid JSON record: %v", ErrSchemaMismatch, err)
	}
	return ParseValidTransaction(attrs)
}

// ParseValidTransaction is ParseTransaction followed by Validate.
func ParseValidTransaction(attrs map[string]any) (Transaction, error) {
	tx, err := ParseTransaction(attrs)
	if err != nil {
		return Transaction{}, err
	}
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// Validate enforces the value ranges accepted for scoring. The first
// violation is returned as a *FieldError.
func (t *Transaction) Validate() error {
	checks := []struct {
		field string
		ok    bool
		rule  string
	}{
		{FieldTransactionID, strings.TrimSpace(t.TransactionID) != "", "is required"},
		{FieldUserID, strings.TrimSpace(t.UserID) != "", "is required"},
		{FieldAmount, t.Amount > 0, "must be greater than 0"},
		{FieldHour, t.Hour >= 0 && t.Hour <= 23, "must be between 0 and 23"},
		{FieldDayOfWeek, t.DayOfWeek >= 0 && t.DayOfWeek <= 6, "must be between 0 and 6"},
		{FieldMonth, t.Month >= 1 && t.Month <= 12, "must be between 1 and 12"},
		{FieldUserAge, t.UserAge > 0, "must be greater than 0"},
		{FieldAccountAgeDays, t.AccountAgeDays > 0, "must be greater than 0"},
		{FieldTransactionCountDay, t.TransactionCountDay >= 0, "must not be negative"},
		{FieldAmountLastHour, t.AmountLastHour >= 0, "must not be negative"},
		{FieldAmountLastDay, t.AmountLastDay >= 0, "must not be negative"},
		{FieldVelocity1h, t.Velocity1h >= 0, "must not be negative"},
		{FieldAvgAmount30d, t.AvgAmount30d >= 0, "must not be negative"},
		{FieldStdAmount30d, t.StdAmount30d >= 0, "must not be negative"},
		{FieldGeographicRisk, t.GeographicRisk >= 0 && t.GeographicRisk <= 1, "must be between 0 and 1"},
		{FieldDeviceRisk, t.DeviceRisk >= 0 && t.DeviceRisk <= 1, "must be between 0 and 1"},
		{FieldTimeSinceLastTransaction, t.TimeSinceLastTransaction >= 0, "must not be negative"},
	}
	for _, c := range checks {
		if !c.ok {
			return &FieldError{Field: c.field, Reason: c.rule}
		}
	}
	return nil
}

// Fingerprint identifies the record's content. Two records with the same
// transaction ID but different attributes have different fingerprints.
func (t *Transaction) Fingerprint() string {
	b, _ := json.Marshal(t)
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
