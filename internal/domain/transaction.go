package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Attribute names of a transaction record. They double as CSV column names
// and as variable names in explanation factor expressions.
const (
	FieldTransactionID            = "transaction_id"
	FieldUserID                   = "user_id"
	FieldTimestamp                = "timestamp"
	FieldAmount                   = "amount"
	FieldMerchantCategory         = "merchant_category"
	FieldHour                     = "hour"
	FieldDayOfWeek                = "day_of_week"
	FieldMonth                    = "month"
	FieldUserAge                  = "user_age"
	FieldAccountAgeDays           = "account_age_days"
	FieldTransactionCountDay      = "transaction_count_day"
	FieldAmountLastHour           = "amount_last_hour"
	FieldAmountLastDay            = "amount_last_day"
	FieldVelocity1h               = "velocity_1h"
	FieldAvgAmount30d             = "avg_amount_30d"
	FieldStdAmount30d             = "std_amount_30d"
	FieldGeographicRisk           = "geographic_risk"
	FieldDeviceRisk               = "device_risk"
	FieldDeviceType               = "device_type"
	FieldPaymentMethod            = "payment_method"
	FieldTimeSinceLastTransaction = "time_since_last_transaction"

	// FieldLabel is the binary fraud label carried by historical datasets.
	FieldLabel = "is_fraud"
)

// Transaction is a raw transaction record as received from a payment flow.
// It is immutable once parsed: one record produces exactly one feature vector.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`

	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchant_category"`

	// Time of day / calendar, already derived from the timestamp upstream
	Hour      int `json:"hour"`
	DayOfWeek int `json:"day_of_week"` // 0=Monday
	Month     int `json:"month"`

	// Customer profile
	UserAge        int `json:"user_age"`
	AccountAgeDays int `json:"account_age_days"`

	// Velocity counters and rolling statistics
	TransactionCountDay      int     `json:"transaction_count_day"`
	AmountLastHour           float64 `json:"amount_last_hour"`
	AmountLastDay            float64 `json:"amount_last_day"`
	Velocity1h               int     `json:"velocity_1h"`
	AvgAmount30d             float64 `json:"avg_amount_30d"`
	StdAmount30d             float64 `json:"std_amount_30d"`
	TimeSinceLastTransaction int     `json:"time_since_last_transaction"` // minutes

	// Risk signals
	GeographicRisk float64 `json:"geographic_risk"`
	DeviceRisk     float64 `json:"device_risk"`

	DeviceType    string `json:"device_type"`
	PaymentMethod string `json:"payment_method"`
}

// Attributes returns the record as a flat attribute map keyed by field name.
func (t *Transaction) Attributes() map[string]any {
	return map[string]any{
		FieldTransactionID:            t.TransactionID,
		FieldUserID:                   t.UserID,
		FieldAmount:                   t.Amount,
		FieldMerchantCategory:         t.MerchantCategory,
		FieldHour:                     int64(t.Hour),
		FieldDayOfWeek:                int64(t.DayOfWeek),
		FieldMonth:                    int64(t.Month),
		FieldUserAge:                  int64(t.UserAge),
		FieldAccountAgeDays:           int64(t.AccountAgeDays),
		FieldTransactionCountDay:      int64(t.TransactionCountDay),
		FieldAmountLastHour:           t.AmountLastHour,
		FieldAmountLastDay:            t.AmountLastDay,
		FieldVelocity1h:               int64(t.Velocity1h),
		FieldAvgAmount30d:             t.AvgAmount30d,
		FieldStdAmount30d:             t.StdAmount30d,
		FieldGeographicRisk:           t.GeographicRisk,
		FieldDeviceRisk:               t.DeviceRisk,
		FieldDeviceType:               t.DeviceType,
		FieldPaymentMethod:            t.PaymentMethod,
		FieldTimeSinceLastTransaction: int64(t.TimeSinceLastTransaction),
	}
}

// ParseTransaction builds a Transaction from a flat attribute mapping such as a
// decoded JSON object or a CSV row. Required numeric fields are never defaulted:
// a missing, non-numeric or non-finite value fails with ErrSchemaMismatch.
func ParseTransaction(attrs map[string]any) (Transaction, error) {
	r := attrReader{attrs: attrs}

	tx := Transaction{
		TransactionID: r.optionalString(FieldTransactionID),
		UserID:        r.optionalString(FieldUserID),
		Timestamp:     r.optionalTime(FieldTimestamp),

		Amount:           r.float(FieldAmount),
		MerchantCategory: r.category(FieldMerchantCategory),

		Hour:      r.int(FieldHour),
		DayOfWeek: r.int(FieldDayOfWeek),
		Month:     r.int(FieldMonth),

		UserAge:        r.int(FieldUserAge),
		AccountAgeDays: r.int(FieldAccountAgeDays),

		TransactionCountDay:      r.int(FieldTransactionCountDay),
		AmountLastHour:           r.float(FieldAmountLastHour),
		AmountLastDay:            r.float(FieldAmountLastDay),
		Velocity1h:               r.int(FieldVelocity1h),
		AvgAmount30d:             r.float(FieldAvgAmount30d),
		StdAmount30d:             r.float(FieldStdAmount30d),
		TimeSinceLastTransaction: r.int(FieldTimeSinceLastTransaction),

		GeographicRisk: r.float(FieldGeographicRisk),
		DeviceRisk:     r.float(FieldDeviceRisk),

		DeviceType:    r.category(FieldDeviceType),
		PaymentMethod: r.category(FieldPaymentMethod),
	}

	if r.err != nil {
		return Transaction{}, r.err
	}
	return tx, nil
}

// attrReader reads typed values out of an attribute map, keeping the first error.
type attrReader struct {
	attrs map[string]any
	err   error
}

func (r *attrReader) fail(field, reason string) {
	if r.err == nil {
		r.err = &FieldError{Field: field, Reason: reason}
	}
}

func (r *attrReader) float(field string) float64 {
	v, ok := r.attrs[field]
	if !ok || v == nil {
		r.fail(field, "is required")
		return 0
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			r.fail(field, "is not a number")
			return 0
		}
		f = parsed
	default:
		r.fail(field, fmt.Sprintf("must be numeric, got %T", v))
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		r.fail(field, "must be finite")
		return 0
	}
	return f
}

func (r *attrReader) int(field string) int {
	f := r.float(field)
	if f != math.Trunc(f) {
		r.fail(field, "must be an integer")
		return 0
	}
	if math.Abs(f) > math.MaxInt32 {
		r.fail(field, "is out of range")
		return 0
	}
	return int(f)
}

func (r *attrReader) category(field string) string {
	v, ok := r.attrs[field]
	if !ok || v == nil {
		r.fail(field, "is required")
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		r.fail(field, fmt.Sprintf("must be a scalar, got %T", v))
		return ""
	}
}

func (r *attrReader) optionalString(field string) string {
	v, ok := r.attrs[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r *attrReader) optionalTime(field string) time.Time {
	switch v := r.attrs[field].(type) {
	case time.Time:
		return v
	case string:
		if v == "" {
			return time.Time{}
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts
			}
		}
		r.fail(field, "is not a recognised timestamp")
	}
	return time.Time{}
}

// Dataset is a labeled historical dataset used for training.
// Labels[i] is the fraud label (0 or 1) of Records[i].
type Dataset struct {
	Records []Transaction
	Labels  []int
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Positives returns the number of fraud-labeled rows.
func (d *Dataset) Positives() int {
	n := 0
	for _, y := range d.Labels {
		if y == 1 {
			n++
		}
	}
	return n
}
