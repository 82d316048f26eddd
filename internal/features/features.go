// Package features turns raw transaction records into model feature vectors.
//
// A Pipeline is fitted once on training data and frozen. The same Pipeline
// value transforms records at training and at serving time, so the feature
// ordering and encodings cannot drift between the two.
package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Epsilon keeps the ratio features finite when the baseline is zero.
const Epsilon = 1.0

// Categorical attributes, in encoding order.
var Categorical = []string{
	domain.FieldMerchantCategory,
	domain.FieldDeviceType,
	domain.FieldPaymentMethod,
}

// Names is the feature ordering. It is stored in every artifact and must be
// reproduced exactly at serving time.
var Names = []string{
	"amount",
	"amount_log",
	"hour",
	"day_of_week",
	"month",
	"user_age",
	"account_age_days",
	"transaction_count_day",
	"amount_last_hour",
	"amount_last_day",
	"velocity_1h",
	"avg_amount_30d",
	"std_amount_30d",
	"geographic_risk",
	"device_risk",
	"time_since_last_transaction",
	"is_weekend",
	"is_night",
	"velocity_risk",
	"amount_deviation",
	"total_risk_score",
	"merchant_category_encoded",
	"device_type_encoded",
	"payment_method_encoded",
}

// Width is the length of every feature vector.
var Width = len(Names)

// Raw derives the unscaled feature vector of a record.
func Raw(tx *domain.Transaction, enc Encoders) ([]float64, error) {
	if enc == nil {
		return nil, fmt.Errorf("%w: categorical encoders not fitted", domain.ErrUninitializedModel)
	}

	v := make([]float64, 0, Width)
	v = append(v,
		tx.Amount,
		math.Log1p(tx.Amount),
		float64(tx.Hour),
		float64(tx.DayOfWeek),
		float64(tx.Month),
		float64(tx.UserAge),
		float64(tx.AccountAgeDays),
		float64(tx.TransactionCountDay),
		tx.AmountLastHour,
		tx.AmountLastDay,
		float64(tx.Velocity1h),
		tx.AvgAmount30d,
		tx.StdAmount30d,
		tx.GeographicRisk,
		tx.DeviceRisk,
		float64(tx.TimeSinceLastTransaction),
		indicator(tx.DayOfWeek == 5 || tx.DayOfWeek == 6),
		indicator(tx.Hour >= 0 && tx.Hour <= 5),
		float64(tx.Velocity1h)/(tx.AvgAmount30d+Epsilon),
		math.Abs(tx.Amount-tx.AvgAmount30d)/(tx.StdAmount30d+Epsilon),
		tx.GeographicRisk+tx.DeviceRisk,
		float64(enc.Code(domain.FieldMerchantCategory, tx.MerchantCategory)),
		float64(enc.Code(domain.FieldDeviceType, tx.DeviceType)),
		float64(enc.Code(domain.FieldPaymentMethod, tx.PaymentMethod)),
	)

	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, &domain.FieldError{Field: Names[i], Reason: "derives to a non-finite value"}
		}
	}
	return v, nil
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
