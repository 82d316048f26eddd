// Package testutil provides shared test infrastructure: deterministic labeled
// transaction fixtures and database helpers.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/opensource-finance/fraudguard/internal/dataset"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Dataset returns a deterministic labeled dataset of n rows of which
// round(n*fraudRate) are fraudulent.
func Dataset(n int, fraudRate float64, seed int64) *domain.Dataset {
	return dataset.Generate(n, fraudRate, seed)
}

// Suspicious is a large night-time payment from a risky location during a
// burst of activity.
func Suspicious() domain.Transaction {
	return domain.Transaction{
		TransactionID:            "txn_suspicious",
		UserID:                   "user_4242",
		Amount:                   5000,
		MerchantCategory:         "online",
		Hour:                     2,
		DayOfWeek:                2,
		Month:                    6,
		UserAge:                  35,
		AccountAgeDays:           400,
		TransactionCountDay:      20,
		AmountLastHour:           150,
		AmountLastDay:            600,
		Velocity1h:               12,
		AvgAmount30d:             250,
		StdAmount30d:             100,
		GeographicRisk:           0.9,
		DeviceRisk:               0.1,
		DeviceType:               "mobile",
		PaymentMethod:            "online",
		TimeSinceLastTransaction: 3,
	}
}

// Benign is a small daytime purchase matching the customer's usual profile.
func Benign() domain.Transaction {
	return domain.Transaction{
		TransactionID:            "txn_benign",
		UserID:                   "user_1234",
		Amount:                   25,
		MerchantCategory:         "pharmacy",
		Hour:                     14,
		DayOfWeek:                2,
		Month:                    6,
		UserAge:                  45,
		AccountAgeDays:           1500,
		TransactionCountDay:      3,
		AmountLastHour:           100,
		AmountLastDay:            500,
		Velocity1h:               1,
		AvgAmount30d:             250,
		StdAmount30d:             100,
		GeographicRisk:           0.05,
		DeviceRisk:               0.05,
		DeviceType:               "mobile",
		PaymentMethod:            "card_chip",
		TimeSinceLastTransaction: 600,
	}
}

// WriteCSV writes ds to a CSV file in a test temp dir and returns its path.
func WriteCSV(t testing.TB, ds *domain.Dataset) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "transactions.csv")
	if err := dataset.SaveCSV(path, ds); err != nil {
		t.Fatalf("testutil: write csv: %v", err)
	}
	return path
}
