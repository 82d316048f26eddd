package dataset

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

var (
	merchantCategories = []string{
		"grocery", "restaurant", "gas_station", "retail", "online",
		"pharmacy", "entertainment", "travel", "telecom", "insurance",
	}
	deviceTypes    = []string{"mobile", "desktop", "tablet", "atm"}
	paymentMethods = []string{"card_chip", "card_swipe", "contactless", "online"}

	// typical spend range per category; amounts are log-normal around the midpoint
	amountRanges = map[string][2]float64{
		"grocery":       {10, 150},
		"restaurant":    {15, 100},
		"gas_station":   {20, 80},
		"retail":        {25, 300},
		"online":        {10, 500},
		"pharmacy":      {5, 50},
		"entertainment": {20, 200},
		"travel":        {100, 2000},
		"telecom":       {30, 150},
		"insurance":     {50, 500},
	}

	// daytime-heavy hour distribution
	hourWeights = []float64{
		0.01, 0.01, 0.01, 0.01, 0.01, 0.02,
		0.03, 0.05, 0.08, 0.10, 0.12, 0.12,
		0.10, 0.08, 0.06, 0.05, 0.04, 0.04,
		0.06, 0.08, 0.06, 0.04, 0.02, 0.01,
	}
)

// Generate returns a deterministic synthetic labeled dataset of n rows of
// which round(n*fraudRate) are fraudulent, in shuffled order.
func Generate(n int, fraudRate float64, seed int64) *domain.Dataset {
	rng := rand.New(rand.NewSource(seed))
	nFraud := int(math.Round(float64(n) * fraudRate))

	ds := &domain.Dataset{
		Records: make([]domain.Transaction, 0, n),
		Labels:  make([]int, 0, n),
	}
	for i := 0; i < n; i++ {
		if i < nFraud {
			ds.Records = append(ds.Records, Fraudulent(rng, i))
			ds.Labels = append(ds.Labels, 1)
		} else {
			ds.Records = append(ds.Records, Legitimate(rng, i))
			ds.Labels = append(ds.Labels, 0)
		}
	}

	rng.Shuffle(n, func(i, j int) {
		ds.Records[i], ds.Records[j] = ds.Records[j], ds.Records[i]
		ds.Labels[i], ds.Labels[j] = ds.Labels[j], ds.Labels[i]
	})
	return ds
}

// Legitimate generates an ordinary transaction.
func Legitimate(rng *rand.Rand, id int) domain.Transaction {
	category := merchantCategories[rng.Intn(len(merchantCategories))]
	r := amountRanges[category]
	amount := math.Exp(math.Log((r[0]+r[1])/2) + 0.5*rng.NormFloat64())

	return domain.Transaction{
		TransactionID:            fmt.Sprintf("txn_%06d", id),
		UserID:                   fmt.Sprintf("user_%d", 1000+rng.Intn(9000)),
		Amount:                   round2(amount),
		MerchantCategory:         category,
		Hour:                     weightedHour(rng),
		DayOfWeek:                rng.Intn(7),
		Month:                    1 + rng.Intn(12),
		UserAge:                  18 + rng.Intn(63),
		AccountAgeDays:           30 + rng.Intn(3621),
		TransactionCountDay:      poisson(rng, 3),
		AmountLastHour:           round2(rng.Float64() * 200),
		AmountLastDay:            round2(50 + rng.Float64()*950),
		Velocity1h:               rng.Intn(6),
		AvgAmount30d:             round2(50 + rng.Float64()*450),
		StdAmount30d:             round2(20 + rng.Float64()*180),
		GeographicRisk:           rng.Float64() * 0.3,
		DeviceRisk:               rng.Float64() * 0.2,
		DeviceType:               deviceTypes[rng.Intn(len(deviceTypes))],
		PaymentMethod:            paymentMethods[rng.Intn(len(paymentMethods))],
		TimeSinceLastTransaction: 10 + rng.Intn(1431),
	}
}

// Fraudulent generates a transaction following one of the known fraud
// patterns: amount spike, velocity attack, geographic anomaly, night-time
// activity, or unusual merchant spend.
func Fraudulent(rng *rand.Rand, id int) domain.Transaction {
	tx := Legitimate(rng, id)
	switch rng.Intn(5) {
	case 0: // amount spike
		tx.Amount = round2(1000 + rng.Float64()*9000)
		tx.GeographicRisk = 0.6 + rng.Float64()*0.4
	case 1: // velocity attack
		tx.Velocity1h = 8 + rng.Intn(13)
		tx.TransactionCountDay = 15 + rng.Intn(36)
		tx.TimeSinceLastTransaction = 1 + rng.Intn(5)
	case 2: // geographic anomaly
		tx.GeographicRisk = 0.7 + rng.Float64()*0.3
		tx.DeviceRisk = 0.5 + rng.Float64()*0.4
	case 3: // night-time activity
		tx.Hour = 1 + rng.Intn(5)
		tx.DayOfWeek = []int{0, 6}[rng.Intn(2)]
	case 4: // unusual merchant spend
		tx.MerchantCategory = []string{"online", "entertainment"}[rng.Intn(2)]
		tx.Amount = round2(500 + rng.Float64()*4500)
		tx.DeviceRisk = 0.6 + rng.Float64()*0.4
	}
	return tx
}

func weightedHour(rng *rand.Rand) int {
	total := 0.0
	for _, w := range hourWeights {
		total += w
	}
	x := rng.Float64() * total
	for h, w := range hourWeights {
		if x < w {
			return h
		}
		x -= w
	}
	return 23
}

func poisson(rng *rand.Rand, lambda float64) int {
	l := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
