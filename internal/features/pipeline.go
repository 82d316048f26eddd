package features

import (
	"fmt"
	"slices"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Pipeline is the frozen transformation state: categorical encoders plus
// scaler. It is produced once by Fit and never mutated afterwards.
type Pipeline struct {
	Features []string `json:"features"`
	Encoders Encoders `json:"encoders"`
	Scaler   *Scaler  `json:"scaler"`
}

// Fit fits encoders and scaler on the training records and returns the
// pipeline together with the scaled training matrix.
func Fit(records []domain.Transaction) (*Pipeline, [][]float64, error) {
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: no records to fit", domain.ErrTrainingData)
	}

	enc := make(Encoders, len(Categorical))
	for _, field := range Categorical {
		values := make([]string, len(records))
		for i := range records {
			values[i] = categoryValue(&records[i], field)
		}
		enc[field] = FitEncoder(values)
	}

	raw := make([][]float64, len(records))
	for i := range records {
		v, err := Raw(&records[i], enc)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		raw[i] = v
	}

	scaler, err := FitScaler(raw)
	if err != nil {
		return nil, nil, err
	}

	p := &Pipeline{
		Features: slices.Clone(Names),
		Encoders: enc,
		Scaler:   scaler,
	}

	scaled := make([][]float64, len(raw))
	for i, v := range raw {
		if scaled[i], err = scaler.Transform(v); err != nil {
			return nil, nil, err
		}
	}
	return p, scaled, nil
}

// Transform maps one raw record to its scaled feature vector.
func (p *Pipeline) Transform(tx *domain.Transaction) ([]float64, error) {
	if p == nil || !p.Scaler.Fitted() || p.Encoders == nil {
		return nil, fmt.Errorf("%w: feature pipeline has not been fitted", domain.ErrUninitializedModel)
	}
	raw, err := Raw(tx, p.Encoders)
	if err != nil {
		return nil, err
	}
	return p.Scaler.Transform(raw)
}

// TransformBatch transforms each record independently. errs[i] is non-nil
// when record i could not be transformed; its vector is then nil.
func (p *Pipeline) TransformBatch(txs []domain.Transaction) (vecs [][]float64, errs []error) {
	vecs = make([][]float64, len(txs))
	errs = make([]error, len(txs))
	for i := range txs {
		vecs[i], errs[i] = p.Transform(&txs[i])
	}
	return vecs, errs
}

// Validate checks that the pipeline was fitted with the feature ordering this
// build produces.
func (p *Pipeline) Validate() error {
	if p == nil || !p.Scaler.Fitted() || p.Encoders == nil {
		return fmt.Errorf("%w: feature pipeline is incomplete", domain.ErrUninitializedModel)
	}
	if !slices.Equal(p.Features, Names) {
		return fmt.Errorf("%w: artifact feature ordering %v does not match %v", domain.ErrSchemaMismatch, p.Features, Names)
	}
	if len(p.Scaler.Mean) != Width {
		return fmt.Errorf("%w: scaler width %d, expected %d", domain.ErrSchemaMismatch, len(p.Scaler.Mean), Width)
	}
	for _, field := range Categorical {
		if p.Encoders[field] == nil {
			return fmt.Errorf("%w: missing encoder for %s", domain.ErrSchemaMismatch, field)
		}
	}
	return nil
}

func categoryValue(tx *domain.Transaction, field string) string {
	switch field {
	case domain.FieldMerchantCategory:
		return tx.MerchantCategory
	case domain.FieldDeviceType:
		return tx.DeviceType
	case domain.FieldPaymentMethod:
		return tx.PaymentMethod
	}
	return ""
}
