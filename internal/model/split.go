package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// StratifiedSplit partitions row indices into train and test sets so that
// each class keeps its proportion. Every class with at least two rows gets at
// least one row on each side.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0,1), got %v", testFraction)
	}

	rng := rand.New(rand.NewSource(seed))
	pos, neg := splitByLabel(y)

	for _, class := range [][]int{neg, pos} {
		if len(class) < 2 {
			return nil, nil, fmt.Errorf("%w: each class needs at least 2 rows to split, got %d", domain.ErrTrainingData, len(class))
		}
		shuffled := append([]int(nil), class...)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		nTest := int(math.Round(float64(len(shuffled)) * testFraction))
		nTest = max(1, min(nTest, len(shuffled)-1))

		test = append(test, shuffled[:nTest]...)
		train = append(train, shuffled[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
