package phenomorph

import (
	"fmt"
	"math"
	"math/rand"
)

// Split is a partition of an annotation set into a training and a test subset.
type Split struct {
	Train []Record
	Test  []Record
	Ratio float64
}

// SplitOptions alters the default order-preserving partition.
type SplitOptions struct {
	// Shuffle permutes the records before partitioning them.
	// The permutation depends only on Seed, so the split remains reproducible.
	Shuffle bool
	Seed    int64
}

// TrainEmpty reports whether the ratio left no record for training.
func (s Split) TrainEmpty() bool { return len(s.Train) == 0 }

// TestEmpty reports whether the ratio left no record for testing.
func (s Split) TestEmpty() bool { return len(s.Test) == 0 }

// SplitRecords partitions the records into train and test subsets. The first
// round(ratio*len(records)) records form the training set and the remaining ones the test set,
// hence calling it twice with the same input always yields the same partition.
// One of the subsets may end up empty; this is reported by the Split, not as an error.
func SplitRecords(records []Record, ratio float64, opts ...SplitOptions) (Split, error) {
	if err := validateRatio(ratio); err != nil {
		return Split{}, err
	}

	ordered := make([]Record, len(records))
	copy(ordered, records)

	for _, opt := range opts {
		if opt.Shuffle {
			rnd := rand.New(rand.NewSource(opt.Seed))
			rnd.Shuffle(len(ordered), func(i, j int) {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			})
		}
	}

	n := int(math.Round(ratio * float64(len(ordered))))
	return Split{
		Train: ordered[:n:n],
		Test:  ordered[n:],
		Ratio: ratio,
	}, nil
}

func validateRatio(ratio float64) error {
	if math.IsNaN(ratio) || ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("%w: split ratio must be in the (0, 1) range, got %v", ErrInvalidConfiguration, ratio)
	}
	return nil
}
