package normalizer

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	ErrMissingName     = errors.New("record has no name")
	ErrMissingIdentity = errors.New("voucher has neither guid nor voucher number")
)

// Failure is one dropped input record
type Failure struct {
	Index  int    `json:"index"`
	Input  Raw    `json:"-"`
	Reason string `json:"reason"`
}

// Batch is the outcome of normalizing a list of raw records. Failed records
// never reach Succeeded.
type Batch[T any] struct {
	Succeeded []T
	Failed    []Failure
}

// MapFunc projects one raw record into its normalized form
type MapFunc[T any] func(Raw) (T, error)

// Normalize maps every record independently. A record that errors or panics is
// dropped with a warning carrying its index; the rest of the batch proceeds.
func Normalize[T any](entity string, raws []Raw, fn MapFunc[T], logger logrus.FieldLogger) Batch[T] {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	batch := Batch[T]{Succeeded: make([]T, 0, len(raws))}
	for i, raw := range raws {
		rec, err := safeMap(fn, raw)
		if err != nil {
			batch.Failed = append(batch.Failed, Failure{Index: i, Input: raw, Reason: err.Error()})
			logger.WithFields(logrus.Fields{
				"entity": entity,
				"index":  i,
			}).Warnf("dropping record: %v", err)
			continue
		}
		batch.Succeeded = append(batch.Succeeded, rec)
	}
	return batch
}

func safeMap[T any](fn MapFunc[T], raw Raw) (rec T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while mapping record: %v", r)
		}
	}()
	return fn(raw)
}
