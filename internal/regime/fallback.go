package regime

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// fallbackClassifier tries primary and answers with fallback whenever the
// primary fails or panics.
type fallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

// WithFallback composes primary with a fallback. A nil primary returns
// fallback unchanged.
func WithFallback(primary, fallback Classifier) Classifier {
	if primary == nil {
		return fallback
	}
	return &fallbackClassifier{primary: primary, fallback: fallback}
}

func (f *fallbackClassifier) Classify(in Input) (Result, error) {
	res, err := f.try(in)
	if err == nil {
		return res, nil
	}
	log.Debug().Err(err).Msg("regime model fallback")
	return f.fallback.Classify(in)
}

func (f *fallbackClassifier) try(in Input) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, fmt.Errorf("regime classifier panic: %v", r)
		}
	}()
	return f.primary.Classify(in)
}
