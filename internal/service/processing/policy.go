package processing

import (
	"hash/fnv"
	"math/rand"

	"github.com/orderlab/orderflow/internal/model"
)

// Policy decides the outcome of one processing attempt. It is injected
// into the use case so tests can substitute a deterministic stub.
type Policy interface {
	Evaluate(orderID string, items []model.ItemLine) (model.ProcessingResult, string)
}

// RandomPolicy rejects embargoed skus and otherwise succeeds with a fixed
// probability. The PRNG is seeded from the order id, so the outcome for a
// given order is reproducible across redeliveries and test runs.
type RandomPolicy struct {
	embargo     map[string]struct{}
	successProb float64
}

func NewRandomPolicy(embargoSKUs []string, successProb float64) *RandomPolicy {
	embargo := make(map[string]struct{}, len(embargoSKUs))
	for _, sku := range embargoSKUs {
		embargo[sku] = struct{}{}
	}
	return &RandomPolicy{
		embargo:     embargo,
		successProb: successProb,
	}
}

func (p *RandomPolicy) Evaluate(orderID string, items []model.ItemLine) (model.ProcessingResult, string) {
	for _, item := range items {
		if _, banned := p.embargo[item.SKU]; banned {
			return model.ProcessingResultFailed, "embargo:" + item.SKU
		}
	}

	h := fnv.New64a()
	h.Write([]byte(orderID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	if rng.Float64() < p.successProb {
		return model.ProcessingResultSuccess, ""
	}
	return model.ProcessingResultFailed, "processing_error"
}
