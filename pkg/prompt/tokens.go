package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator produces a conservative, monotonic input-token estimate
// via tiktoken, with one encoding cached per model.
type Estimator struct {
	mu       sync.RWMutex
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = map[string]*tiktoken.Tiktoken{}
	encodingMu    sync.RWMutex
)

// NewEstimator builds an Estimator for model, falling back to cl100k_base
// when the model has no registered encoding.
func NewEstimator(model string) (*Estimator, error) {
	encodingMu.RLock()
	cached, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return &Estimator{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	encodingMu.Lock()
	encodingCache[model] = enc
	encodingMu.Unlock()

	return &Estimator{encoding: enc}, nil
}

// Count returns the estimated token count for text. Falls back to a
// length/4 heuristic if no encoding could be loaded, so the assembler
// always has a monotonic estimate to report.
func (e *Estimator) Count(text string) int {
	if e == nil || e.encoding == nil {
		return len(text) / 4
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.encoding.Encode(text, nil, nil))
}
