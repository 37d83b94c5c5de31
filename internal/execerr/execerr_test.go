package execerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_Classified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", New(KindRateLimited, "quote", errors.New("429")), KindRateLimited},
		{"transport", New(KindTransport, "submit", errors.New("timeout")), KindTransport},
		{"on-chain", New(KindOnChain, "confirm", errors.New("program failed")), KindOnChain},
		{"non-retryable", NonRetryable("quote", ReasonUnknownAsset), KindNonRetryable},
		{"wrapped", fmt.Errorf("execute: %w", New(KindRateLimited, "quote", nil)), KindRateLimited},
		{"unclassified defaults to transport", errors.New("mystery"), KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryableAndFailover(t *testing.T) {
	assert.False(t, Retryable(NonRetryable("quote", ReasonInsufficientFunds)))
	assert.False(t, Retryable(New(KindOnChain, "confirm", nil)))
	assert.True(t, Retryable(New(KindTransport, "quote", nil)))
	assert.True(t, Retryable(New(KindRateLimited, "quote", nil)))

	assert.True(t, FailoverEligible(New(KindTransport, "quote", nil)))
	assert.True(t, FailoverEligible(New(KindRateLimited, "quote", nil)))
	assert.False(t, FailoverEligible(NonRetryable("quote", ReasonMalformedAddress)))
	assert.False(t, FailoverEligible(New(KindOnChain, "confirm", nil)))
}
