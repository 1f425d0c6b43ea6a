package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveRequestConcurrencyPriority(t *testing.T) {
	tests := []struct {
		name            string
		nCalls          int
		opts            int
		cfg             int
		rateConstrained bool
		want            int
	}{
		{"rate constraint wins over everything", 10, 8, 4, true, 1},
		{"options beat config", 10, 8, 4, false, 8},
		{"config when options unset", 10, 0, 4, false, 4},
		{"fan-out when nothing set", 3, 0, 0, false, 3},
		{"negative options fall through", 10, -5, 4, false, 4},
		{"negative config falls through", 3, 0, -1, false, 3},
		{"zero calls resolves to one", 0, 0, 0, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRequestConcurrency(tt.nCalls, tt.opts, tt.cfg, tt.rateConstrained)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRequestConcurrencyUnboundedFanOut(t *testing.T) {
	// Rule 4 returns the call count unmodified, however large.
	got := ResolveRequestConcurrency(1000, 0, 0, false)
	assert.Equal(t, 1000, got)
}
