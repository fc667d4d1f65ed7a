package gatewayerr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBodyRateLimitCarriesLimitTypeAndRemaining(t *testing.T) {
	err := New(RateLimit, "request rate limit exceeded").WithRetryAfter(1.5).WithRateLimit("rpm", 0)

	body, status := ToBody(err)
	assert.Equal(t, 429, status)
	assert.Equal(t, RateLimit, body.Error.Type)
	assert.Equal(t, "rpm", body.Error.LimitType)
	require.NotNil(t, body.Error.RemainingRequests)
	assert.Equal(t, 0, *body.Error.RemainingRequests)
	assert.Equal(t, 1.5, body.Error.RetryAfter)
}

func TestToBodyNonRateLimitOmitsLimitFields(t *testing.T) {
	err := New(NotFound, "model does not exist")

	body, _ := ToBody(err)
	assert.Empty(t, body.Error.LimitType)
	assert.Nil(t, body.Error.RemainingRequests)
}
