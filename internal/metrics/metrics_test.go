package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterWiresAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	// Registering the same collectors twice against a fresh registry must
	// fail with AlreadyRegisteredError, proving the first Register call
	// actually installed them.
	err := Register(reg)
	assert.Error(t, err)
}

func TestBreakerStateValueMapping(t *testing.T) {
	assert.Equal(t, 1.0, BreakerStateValue("open"))
	assert.Equal(t, 0.5, BreakerStateValue("half_open"))
	assert.Equal(t, 0.0, BreakerStateValue("closed"))
}

func TestHealthStatusValueMapping(t *testing.T) {
	assert.Equal(t, 1.0, HealthStatusValue("healthy"))
	assert.Equal(t, -1.0, HealthStatusValue("unhealthy"))
	assert.Equal(t, 0.0, HealthStatusValue("unknown"))
}
