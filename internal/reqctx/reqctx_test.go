package reqctx

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratesUniqueRequestID(t *testing.T) {
	r1 := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r2 := httptest.NewRequest("POST", "/v1/chat/completions", nil)

	rc1 := New(r1)
	rc2 := New(r2)

	assert.NotEmpty(t, rc1.RequestID)
	assert.NotEqual(t, rc1.RequestID, rc2.RequestID)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	r.RemoteAddr = "10.0.0.1:1234"

	rc := New(r)
	assert.Equal(t, "203.0.113.5", rc.ClientIP)
}

func TestWithUserDoesNotMutateOriginal(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	rc := New(r)

	withUser := rc.WithUser("u1", "t1", "k1")

	assert.Empty(t, rc.UserID)
	assert.Equal(t, "u1", withUser.UserID)
}

func TestForkDeepCopiesMetadata(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	rc := New(r)
	rc.SetMetadata("attempt", 1)

	forked, err := rc.Fork()
	require.NoError(t, err)

	forked.SetMetadata("fallback_from", "provider-a")

	_, leaked := rc.Metadata["fallback_from"]
	assert.False(t, leaked, "forking must not let child metadata leak back into the parent")
	assert.Equal(t, 1, forked.Metadata["attempt"])
}

func TestElapsedIsMonotonic(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	rc := New(r)

	time.Sleep(2 * time.Millisecond)
	assert.Greater(t, rc.Elapsed(), time.Duration(0))
}
