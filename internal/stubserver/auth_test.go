package stubserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTripHonorsTTL(t *testing.T) {
	tok, err := newToken("secret", 7, 90)
	require.NoError(t, err)

	cl, err := parseToken("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cl.UserID)
	assert.WithinDuration(t, time.Now().Add(90*time.Minute), cl.ExpiresAt.Time, 5*time.Second,
		"expiry follows the configured lifetime")
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	tok, err := newToken("secret", 7, 90)
	require.NoError(t, err)

	_, err = parseToken("other", tok)
	assert.Error(t, err)
}
