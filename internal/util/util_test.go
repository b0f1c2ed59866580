package util

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableWithinMillisecond(t *testing.T) {
	now := time.Now()
	a := NewAt(now)
	b := NewAt(now)

	assert.Less(t, a, b)
	_, err := ulid.ParseStrict(a)
	require.NoError(t, err)
}

func TestNewSecret(t *testing.T) {
	s1, err := NewSecret()
	require.NoError(t, err)
	s2, err := NewSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(s1, "whsec_"))
	assert.Len(t, strings.TrimPrefix(s1, "whsec_"), 43)
	assert.NotEqual(t, s1, s2)
}

func TestNewLeaseUnique(t *testing.T) {
	assert.NotEqual(t, NewLease(), NewLease())
}
