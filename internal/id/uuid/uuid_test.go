package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	assert.Equal(t, goUUID.Version(7), parsed.Version())
	assert.True(t, Valid(id2))
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid("0190f2a1-7c3e-7b4a-9d2e-3f1a2b3c4d5e"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("../../etc/passwd"))
	assert.False(t, Valid("not-a-uuid"))
}
