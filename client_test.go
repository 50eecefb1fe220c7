package qev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClient_WriteOnClosedClient(t *testing.T) {
	c := newClient(nil, -1, 0)

	n, err := c.Write([]byte("hi"))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClient_ReadOnClosedClientIsQuiet(t *testing.T) {
	c := newClient(nil, -1, 0)

	n, err := c.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.NoError(t, err)
}

func TestClient_IsClosingReflectsFlag(t *testing.T) {
	c := newClient(nil, 3, 0)
	assert.False(t, c.IsClosing())

	c.flags.set(FlagClosing)
	assert.True(t, c.IsClosing())
}

func TestClient_FdAndFlags(t *testing.T) {
	c := newClient(nil, 7, FlagTLS)
	assert.Equal(t, 7, c.Fd())
	assert.True(t, c.Flags()&FlagTLS != 0)
}
