package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand(" hset ")
	require.NoError(t, err)
	assert.Equal(t, HSET, c)
	assert.Equal(t, "HSET", c.String())

	_, err = ParseCommand("DEL")
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.False(t, Command(0).Valid())
	assert.Equal(t, "Command(99)", Command(99).String())
}

func TestActionValidate(t *testing.T) {
	assert.NoError(t, NewAction(SET, "k", "v").Validate())
	assert.NoError(t, NewAction(SET, "k", "").Validate())
	assert.ErrorIs(t, NewAction(Command(0), "k", "v").Validate(), ErrUnsupportedCommand)
	assert.ErrorIs(t, NewAction(SET, "", "v").Validate(), ErrInvalidAction)
	assert.ErrorIs(t, NewAction(HSET, "field", "v").Validate(), ErrInvalidAction)
	assert.NoError(t, NewAction(HSET, "field", "v", WithAdditionalKey("h")).Validate())
	assert.ErrorIs(t, NewAction(SET, "k", "v", WithTTL(-time.Second)).Validate(), ErrInvalidAction)
	assert.ErrorIs(t, NewAction(RPUSH, "l", "v", WithTTL(500*time.Microsecond)).Validate(), ErrInvalidAction)
	assert.NoError(t, NewAction(RPUSH, "l", "v", WithTTL(time.Millisecond)).Validate())
}

func TestActionArgs(t *testing.T) {
	assert.Equal(t, []any{"set", "k", "v"}, NewAction(SET, "k", "v").args())
	assert.Equal(t, []any{"set", "k", "v", "px", int64(1500)},
		NewAction(SET, "k", "v", WithTTL(1500*time.Millisecond)).args())
	assert.Equal(t, []any{"hset", "h", "f", "v"},
		NewAction(HSET, "f", "v", WithAdditionalKey("h")).args())
	assert.Equal(t, []any{"incrby", "n", "3"}, NewAction(INCRBY, "n", "3").args())
}

func TestActionExpireKey(t *testing.T) {
	_, ok := NewAction(RPUSH, "l", "v").expireKey()
	assert.False(t, ok)

	_, ok = NewAction(SET, "k", "v", WithTTL(time.Second)).expireKey()
	assert.False(t, ok)
	_, ok = NewAction(PUBLISH, "ch", "v", WithTTL(time.Second)).expireKey()
	assert.False(t, ok)

	key, ok := NewAction(HSET, "f", "v", WithAdditionalKey("h"), WithTTL(time.Second)).expireKey()
	assert.True(t, ok)
	assert.Equal(t, "h", key)

	key, ok = NewAction(SADD, "s", "m", WithTTL(time.Second)).expireKey()
	assert.True(t, ok)
	assert.Equal(t, "s", key)
}

func TestActionSize(t *testing.T) {
	a := NewAction(SET, "a-long-key", "12345")
	assert.Equal(t, int64(5), a.SizeInBytes())
}
