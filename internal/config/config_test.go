package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, 42, GetInt("test.unset.int", 42))
	assert.Equal(t, "x", GetString("test.unset.string", "x"))
	assert.True(t, GetBool("test.unset.bool", true))
	assert.Equal(t, 1.5, GetFloat("test.unset.float", 1.5))
	assert.Equal(t, time.Second, GetMillis("test.unset.millis", time.Second))
}

func TestOverrides(t *testing.T) {
	Set("test.set.int", 7)
	Set("test.set.millis", 250)
	Set("test.set.bool", false)

	assert.Equal(t, 7, GetInt("test.set.int", 42))
	assert.Equal(t, 250*time.Millisecond, GetMillis("test.set.millis", time.Second))
	assert.False(t, GetBool("test.set.bool", true))
}
