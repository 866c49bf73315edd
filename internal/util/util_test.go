package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceContains(t *testing.T) {
	assert.True(t, SliceContains([]string{"id", "created_at"}, "id"))
	assert.False(t, SliceContains([]string{"id", "created_at"}, "deleted_at"))
	assert.False(t, SliceContains(nil, "id"))
}

func TestIsLocalhost(t *testing.T) {
	assert.True(t, IsLocalhost("nats://localhost:4222"))
	assert.True(t, IsLocalhost("postgres://127.0.0.1:5432/app"))
	assert.True(t, IsLocalhost("http://0.0.0.0:8080"))
	assert.False(t, IsLocalhost("nats://connect.example.com"))
}

func TestJSONStringify(t *testing.T) {
	assert.Equal(t, `{"a":1}`, JSONStringify(map[string]int{"a": 1}))
	assert.Equal(t, `["x","y"]`, JSONStringify([]string{"x", "y"}))
}

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	assert.NoError(t, err)
	assert.Greater(t, port, 0)
}
