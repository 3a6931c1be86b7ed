package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/store"
)

func TestDBStateInMemoryFallbackIsNotAnOutage(t *testing.T) {
	assert.Equal(t, "memory", dbState(nil))
	assert.Equal(t, "ok", dbState(&store.DB{}))
}
