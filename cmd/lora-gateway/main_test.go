package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Help(t *testing.T) {
	assert.Equal(t, 0, run([]string{"--help"}))
}

func TestRun_InvalidSettings(t *testing.T) {
	assert.Equal(t, 2, run(nil), "server url is required")
	assert.Equal(t, 2, run([]string{"--server-url", "collector:5000"}))
}
