package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	Env = map[string]string{"APP_PORT": "4000"}
	defer func() { Env = nil }()
	t.Setenv("APP_PORT", "5000")

	assert.Equal(t, "4000", GetEnv("APP_PORT", "8080"))
}

func TestGetEnvFallsBackToProcessEnv(t *testing.T) {
	Env = map[string]string{}
	defer func() { Env = nil }()
	t.Setenv("SIDE_EFFECT_WORKERS", "8")

	assert.Equal(t, 8, GetEnvInt("SIDE_EFFECT_WORKERS", 4))
	assert.Equal(t, "fallback", GetEnv("MISSING_KEY_FOR_TEST", "fallback"))
}

func TestTypedGetters(t *testing.T) {
	Env = map[string]string{
		"SIDE_EFFECT_TIMEOUT": "1m30s",
		"BAD_INT":             "many",
		"BAD_DURATION":        "soon",
	}
	defer func() { Env = nil }()

	assert.Equal(t, 90*time.Second, GetEnvDuration("SIDE_EFFECT_TIMEOUT", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("BAD_DURATION", time.Second))
	assert.Equal(t, 3, GetEnvInt("BAD_INT", 3))
}
