package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{envExecTimeoutMS, envWaitTimeoutMS, envServiceLoadMS, envPrefetch, envNoReviver} {
		t.Setenv(k, "")
	}
	cfg := LoadConfig()
	assert.Equal(t, 25*time.Second, cfg.ExecTimeout)
	assert.Equal(t, 60*time.Second, cfg.WaitTimeout)
	assert.Equal(t, 60*time.Second, cfg.ServiceLoadTime)
	assert.Equal(t, 1000, cfg.Prefetch)
	assert.False(t, cfg.NoReviver)
	assert.Equal(t, 120*time.Second, cfg.QueueExpiry())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv(envWaitTimeoutMS, "200")
	t.Setenv(envNoReviver, "true")
	cfg := LoadConfig()
	assert.Equal(t, 200*time.Millisecond, cfg.WaitTimeout)
	assert.True(t, cfg.NoReviver)
}
