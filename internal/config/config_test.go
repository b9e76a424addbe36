package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://api.example.test/")
	t.Setenv("INTEGRITY_MAX_EXITS", "3")
	t.Setenv("INTEGRITY_FINAL_DELAY_MS", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://api.example.test", cfg.BackendURL)
	assert.Equal(t, 3, cfg.IntegrityMaxExits)
	assert.Equal(t, 500*time.Millisecond, cfg.IntegrityFinalDelay)
	assert.Equal(t, 10*time.Minute, cfg.ExamCacheTTL)
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, parseOrigins(" https://a.test, ,https://b.test "))
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "exam:e1:payload", CacheKey.ExamPayloadKey("e1"))
	assert.Equal(t, "exam:e1:monitor", CacheKey.ExamMonitorChannel("e1"))
	assert.Equal(t, "student:u1:exam:e1:active_session", CacheKey.StudentActiveSessionKey("e1", "u1"))
	assert.Equal(t, "exam:e1:eligible:u1", CacheKey.ExamEligibleKey("e1", "u1"))
}
