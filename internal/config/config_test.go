package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "kafka", cfg.Broker.Kind)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
	assert.Equal(t, 15*time.Minute, cfg.Slots.PendingTimeout)
	assert.Equal(t, 30, cfg.Slots.HorizonDays)
	assert.Equal(t, 60, cfg.Slots.RegenerateDays)
	assert.Equal(t, "@every 5s", cfg.Scheduler.OutboxDrain.Spec)
	assert.Equal(t, "0 1 * * *", cfg.Scheduler.SlotPregenerate.Spec)
	assert.Equal(t, "HOUR", cfg.PlaceInfo.DefaultSlotUnit)
	assert.Len(t, cfg.Kafka.Topics, 4)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("outbox:\n  max_retries: 7\nslots:\n  horizon_days: 14\n"), 0o600))

	t.Setenv("ROOMSLOTS_HTTP_ADDR", ":9999")
	t.Setenv("ROOMSLOTS_BROKER_KIND", "rabbitmq")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Outbox.MaxRetries)
	assert.Equal(t, 14, cfg.Slots.HorizonDays)
	assert.Equal(t, 60, cfg.Slots.RegenerateDays)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "rabbitmq", cfg.Broker.Kind)
}

func TestLoad_RejectsSingleRetry(t *testing.T) {
	t.Setenv("ROOMSLOTS_OUTBOX_MAX_RETRIES", "1")

	_, err := Load("")
	assert.ErrorContains(t, err, "max_retries")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
