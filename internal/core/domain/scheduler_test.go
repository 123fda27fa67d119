package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	assert.True(t, config.Enabled)
	assert.NotNil(t, config.TaskConfigs)
	assert.Len(t, config.TaskConfigs, 5)

	sweepCfg := config.TaskConfigs[TaskIDTTLSweep]
	assert.True(t, sweepCfg.Enabled)
	assert.Equal(t, 1*time.Hour, sweepCfg.Interval)

	cleanupCfg := config.TaskConfigs[TaskIDJobCleanup]
	assert.True(t, cleanupCfg.Enabled)
	assert.Equal(t, 24*time.Hour, cleanupCfg.Interval)

	replayCfg := config.TaskConfigs[TaskIDWebhookReplay]
	assert.True(t, replayCfg.Enabled)
	assert.Equal(t, 5*time.Minute, replayCfg.Interval)
}

func TestSchedulerConfig_GetTaskConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	// Existing task
	pollCfg := config.GetTaskConfig(TaskIDPollSync)
	assert.True(t, pollCfg.Enabled)
	assert.Equal(t, 15*time.Minute, pollCfg.Interval)

	// Non-existent task
	unknownCfg := config.GetTaskConfig("unknown-task")
	assert.False(t, unknownCfg.Enabled)
	assert.Equal(t, time.Duration(0), unknownCfg.Interval)
}

func TestSchedulerConfig_GetTaskConfig_NilMap(t *testing.T) {
	config := SchedulerConfig{
		Enabled:     true,
		TaskConfigs: nil,
	}

	cfg := config.GetTaskConfig("any-task")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, time.Duration(0), cfg.Interval)
}

func TestTaskConstants(t *testing.T) {
	assert.Equal(t, "ttl-sweep", TaskIDTTLSweep)
	assert.Equal(t, "job-cleanup", TaskIDJobCleanup)
	assert.Equal(t, "stale-chunks", TaskIDStaleChunks)
	assert.Equal(t, "poll-sync", TaskIDPollSync)
	assert.Equal(t, "webhook-replay", TaskIDWebhookReplay)
}
