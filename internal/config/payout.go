package config

import (
	"os"
	"strconv"
	"time"
)

type PayoutConfig struct {
	DefaultRequiredApprovals int
	ApprovalTTL              time.Duration
	ReleaseCron              string
	ExpirySweepCron          string
	NotificationQueue        string
	MaxBatchPartitions       int
}

func LoadPayoutConfig() *PayoutConfig {
	return &PayoutConfig{
		DefaultRequiredApprovals: getEnvAsInt("PAYOUT_REQUIRED_APPROVALS", 2),
		ApprovalTTL:              getEnvAsDuration("PAYOUT_APPROVAL_TTL", 72*time.Hour),
		ReleaseCron:              getEnv("PAYOUT_RELEASE_CRON", "0 3 * * *"),
		ExpirySweepCron:          getEnv("PAYOUT_EXPIRY_SWEEP_CRON", "0 * * * *"),
		NotificationQueue:        getEnv("PAYOUT_NOTIFICATION_QUEUE", "payout_notification_queue"),
		MaxBatchPartitions:       getEnvAsInt("PAYOUT_MAX_BATCH_PARTITIONS", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
