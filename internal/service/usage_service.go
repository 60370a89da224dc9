package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vectaconvert/api/internal/config"
	"github.com/vectaconvert/api/internal/model"
)

const dailyUsageTTL = 24 * time.Hour

// UsageService tracks conversions per session as a daily counter in redis.
// The window is a rolling 24h from the first conversion, not a calendar day.
type UsageService struct {
	redis redis.UniversalClient
	cfg   *config.Config
}

func NewUsageService(rdb redis.UniversalClient, cfg *config.Config) *UsageService {
	return &UsageService{redis: rdb, cfg: cfg}
}

func (s *UsageService) GetDailyUsage(ctx context.Context, sessionToken string) (int, error) {
	val, err := s.redis.Get(ctx, usageKey(sessionToken)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get daily usage: %w", err)
	}
	return val, nil
}

func (s *UsageService) IncrementDailyUsage(ctx context.Context, sessionToken string) (int, error) {
	key := usageKey(sessionToken)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment daily usage: %w", err)
	}
	if count == 1 {
		if err := s.redis.Expire(ctx, key, dailyUsageTTL).Err(); err != nil {
			return int(count), fmt.Errorf("set daily usage expiry: %w", err)
		}
	}
	return int(count), nil
}

// GetLimits reports the effective limits plus the caller's remaining quota.
func (s *UsageService) GetLimits(ctx context.Context, sessionToken string) (*model.LimitsResponse, error) {
	used, err := s.GetDailyUsage(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	return &model.LimitsResponse{
		Used:                 used,
		MaxConversionsPerDay: s.cfg.Limits.MaxConversionsPerDay,
		MaxFileSize:          s.cfg.Upload.MaxFileSize,
		MaxFilesPerJob:       s.cfg.Upload.MaxFilesPerJob,
	}, nil
}

func usageKey(sessionToken string) string {
	return "daily_usage:" + sessionToken
}
