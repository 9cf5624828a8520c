package service

import (
	"context"
	"fmt"
)

// Pinger is anything with a liveness check
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthService checks the backing stores
type HealthService struct {
	store Pinger
	cache Pinger
}

func NewHealthService(store, cache Pinger) *HealthService {
	return &HealthService{store: store, cache: cache}
}

// HealthCheck checks the health of both the cache and the durable store
func (s *HealthService) HealthCheck(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}
