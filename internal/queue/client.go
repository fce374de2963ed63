package queue

import (
	"github.com/hibiken/asynq"

	"lorekeeper-platform/internal/config"
)

// RedisOpt builds the asynq transport options from the shared Redis
// configuration.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	addr, password, db := cfg.AsynqRedisAddr()
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

// NewClient returns the enqueue-side asynq client.
func NewClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}
