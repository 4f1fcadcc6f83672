// Package store holds the durable chat log adapters.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/collab/internal/app/chat"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var ErrUnknownDriver = errors.New("unknown store driver")

// Open picks the chat store for driver.
func Open(ctx context.Context, driver, dsn string) (chat.Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return OpenGorm(driver, dsn)
	case DriverRedis:
		return OpenRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
