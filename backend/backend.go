/*
Package backend assembles the storage fallback chain from configuration.

CHAIN (most preferred first):
  1. remote: sqldb (mysql | postgres | sqlite) or redis, when configured
  2. file:   the JSON document, when enabled
  3. memory: always last, so the service can answer even with no disk

Remote stores do not connect here; a dead database only shows up as a
fallback on the first request.
*/
package backend

import (
	"fmt"

	"github.com/hearth/points-ledger/config"
	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/ledger/store"
	"github.com/hearth/points-ledger/store/file"
	"github.com/hearth/points-ledger/store/redis"
	"github.com/hearth/points-ledger/store/sqldb"
	"go.uber.org/zap"
)

// Stores returns the configured chain without wrapping it in a Selector.
func Stores(cfg config.Storage) ([]ledger.Store, error) {
	var chain []ledger.Store

	remote, err := remoteStore(cfg.Remote)
	if err != nil {
		return nil, err
	}
	if remote != nil {
		chain = append(chain, remote)
	}
	if cfg.File.Enabled {
		chain = append(chain, file.New(cfg.File.Path))
	}
	chain = append(chain, store.NewMemory())
	return chain, nil
}

func remoteStore(cfg config.Remote) (ledger.Store, error) {
	switch cfg.Driver {
	case config.DriverNone:
		return nil, nil
	case config.DriverRedis:
		s, err := redis.New(redis.Config{
			Address:   cfg.Redis.Address,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			Database:  cfg.Redis.Database,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("remote store: %w", err)
		}
		return s, nil
	default:
		s, err := sqldb.New(sqldb.Config{
			Driver:       cfg.Driver,
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("remote store: %w", err)
		}
		return s, nil
	}
}

// Build returns a Selector over the configured chain.
func Build(cfg config.Storage, log *zap.Logger, observer ledger.Observer) (*ledger.Selector, error) {
	chain, err := Stores(cfg)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(chain))
	for i, s := range chain {
		names[i] = s.Name()
	}
	log.Info("storage chain ready", zap.Strings("backends", names))

	opts := []ledger.SelectorOption{
		ledger.WithCallTimeout(cfg.CallTimeout),
		ledger.WithLogger(log),
	}
	if observer != nil {
		opts = append(opts, ledger.WithObserver(observer))
	}
	return ledger.NewSelector(chain, opts...), nil
}
