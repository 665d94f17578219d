package backend

import (
	"path/filepath"
	"testing"

	"github.com/hearth/points-ledger/config"
	"github.com/hearth/points-ledger/ledger"
	"github.com/hearth/points-ledger/ledger/store"
	"github.com/hearth/points-ledger/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func names(chain []ledger.Store) []string {
	out := make([]string, len(chain))
	for i, s := range chain {
		out[i] = s.Name()
	}
	return out
}

func TestStores_Default_FileThenMemory(t *testing.T) {
	cfg := config.Default().Storage
	cfg.File.Path = filepath.Join(t.TempDir(), "points.json")

	chain, err := Stores(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{file.Name, store.MemoryName}, names(chain))
}

func TestStores_FileDisabled_MemoryOnly(t *testing.T) {
	cfg := config.Default().Storage
	cfg.File.Enabled = false

	chain, err := Stores(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{store.MemoryName}, names(chain))
}

func TestStores_RemoteFirst(t *testing.T) {
	// GIVEN: A sqlite remote and a redis remote
	// WHEN: Building the chain
	// THEN: The remote comes first and memory is always last

	tests := []struct {
		name   string
		remote config.Remote
		want   string
	}{
		{"sqlite", config.Remote{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "points.db")}, "sql:sqlite"},
		{"redis", config.Remote{Driver: config.DriverRedis, Redis: config.Redis{Address: "127.0.0.1:1"}}, "redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Storage
			cfg.File.Enabled = false
			cfg.Remote = tt.remote

			chain, err := Stores(cfg)
			require.NoError(t, err)
			t.Cleanup(func() {
				for _, s := range chain {
					if c, ok := s.(ledger.Closer); ok {
						c.Close()
					}
				}
			})
			assert.Equal(t, []string{tt.want, store.MemoryName}, names(chain))
		})
	}
}

func TestBuild_SelectorOverChain(t *testing.T) {
	cfg := config.Default().Storage
	cfg.File.Enabled = false

	sel, err := Build(cfg, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer sel.Close()

	require.Len(t, sel.Backends(), 1)
	assert.Equal(t, store.MemoryName, sel.Backends()[0].Name())
}
