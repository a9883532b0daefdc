package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/entitysync/internal/itemstore"
)

// Backends lists every item store backend contract tests run against.
var Backends = []string{itemstore.BackendSQLite, itemstore.BackendBolt}

// OpenStore opens an empty store of the given backend in a temp dir and
// closes it when the test ends.
func OpenStore(t testing.TB, backend string) itemstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "items."+backend)
	var (
		s   itemstore.Store
		err error
	)
	switch backend {
	case itemstore.BackendBolt:
		s, err = itemstore.OpenBolt(path, itemstore.BoltOptions{IsTesting: true})
	default:
		s, err = itemstore.Open(backend, path)
	}
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
