package itemstore

import "fmt"

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Open opens the store for backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path)
	case BackendBolt:
		return OpenBolt(path, BoltOptions{})
	}
	return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", backend, BackendSQLite, BackendBolt)
}
