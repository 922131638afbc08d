package interfaces

import "context"

// MetaCache is a key-value cache for short-lived large sync artifacts,
// primarily the remote UID metadata map built during initial sync. Keys are
// hierarchical strings like "{accountID}/{folderName}/remote_g_metadata".
// Entries have no TTL; the owning worker removes them.
type MetaCache interface {
	// Get unmarshals the entry into value and reports whether it existed.
	Get(ctx context.Context, key string, value interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Remove(ctx context.Context, key string) error
}
