package bbolt

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/rollcall-project/rollcall/internal/cache"
)

var (
	bucketEmployees       = []byte("employees")       // <cluster>|<id> -> Employee
	bucketEmployeeIndex   = []byte("employeeIndex")   // <id>           -> cluster
	bucketAttendance      = []byte("attendance")      // <cluster>|<id> -> AttendanceRecord
	bucketAttendanceIndex = []byte("attendanceIndex") // <id>           -> cluster
	bucketSyncMeta        = []byte("syncMeta")        // <scope>        -> unix-nano
)

// Store is the bbolt-backed local cache. Transactions are serialized by the
// engine, so callers never need external locking.
type Store struct {
	db    *bbolt.DB
	codec cache.Codec
}

var _ cache.Store = (*Store)(nil)

// New opens (or creates) the cache database file. Pass nil for codec to use
// the default MessagePack implementation. durable=false skips fsync on every
// commit, which is fine for a cache that can always be refetched.
func New(path string, codec cache.Codec, durable bool) (*Store, error) {
	if codec == nil {
		codec = cache.DefaultCodec
	}
	db, err := bbolt.Open(path, 0666, &bbolt.Options{
		Timeout:      0,
		NoSync:       !durable,
		FreelistType: bbolt.FreelistMapType,
	})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{
			bucketEmployees, bucketEmployeeIndex,
			bucketAttendance, bucketAttendanceIndex,
			bucketSyncMeta,
		} {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create default buckets: %w", err)
	}
	return &Store{db: db, codec: codec}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
