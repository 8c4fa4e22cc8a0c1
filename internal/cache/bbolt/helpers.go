package bbolt

import (
	"bytes"
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rollcall-project/rollcall/internal/record"
)

func keyClusterID(cluster record.Cluster, id string) []byte {
	buf := make([]byte, 0, len(cluster)+1+len(id))
	buf = append(buf, cluster...)
	buf = append(buf, '|')
	buf = append(buf, id...)
	return buf
}

func clusterPrefix(cluster record.Cluster) []byte {
	return append([]byte(cluster), '|')
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf
}

func decodeTime(b []byte) time.Time {
	if len(b) != 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(b)))
}

// forEachPrefix walks every key of b starting with prefix.
func forEachPrefix(b *bbolt.Bucket, prefix []byte, fn func(k, v []byte) error) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// reindex moves a <cluster>|<id> keyed value when the record's cluster
// changed, so an id never exists under two cluster keys at once.
func reindex(data, index *bbolt.Bucket, id string, cluster record.Cluster) error {
	old := index.Get([]byte(id))
	if old != nil && record.Cluster(old) != cluster {
		if err := data.Delete(keyClusterID(record.Cluster(old), id)); err != nil {
			return err
		}
	}
	return index.Put([]byte(id), []byte(cluster))
}
