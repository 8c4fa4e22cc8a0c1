package bbolt

import (
	"context"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rollcall-project/rollcall/internal/record"
)

// PutEmployees upserts employees, last-write-wins per id. An employee whose
// cluster changed is removed from its old cluster key first.
func (s *Store) PutEmployees(_ context.Context, employees []record.Employee) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketEmployees)
		index := tx.Bucket(bucketEmployeeIndex)
		for _, e := range employees {
			if e.ID == "" {
				continue
			}
			if err := reindex(data, index, e.ID, e.Cluster); err != nil {
				return err
			}
			payload, err := s.codec.Marshal(e)
			if err != nil {
				return err
			}
			if err := data.Put(keyClusterID(e.Cluster, e.ID), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) EmployeesByCluster(_ context.Context, cluster record.Cluster) ([]record.Employee, error) {
	var out []record.Employee
	err := s.db.View(func(tx *bbolt.Tx) error {
		return forEachPrefix(tx.Bucket(bucketEmployees), clusterPrefix(cluster), func(_, v []byte) error {
			var e record.Employee
			if err := s.codec.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

func (s *Store) AllEmployees(_ context.Context) ([]record.Employee, error) {
	var out []record.Employee
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEmployees).ForEach(func(_, v []byte) error {
			var e record.Employee
			if err := s.codec.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// PutAttendance upserts the record for id; nil deletes. The cluster argument
// may be empty on delete, in which case the index resolves the stored key.
func (s *Store) PutAttendance(_ context.Context, id string, rec *record.AttendanceRecord, cluster record.Cluster) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttendance)
		index := tx.Bucket(bucketAttendanceIndex)
		if rec == nil {
			if stored := index.Get([]byte(id)); stored != nil {
				cluster = record.Cluster(stored)
			}
			if err := data.Delete(keyClusterID(cluster, id)); err != nil {
				return err
			}
			return index.Delete([]byte(id))
		}
		if err := reindex(data, index, id, cluster); err != nil {
			return err
		}
		payload, err := s.codec.Marshal(rec)
		if err != nil {
			return err
		}
		return data.Put(keyClusterID(cluster, id), payload)
	})
}

func (s *Store) AttendanceByCluster(_ context.Context, cluster record.Cluster) (map[string]record.AttendanceRecord, error) {
	out := make(map[string]record.AttendanceRecord)
	prefix := clusterPrefix(cluster)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return forEachPrefix(tx.Bucket(bucketAttendance), prefix, func(k, v []byte) error {
			var rec record.AttendanceRecord
			if err := s.codec.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k[len(prefix):])] = rec
			return nil
		})
	})
	return out, err
}

func (s *Store) AllAttendance(_ context.Context) (map[string]record.AttendanceRecord, error) {
	out := make(map[string]record.AttendanceRecord)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAttendanceIndex).ForEach(func(id, cluster []byte) error {
			v := tx.Bucket(bucketAttendance).Get(keyClusterID(record.Cluster(cluster), string(id)))
			if v == nil {
				return nil
			}
			var rec record.AttendanceRecord
			if err := s.codec.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(id)] = rec
			return nil
		})
	})
	return out, err
}

func (s *Store) SetSyncTime(_ context.Context, key record.Scope, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSyncMeta).Put([]byte(key), encodeTime(t))
	})
}

func (s *Store) SyncTime(_ context.Context, key record.Scope) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		t = decodeTime(tx.Bucket(bucketSyncMeta).Get([]byte(key)))
		return nil
	})
	return t, err
}

// ClearCluster drops every employee and attendance record of the cluster,
// plus its sync-time entry.
func (s *Store) ClearCluster(_ context.Context, cluster record.Cluster) error {
	prefix := clusterPrefix(cluster)
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, pair := range []struct{ data, index []byte }{
			{bucketEmployees, bucketEmployeeIndex},
			{bucketAttendance, bucketAttendanceIndex},
		} {
			data := tx.Bucket(pair.data)
			index := tx.Bucket(pair.index)
			var keys [][]byte
			if err := forEachPrefix(data, prefix, func(k, _ []byte) error {
				keys = append(keys, append([]byte(nil), k...))
				return nil
			}); err != nil {
				return err
			}
			for _, k := range keys {
				if err := data.Delete(k); err != nil {
					return err
				}
				if err := index.Delete(k[len(prefix):]); err != nil {
					return err
				}
			}
		}
		return tx.Bucket(bucketSyncMeta).Delete([]byte(record.ClusterScope(cluster)))
	})
}

// ClearAll recreates every bucket.
func (s *Store) ClearAll(_ context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{
			bucketEmployees, bucketEmployeeIndex,
			bucketAttendance, bucketAttendanceIndex,
			bucketSyncMeta,
		} {
			if err := tx.DeleteBucket(b); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
}

// WalkEmployees visits every cached employee. Return false from fn to stop.
func (s *Store) WalkEmployees(fn func(record.Employee) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketEmployees).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e record.Employee
			if err := s.codec.Unmarshal(v, &e); err != nil {
				return err
			}
			if !fn(e) {
				return nil
			}
		}
		return nil
	})
}

// WalkAttendance visits every cached attendance record. Return false to stop.
func (s *Store) WalkAttendance(fn func(id string, cluster record.Cluster, rec record.AttendanceRecord) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttendance)
		c := tx.Bucket(bucketAttendanceIndex).Cursor()
		for id, cluster := c.First(); id != nil; id, cluster = c.Next() {
			v := data.Get(keyClusterID(record.Cluster(cluster), string(id)))
			if v == nil {
				continue
			}
			var rec record.AttendanceRecord
			if err := s.codec.Unmarshal(v, &rec); err != nil {
				return err
			}
			if !fn(string(id), record.Cluster(cluster), rec) {
				return nil
			}
		}
		return nil
	})
}

// WalkSyncTimes visits every sync-time entry. Return false to stop.
func (s *Store) WalkSyncTimes(fn func(key record.Scope, t time.Time) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSyncMeta).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !fn(record.Scope(k), decodeTime(v)) {
				return nil
			}
		}
		return nil
	})
}
