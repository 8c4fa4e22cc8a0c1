// rollcalldump walks a local cache database and prints its contents as JSON
// lines. Useful to inspect what a client actually has on disk.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	bboltCache "github.com/rollcall-project/rollcall/internal/cache/bbolt"
	"github.com/rollcall-project/rollcall/internal/record"
)

func main() {
	var (
		flagEmployees  bool
		flagAttendance bool
		flagSyncTimes  bool
	)
	flag.BoolVar(&flagEmployees, "employees", true, "Dump cached employees")
	flag.BoolVar(&flagAttendance, "attendance", true, "Dump cached attendance records")
	flag.BoolVar(&flagSyncTimes, "sync-times", true, "Dump per-scope sync times")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: rollcalldump [FLAGS] CACHE_FILE")
	}

	store, err := bboltCache.New(flag.Arg(0), nil, false)
	if err != nil {
		log.Fatalf("opening cache: %v", err)
	}
	defer func() { _ = store.Close() }()

	enc := json.NewEncoder(os.Stdout)

	if flagEmployees {
		err := store.WalkEmployees(func(e record.Employee) bool {
			_ = enc.Encode(map[string]any{"kind": "employee", "employee": e})
			return true
		})
		if err != nil {
			log.Fatalf("walking employees: %v", err)
		}
	}
	if flagAttendance {
		err := store.WalkAttendance(func(id string, cluster record.Cluster, rec record.AttendanceRecord) bool {
			_ = enc.Encode(map[string]any{
				"kind": "attendance", "id": id, "cluster": cluster, "record": rec,
			})
			return true
		})
		if err != nil {
			log.Fatalf("walking attendance: %v", err)
		}
	}
	if flagSyncTimes {
		err := store.WalkSyncTimes(func(key record.Scope, t time.Time) bool {
			_ = enc.Encode(map[string]any{"kind": "syncTime", "scope": key, "time": t})
			return true
		})
		if err != nil {
			log.Fatalf("walking sync times: %v", err)
		}
	}
}
