package results

import (
	"encoding/binary"
	"time"
)

// Bucket names in BoltDB.
var (
	bucketSystem     = []byte("system")
	bucketRuns       = []byte("runs")
	bucketTimeIndex  = []byte("run_time_index")
	keySchemaVersion = []byte("schema_version")
)

const currentSchemaVersion = 2

// Run is the record of one benchmark iteration.
type Run struct {
	ID        uint64
	Backend   string
	Bucket    string
	Key       string
	Size      uint64
	ETag      string
	Iteration int
	Bytes     uint64
	Duration  time.Duration
	Gbps      float64
	StartedAt time.Time
	Error     string

	PartSize      uint64
	InitialWindow uint64
	MaxWindow     uint64
	ReadWindow    uint64
	ReadSize      uint64
	Concurrency   int
}

// OK reports whether the iteration read the whole object.
func (r *Run) OK() bool {
	return r.Error == ""
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesToUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// timeKey orders runs by start time; the ID suffix keeps keys unique.
func timeKey(t time.Time, id uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(b[8:], id)
	return b
}
