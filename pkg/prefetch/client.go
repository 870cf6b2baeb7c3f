package prefetch

import (
	"context"
	"fmt"
	"strings"
)

// Range is a half-open byte range [Start, End) of an object.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether off falls inside the range.
func (r Range) Contains(off uint64) bool {
	return off >= r.Start && off < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// ETag is an opaque content fingerprint for an object version.
type ETag string

// Equal compares two fingerprints ignoring surrounding quotes, which S3 includes
// in ETag headers but callers usually omit.
func (e ETag) Equal(other ETag) bool {
	return e.Unquoted() == other.Unquoted()
}

// Unquoted returns the fingerprint without surrounding double quotes.
func (e ETag) Unquoted() string {
	s := string(e)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		return s[1 : len(s)-1]
	}
	return s
}

// Quoted returns the fingerprint in HTTP entity-tag form.
func (e ETag) Quoted() string {
	s := string(e)
	if s == "" || strings.HasPrefix(s, "W/") || strings.HasPrefix(s, `"`) {
		return s
	}
	return `"` + s + `"`
}

// ObjectIdentity names the remote object a request reads. Size and ETag are
// trusted at creation and verified against what the client reports.
type ObjectIdentity struct {
	Bucket string
	Key    string
	Size   uint64
	ETag   ETag
}

// GetOptions are passed to Client.GetObjectRange.
type GetOptions struct {
	// ETag, when set, asks the client to fail the request if the object no
	// longer matches this fingerprint.
	ETag ETag

	// Window is the number of bytes the client may deliver before the caller
	// grows the window. Zero means the whole range.
	Window uint64
}

// Chunk is one ordered piece of a range GET.
type Chunk struct {
	Offset uint64
	Data   []byte

	// ETag is the fingerprint the server reported for the object, if any.
	ETag ETag

	// ObjectSize is the total object size the server reported, 0 if unknown.
	ObjectSize uint64
}

// GetStream is an open range GET with a read window.
//
// Next blocks until a chunk is available, the range is complete (io.EOF), or
// the request fails. Next never returns bytes beyond the granted window.
// GrowWindow may be called concurrently with Next.
type GetStream interface {
	Next(ctx context.Context) (Chunk, error)
	GrowWindow(n uint64) error
	Close() error
}

// Client opens range GETs against a remote object store.
type Client interface {
	GetObjectRange(ctx context.Context, bucket, key string, r Range, opts GetOptions) (GetStream, error)
}
