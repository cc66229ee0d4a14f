package artifact

import (
	"fmt"
	"time"

	"github.com/papercomputeco/spool/pkg/storage"
)

// Payload is a prepared save: the bytes to persist and the metadata that
// describes them.
type Payload struct {
	Location Location
	Codec    Codec
	Size     int64
	Digest   string
	Data     []byte
}

// Prepare picks the tier for data and encodes it. Inline payloads are kept
// as is. External payloads are compressed with opts.Codec.
func Prepare(data []byte, opts Options) (*Payload, error) {
	p := &Payload{
		Location: TierFor(int64(len(data)), opts.InlineThreshold),
		Codec:    CodecNone,
		Size:     int64(len(data)),
		Digest:   Digest(data),
		Data:     data,
	}
	if p.Location == LocationInline {
		return p, nil
	}

	encoded, codec, err := Encode(opts.Codec, data)
	if err != nil {
		return nil, err
	}
	p.Data, p.Codec = encoded, codec
	return p, nil
}

// Open decodes stored bytes of a and verifies them against its digest.
func (a *Artifact) Open(stored []byte) ([]byte, error) {
	data, err := Decode(a.Codec, stored, a.Size)
	if err != nil {
		return nil, fmt.Errorf("artifact %s v%d: %w", a.Name, a.Version, err)
	}
	if err := Verify(data, a.Digest); err != nil {
		return nil, fmt.Errorf("artifact %s v%d: %w", a.Name, a.Version, err)
	}
	return data, nil
}

// MinSweepGrace is the shortest grace Sweep accepts. An external object is
// written before the row that references it commits, so objects younger
// than a save can take must never be swept.
const MinSweepGrace = time.Minute

// ValidateGrace rejects a sweep grace below MinSweepGrace.
func ValidateGrace(op string, grace time.Duration) error {
	if grace < MinSweepGrace {
		return storage.Invalid(op, fmt.Errorf("grace %s is below the minimum of %s", grace, MinSweepGrace))
	}
	return nil
}

// Sweepable reports whether an unreferenced object modified at modTime is
// old enough to remove.
func Sweepable(modTime, now time.Time, grace time.Duration) bool {
	return now.Sub(modTime) >= grace
}
