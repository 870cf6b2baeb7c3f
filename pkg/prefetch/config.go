package prefetch

import "fmt"

const (
	KiB = 1 << 10
	MiB = 1 << 20
)

// Config controls read-ahead sizing.
type Config struct {
	// InitialWindowBytes is the lookahead after creation or a seek.
	InitialWindowBytes uint64
	// MaxWindowBytes caps lookahead growth.
	MaxWindowBytes uint64
	// PartSize caps the length of a single range GET.
	PartSize uint64
	// SequentialGrowthFactor multiplies the window on each sequential plan.
	SequentialGrowthFactor uint64
	// ReadWindowBytes is the client read window kept open per range GET.
	ReadWindowBytes uint64
	// MaxForwardSeekBytes is how far ahead a seek may land and still reuse
	// in-flight ranges.
	MaxForwardSeekBytes uint64
	// MaxBackwardSeekBytes is how much consumed data is retained for
	// backward seeks.
	MaxBackwardSeekBytes uint64
}

// DefaultConfig returns the default read-ahead configuration.
func DefaultConfig() Config {
	return Config{
		InitialWindowBytes:     256 * KiB,
		MaxWindowBytes:         64 * MiB,
		PartSize:               8 * MiB,
		SequentialGrowthFactor: 8,
		ReadWindowBytes:        8 * MiB,
		MaxForwardSeekBytes:    16 * MiB,
		MaxBackwardSeekBytes:   1 * MiB,
	}
}

// Validate reports settings that cannot be normalized silently.
func (c Config) Validate() error {
	if c.InitialWindowBytes > 0 && c.MaxWindowBytes > 0 && c.InitialWindowBytes > c.MaxWindowBytes {
		return fmt.Errorf("initial window %d exceeds max window %d", c.InitialWindowBytes, c.MaxWindowBytes)
	}
	return nil
}

// withDefaults fills zero fields and clamps inconsistent ones.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.InitialWindowBytes == 0 {
		c.InitialWindowBytes = def.InitialWindowBytes
	}
	if c.MaxWindowBytes == 0 {
		c.MaxWindowBytes = def.MaxWindowBytes
	}
	if c.PartSize == 0 {
		c.PartSize = def.PartSize
	}
	if c.SequentialGrowthFactor == 0 {
		c.SequentialGrowthFactor = def.SequentialGrowthFactor
	}
	if c.ReadWindowBytes == 0 {
		c.ReadWindowBytes = def.ReadWindowBytes
	}
	if c.MaxForwardSeekBytes == 0 {
		c.MaxForwardSeekBytes = def.MaxForwardSeekBytes
	}
	if c.MaxBackwardSeekBytes == 0 {
		c.MaxBackwardSeekBytes = def.MaxBackwardSeekBytes
	}
	if c.InitialWindowBytes > c.MaxWindowBytes {
		c.InitialWindowBytes = c.MaxWindowBytes
	}
	return c
}
