package prof

import "errors"

var (
	// ErrActive indicates Start was called before the previous run stopped.
	ErrActive = errors.New("profiling already active")

	// ErrNotEnabled indicates profiling was requested from a binary built
	// without the "profile" tag.
	ErrNotEnabled = errors.New("profiling not compiled in (build with -tags profile)")
)

// Config selects the profiles captured for one run. Empty paths are skipped.
type Config struct {
	CPUPath   string // CPU samples from Start to Stop
	HeapPath  string // live heap at Stop
	BlockPath string // blocking events from Start to Stop
	Listen    string // serve /debug/pprof/ on this address
}

// Empty reports whether no profile is requested.
func (c Config) Empty() bool {
	return c == Config{}
}
