package prefetch

// Observer receives engine events. Implementations must be safe for
// concurrent use; fetch events arrive from task goroutines.
type Observer interface {
	WindowPlanned(plan WindowPlan)
	FetchStarted(r Range)
	FetchFinished(r Range, delivered uint64, err error)
	WindowGrown(r Range, delta uint64)
	ReadServed(offset uint64, n int)
	Seek(from, to uint64)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) WindowPlanned(WindowPlan) {}
func (NopObserver) FetchStarted(Range) {}
func (NopObserver) FetchFinished(Range, uint64, error) {}
func (NopObserver) WindowGrown(Range, uint64) {}
func (NopObserver) ReadServed(uint64, int) {}
func (NopObserver) Seek(uint64, uint64) {}
