package engine

// signal is a coalescing wake-up: any number of Notify calls before the
// receiver wakes collapse into one.
type signal chan struct{}

func newSignal() signal {
	return make(signal, 1)
}

// Notify wakes the receiver without blocking.
func (s signal) Notify() {
	select {
	case s <- struct{}{}:
	default:
	}
}
