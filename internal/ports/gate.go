package ports

// Gate reports whether a burst may start now. The backing signal is owned
// by a competing job that shares the photodiode/ADC path; implementations
// only read it, with a snapshot-consistent access, and never set it.
type Gate interface {
	Clear() bool
}

// GateFunc adapts a plain predicate into a Gate.
type GateFunc func() bool

func (f GateFunc) Clear() bool { return f() }
