package host

// InputSource reports, without blocking, whether user input is waiting to be
// dispatched to the loop.
type InputSource interface {
	Pending() bool
}

// InputFunc adapts a function to an InputSource.
type InputFunc func() bool

func (f InputFunc) Pending() bool { return f() }
