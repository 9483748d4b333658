package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/Swind/go-after-you/core"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Options configures an Offloader.
type Options struct {
	// Enabled reports whether isolated execution is available. A disabled
	// Offloader fails every call with ErrUnsupported.
	Enabled bool

	// DefaultTimeout applies when RunOptions.Timeout is zero. Zero means no timeout.
	DefaultTimeout time.Duration

	// TempDir holds the transient script files. Defaults to os.TempDir().
	TempDir string

	// Logger defaults to a NoOpLogger.
	Logger core.Logger
}

// RunOptions configures one call.
type RunOptions struct {
	// Imports lists standard library packages the function source uses.
	Imports []string

	// Timeout overrides Options.DefaultTimeout.
	Timeout time.Duration
}

// Offloader runs Go functions, given as source, in a fresh interpreter per
// call. Nothing is shared between the caller and the interpreter except the
// serialized arguments and the returned value.
type Offloader struct {
	opts   Options
	logger core.Logger
	active atomic.Int32
	calls  atomic.Int64
}

// New creates an Offloader.
func New(opts Options) *Offloader {
	if opts.Logger == nil {
		opts.Logger = core.NewNoOpLogger()
	}
	return &Offloader{opts: opts, logger: opts.Logger}
}

// Enabled reports whether calls can run.
func (o *Offloader) Enabled() bool { return o.opts.Enabled }

// Active returns the number of isolated contexts currently alive.
func (o *Offloader) Active() int { return int(o.active.Load()) }

// Calls returns the number of calls started since creation.
func (o *Offloader) Calls() int64 { return o.calls.Load() }

// Run evaluates fnSource, a Go function literal such as
// `func(a, b int) int { return a + b }`, and calls it with args.
//
// The function may return nothing, a value, an error, or a value and an
// error. A returned error or a panic is reported as ErrRemote. Every failure
// is an *Error. The interpreter and its script file are discarded on return.
func (o *Offloader) Run(ctx context.Context, fnSource string, args []any, opts RunOptions) (result any, err error) {
	if !o.opts.Enabled {
		return nil, newError(ErrUnsupported, "", nil)
	}

	rendered, err := renderArgs(args)
	if err != nil {
		return nil, newError(ErrTransport, "serialize arguments", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	o.calls.Add(1)
	o.active.Add(1)
	defer o.active.Add(-1)

	path, err := o.writeScript(renderScript(fnSource, opts.Imports))
	if err != nil {
		return nil, newError(ErrTransport, "write script", err)
	}
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			o.logger.Warn("Failed to remove worker script", core.F("path", path), core.F("error", rmErr))
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, newError(ErrTransport, "interpreter panicked", fmt.Errorf("%v", rec))
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, newError(ErrTransport, "load stdlib symbols", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, newError(ErrTransport, "compile function", err)
	}

	fn, err := i.Eval(fnVar)
	if err != nil {
		return nil, newError(ErrTransport, "resolve function", err)
	}
	if fn.Kind() != reflect.Func {
		return nil, newError(ErrTransport, fmt.Sprintf("source evaluates to %s, not a function", fn.Kind()), nil)
	}
	if !fn.Type().IsVariadic() && fn.Type().NumIn() != len(args) {
		return nil, newError(ErrTransport,
			fmt.Sprintf("function takes %d arguments, got %d", fn.Type().NumIn(), len(args)), nil)
	}

	invoke, err := renderInvoke(fn.Type(), rendered)
	if err != nil {
		return nil, newError(ErrTransport, "", err)
	}
	if _, err := i.Eval(invoke); err != nil {
		return nil, newError(ErrTransport, "bind arguments", err)
	}

	started := time.Now()
	if _, err := i.EvalWithContext(runCtx, invokeFn+"()"); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			o.logger.Warn("Worker call timed out", core.F("timeout", timeout))
			return nil, newError(ErrTimeout, fmt.Sprintf("after %v", timeout), err)
		case ctx.Err() != nil:
			return nil, newError(ErrTransport, "caller cancelled", ctx.Err())
		default:
			return nil, newError(ErrRemote, "", err)
		}
	}
	o.logger.Debug("Worker call finished", core.F("duration", time.Since(started)))

	if remoteErr := errorValue(i, errVar); remoteErr != nil {
		return nil, newError(ErrRemote, "", remoteErr)
	}
	return interfaceValue(i, resultVar), nil
}

func (o *Offloader) writeScript(src string) (string, error) {
	f, err := os.CreateTemp(o.opts.TempDir, "afteryou-worker-*.go")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(src); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func interfaceValue(i *interp.Interpreter, name string) any {
	v, err := i.Eval(name)
	if err != nil || !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func errorValue(i *interp.Interpreter, name string) error {
	v := interfaceValue(i, name)
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return errors.New(err.Error())
	}
	return fmt.Errorf("%v", v)
}

// Run calls o.Run and converts the result to T.
func Run[T any](ctx context.Context, o *Offloader, fnSource string, args []any, opts RunOptions) (T, error) {
	v, err := o.Run(ctx, fnSource, args, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	return Convert[T](v)
}

// Convert converts a value returned by Run to T. A nil value yields the zero
// T. Values of a different but convertible type, such as an int64 for an
// int, are converted; anything else fails with ErrTransport.
func Convert[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}

	rv := reflect.ValueOf(v)
	want := reflect.TypeOf((*T)(nil)).Elem()
	if rv.Type().ConvertibleTo(want) {
		return rv.Convert(want).Interface().(T), nil
	}
	return zero, newError(ErrTransport, fmt.Sprintf("result has type %T, want %s", v, want), nil)
}

// Call is an offload started with Start.
type Call struct {
	done   chan struct{}
	result any
	err    error
	future *core.Future
}

// Start runs the call on its own goroutine.
func (o *Offloader) Start(ctx context.Context, fnSource string, args []any, opts RunOptions) *Call {
	future, resolve := core.NewFuture()
	c := &Call{done: make(chan struct{}), future: future}
	go func() {
		c.result, c.err = o.Run(ctx, fnSource, args, opts)
		close(c.done)
		resolve(c.err)
	}()
	return c
}

// Done is closed when the call has finished.
func (c *Call) Done() <-chan struct{} { return c.done }

// Result waits for the call and returns its outcome.
func (c *Call) Result() (any, error) {
	<-c.done
	return c.result, c.err
}

// Future returns a future that resolves with the call's error, suitable for
// returning from a task as core.Pending.
func (c *Call) Future() *core.Future { return c.future }
