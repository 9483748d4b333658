package afteryou

import (
	"context"

	"github.com/Swind/go-after-you/core"
	"github.com/Swind/go-after-you/worker"
)

// ReplyWithResult receives the outcome of an offloaded call on the scheduler.
type ReplyWithResult[T any] func(ctx context.Context, result T, err error) Result

// RunInWorkerAndReply offloads fnSource to the worker and, once it finished,
// enqueues reply on the scheduler at replyPriority. The returned call can be
// used to wait for the worker without waiting for the reply.
//
// The worker always finishes before the reply starts, and the reply sees the
// values the worker produced. The reply runs on the host thread like any
// other task, so it may touch state owned by the scheduler.
//
// Example:
//
//	afteryou.RunInWorkerAndReply(ctx, rt,
//	    `func(n int) int { return n * n }`, []any{12}, worker.RunOptions{},
//	    func(ctx context.Context, sq int, err error) afteryou.Result {
//	        render(sq)
//	        return afteryou.Immediate(err)
//	    },
//	    afteryou.PriorityHigh,
//	)
func RunInWorkerAndReply[T any](
	ctx context.Context,
	rt *Runtime,
	fnSource string,
	args []any,
	opts worker.RunOptions,
	reply ReplyWithResult[T],
	replyPriority Priority,
) *worker.Call {
	call := rt.worker.Start(ctx, fnSource, args, opts)

	go func() {
		raw, err := call.Result()

		var result T
		if err == nil && raw != nil {
			result, err = worker.Convert[T](raw)
		}

		rt.scheduler.AddNamedTask("worker-reply", func(ctx context.Context) core.Result {
			return reply(ctx, result, err)
		}, replyPriority)
	}()

	return call
}

// OffloadTask returns a task that offloads fnSource and stays pending until
// the worker finished. On a scheduler that awaits pending results the queue
// does not advance in the meantime; use RunInWorkerAndReply to keep it moving.
func OffloadTask(rt *Runtime, fnSource string, args []any, opts worker.RunOptions) Task {
	return func(ctx context.Context) core.Result {
		return core.Pending(rt.worker.Start(ctx, fnSource, args, opts).Future())
	}
}
