// Package afteryou provides a cooperative, priority-ordered task scheduler
// that shares a single host thread with input handling.
//
// Work is split into short tasks posted at one of four priorities. The
// scheduler drains them highest-priority first, FIFO within a priority,
// for at most one frame budget (5ms by default) and then hands control
// back to the host through the best suspension primitive the host offers.
// Input delivered to the host runs between slices, so long-running work
// never starves it.
//
// # Quick Start
//
//	rt := afteryou.New(config.Default(), afteryou.RuntimeOptions{})
//	defer rt.Close()
//
//	h := rt.AddTaskWithPriority(core.Sync(func(ctx context.Context) {
//		fmt.Println("input-critical work")
//	}), afteryou.PriorityHigh)
//
//	rt.CancelTask(h) // no effect once the task ran
//
// # Key Concepts
//
// Scheduler: Four FIFO queues (High, Normal, Low, Idle), a lazily consulted
// set of cancelled handles, and a work loop that runs on the host thread.
//
// Host: A single-threaded event loop (package host) with cooperative yield,
// priority-tagged posts, paired message ports and clamped timers. Its
// capabilities are probed once and passed to the scheduler by value.
//
// AfterYou: A throttled suspension point for long-running code that is not
// split into tasks. It only suspends after its budget has elapsed and, when
// the host can tell, only if input is actually waiting.
//
// RunInWorker: Offloads a pure Go function, given as source, to a fresh
// interpreter and returns its result.
//
// # Example
//
//	rt := afteryou.New(config.Default(), afteryou.RuntimeOptions{})
//	defer rt.Close()
//
//	rt.AddTask(func(ctx context.Context) core.Result {
//		for i := 0; i < 1_000_000; i++ {
//			crunch(i)
//			if err := rt.AfterYou(ctx); err != nil {
//				return core.Immediate(err)
//			}
//		}
//		return core.Immediate(nil)
//	})
//
// For more examples, see the examples directory.
package afteryou
