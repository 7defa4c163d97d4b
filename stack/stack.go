/*
	Package stack is the process-wide lock stack that serializes overlay
	mutations and enforces restore ordering.

	Two guarantees, both load-bearing:

	  1. At most one enable or restore body executes at a time, sharing a
	     single critical section across both operation kinds.  Two
	     overlays interleaving their probe-and-archive steps against the
	     same paths would corrupt each other's backups.
	  2. Restores must happen in the exact reverse order of enables.
	     Restoring an older instance while a newer one's files are still
	     laid on top would resurrect stale content.

	Violating (2) is answered with a full drain -- every stacked instance
	restored, top to bottom -- before the ordering error is surfaced, so
	the caller gets a failure but the host gets a clean slate.
*/
package stack

import (
	"context"
	"sync"
	"time"

	. "github.com/warpfork/go-errcat"
	"go.uber.org/zap"

	"go.polydawn.net/veneer"
)

/*
	One enabled overlay instance as the stack sees it.

	Drain restores the instance *without* going back through Release
	(which would re-check stack order and deadlock on the critical
	section); it must be safe to call exactly once, from within the
	critical section.
*/
type Item struct {
	ID    string
	Drain func(ctx context.Context) error
}

type Stack struct {
	waitTimeout time.Duration // how long a caller may queue for the critical section
	execTimeout time.Duration // how long one enable/restore body may run
	logger      *zap.Logger

	sem chan struct{} // capacity 1: the critical section

	mu    sync.Mutex
	items []Item // currently-enabled instances, most recent last
}

func New(waitTimeout, execTimeout time.Duration, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		waitTimeout: waitTimeout,
		execTimeout: execTimeout,
		logger:      logger,
		sem:         make(chan struct{}, 1),
	}
}

/*
	Acquire serializes execution of an enable body, and pushes the given
	item onto the stack when the body succeeds.

	Exceeding the wait timeout or the execution timeout is a fatal,
	reported failure for this call; nothing is retried.  Note that a
	timed-out body is not interrupted mid-mutation (there is no safe way
	to do that): the critical section stays held until it actually
	returns, and if it then turns out to have succeeded, the item is
	pushed anyway so that a global drain can still find and undo it.
*/
func (s *Stack) Acquire(ctx context.Context, item Item, op func(ctx context.Context) error) error {
	return s.run(ctx, "enable", op, func() {
		s.mu.Lock()
		s.items = append(s.items, item)
		s.mu.Unlock()
	})
}

/*
	Release checks the given id against the top of the stack.

	If it matches, the restore body runs inside the critical section and
	the stack is popped on success.  If it does not match, the *entire*
	stack is drained, top to bottom, and an ErrLockOrdering is returned:
	the out-of-order call is unrecoverable, but the system is brought
	back to a clean slate before the error propagates.

	The check happens only after the critical section is held.  A release
	queued behind an in-flight enable must see that enable's push: judging
	order from a stale snapshot would let an older instance restore
	underneath a newer one, which is the exact corruption this stack
	exists to prevent.
*/
func (s *Stack) Release(ctx context.Context, id string, op func(ctx context.Context) error) error {
	if err := s.acquireSem(ctx, "restore"); err != nil {
		return err
	}

	s.mu.Lock()
	n := len(s.items)
	ordered := n > 0 && s.items[n-1].ID == id
	s.mu.Unlock()

	if !ordered {
		s.drainLocked(ctx)
		<-s.sem
		return Errorf(veneer.ErrLockOrdering,
			"restore of instance %q violates stack order: overlays must be restored in the reverse order they were enabled (the full stack has been drained)", id)
	}

	return s.runLocked(ctx, "restore", op, func() {
		s.popID(id)
	})
}

/*
	DrainAll restores every stacked instance, top to bottom.  Used as the
	global emergency hook (end-of-suite safety net) so a forgotten
	restore never leaves overlay state in place.  Individual drain
	failures are logged and do not stop the sweep.
*/
func (s *Stack) DrainAll(ctx context.Context) error {
	if err := s.acquireSem(ctx, "drain"); err != nil {
		return err
	}
	defer func() { <-s.sem }()
	s.drainLocked(ctx)
	return nil
}

// Depth reports how many instances are currently enabled.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// TopID returns the id of the most recently enabled instance, or "".
func (s *Stack) TopID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return ""
	}
	return s.items[len(s.items)-1].ID
}

// popID removes the stacked item with the given id, searching from the
// top.  Removal is by identity rather than position: by the time a
// restore body finishes, a late-succeeding enable may have pushed on
// top of it, and blindly popping the last element would discard that
// newer item instead.
func (s *Stack) popID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// drainLocked pops and drains every item, newest first.  Must be called
// holding the critical section.  Items are popped even when their drain
// errors: retrying a failed restore in a loop helps nobody.
func (s *Stack) drainLocked(ctx context.Context) {
	for {
		s.mu.Lock()
		n := len(s.items)
		if n == 0 {
			s.mu.Unlock()
			return
		}
		item := s.items[n-1]
		s.items = s.items[:n-1]
		s.mu.Unlock()

		s.logger.Info("draining overlay instance", zap.String("id", item.ID))
		if err := item.Drain(ctx); err != nil {
			s.logger.Error("drain of overlay instance failed; filesystem may retain overlay content",
				zap.String("id", item.ID), zap.Error(err))
		}
	}
}

func (s *Stack) acquireSem(ctx context.Context, kind string) error {
	waitCtx := ctx
	if s.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.waitTimeout)
		defer cancel()
	}
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return Errorf(veneer.ErrCancelled, "%s: cancelled while queued for the overlay lock", kind)
		}
		return Errorf(veneer.ErrTimeout, "%s: timed out after %s waiting for the overlay lock", kind, s.waitTimeout)
	}
}

func (s *Stack) run(ctx context.Context, kind string, op func(ctx context.Context) error, onSuccess func()) error {
	if err := s.acquireSem(ctx, kind); err != nil {
		return err
	}
	return s.runLocked(ctx, kind, op, onSuccess)
}

// runLocked executes the body; the caller must already hold the
// critical section, which is released when the body returns.
func (s *Stack) runLocked(ctx context.Context, kind string, op func(ctx context.Context) error, onSuccess func()) error {
	opCtx := context.WithoutCancel(ctx) // no partial-cancel path once we begin.
	var opCancel context.CancelFunc = func() {}
	if s.execTimeout > 0 {
		opCtx, opCancel = context.WithTimeout(opCtx, s.execTimeout)
	}

	done := make(chan error, 1)
	go func() {
		err := op(opCtx)
		if err == nil {
			onSuccess()
		}
		done <- err
		opCancel()
		<-s.sem
	}()

	select {
	case err := <-done:
		return err
	case <-opCtx.Done():
		return Errorf(veneer.ErrTimeout, "%s: body exceeded execution timeout of %s", kind, s.execTimeout)
	}
}
