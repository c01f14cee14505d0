package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jwp-labs/rankduel/pkg/rankdto"
)

const (
	commitTimeout    = 10 * time.Second
	drainTimeout     = 5 * time.Minute
	statusWriteLimit = 5
)

// Queue replays durable writes to the remote store strictly in insertion
// order: the head write is committed and removed only after the remote
// confirms it, and a transient failure stops the whole drain until the next
// connectivity event. One queue instance is the sole reader of its journal.
type Queue struct {
	journal   Journal
	committer Committer
	net       Connectivity
	logger    *zap.Logger

	drainM  sync.Mutex
	notifyM sync.RWMutex
	notify  func(count int)

	startM  sync.Mutex
	started bool
	netCbID int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(journal Journal, committer Committer, net Connectivity, logger *zap.Logger) (*Queue, error) {
	if journal == nil {
		return nil, errors.New("sync queue requires a journal")
	}
	if committer == nil {
		return nil, errors.New("sync queue requires a committer")
	}
	if net == nil {
		return nil, errors.New("sync queue requires a connectivity source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		journal:   journal,
		committer: committer,
		net:       net,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// SetDrainNotifier registers the success callback. It only ever receives the
// count of confirmed commits from a drain; failures stay internal.
func (q *Queue) SetDrainNotifier(fn func(count int)) {
	q.notifyM.Lock()
	q.notify = fn
	q.notifyM.Unlock()
}

// Enqueue appends a write to the journal. It never touches the network; the
// write is delivered by a later drain.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload []byte) (*Write, error) {
	w := &Write{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    append([]byte(nil), payload...),
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.journal.Append(ctx, w); err != nil {
		return nil, fmt.Errorf("append sync write: %w", err)
	}
	q.logger.Debug("sync_enqueue",
		zap.String("write_id", w.ID),
		zap.String("kind", w.Kind))
	return w, nil
}

// Drain delivers queued writes head-first until the journal is empty or a
// transient failure blocks the head. Commit failures are not returned as
// errors, only journal faults are; the count is the number of confirmed
// commits. A write carrying a non-retryable DomainError is moved to the
// dead-letter list so it cannot block the queue forever.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	q.drainM.Lock()
	defer q.drainM.Unlock()

	drained := 0
	defer func() { q.finishDrain(drained) }()

	for {
		select {
		case <-q.stopCh:
			return drained, nil
		default:
		}

		head, err := q.journal.Peek(ctx)
		if err != nil {
			return drained, fmt.Errorf("peek sync journal: %w", err)
		}
		if head == nil {
			return drained, nil
		}

		commitCtx, cancel := context.WithTimeout(ctx, commitTimeout)
		err = q.committer.Commit(commitCtx, head.Kind, head.Payload)
		cancel()
		if err != nil {
			if permanentFailure(err) {
				q.logger.Error("sync_dead_letter",
					zap.String("write_id", head.ID),
					zap.String("kind", head.Kind),
					zap.Int("attempts", head.Attempts+1),
					zap.Error(err))
				if dlErr := q.journal.MoveHeadToDead(ctx, err.Error()); dlErr != nil {
					return drained, fmt.Errorf("dead-letter sync write: %w", dlErr)
				}
				continue
			}
			if recErr := q.journal.RecordAttempt(ctx, head.ID, err.Error()); recErr != nil {
				q.logger.Warn("sync_attempt_record_error",
					zap.String("write_id", head.ID),
					zap.Error(recErr))
			}
			q.logger.Warn("sync_drain_blocked",
				zap.String("write_id", head.ID),
				zap.String("kind", head.Kind),
				zap.Int("attempts", head.Attempts+1),
				zap.Error(err))
			return drained, nil
		}

		if err := q.journal.RemoveHead(ctx); err != nil {
			return drained, fmt.Errorf("dequeue sync write: %w", err)
		}
		drained++
	}
}

// Start wires the queue to connectivity: every offline-to-online edge
// triggers a drain, and a queue that starts online drains eagerly.
func (q *Queue) Start() {
	q.startM.Lock()
	defer q.startM.Unlock()
	if q.started {
		return
	}
	q.started = true

	q.netCbID = q.net.OnChange(func(online bool) {
		if !online {
			return
		}
		q.spawnDrain("connectivity")
	})
	if q.net.Online() {
		q.spawnDrain("startup")
	}
}

// Kick schedules an asynchronous drain attempt. Callers use it right after
// Enqueue so a write does not wait for the next connectivity event. Offline
// it is a no-op.
func (q *Queue) Kick() {
	if !q.net.Online() {
		return
	}
	q.spawnDrain("kick")
}

// StartPeriodicDrain retries blocked writes on a timer, as a safety net for
// connectivity edges that never fire. Close stops the loop.
func (q *Queue) StartPeriodicDrain(interval time.Duration) {
	if interval <= 0 {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ticker.C:
				if !q.net.Online() {
					continue
				}
				n, err := q.journal.Len(context.Background())
				if err != nil || n == 0 {
					continue
				}
				q.drainWithTimeout("periodic")
			}
		}
	}()
}

// Status reports queue depth and the first few pending writes.
func (q *Queue) Status(ctx context.Context) (*rankdto.QueueStatus, error) {
	pending, err := q.journal.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync queue length: %w", err)
	}
	dead, err := q.journal.DeadLen(ctx)
	if err != nil {
		return nil, fmt.Errorf("dead-letter length: %w", err)
	}
	writes, err := q.journal.Pending(ctx, statusWriteLimit)
	if err != nil {
		return nil, fmt.Errorf("pending sync writes: %w", err)
	}

	st := &rankdto.QueueStatus{
		Online:       q.net.Online(),
		Pending:      pending,
		DeadLettered: dead,
	}
	for _, w := range writes {
		st.Writes = append(st.Writes, rankdto.PendingWrite{
			ID:         w.ID,
			Kind:       w.Kind,
			EnqueuedAt: w.EnqueuedAt,
			Attempts:   w.Attempts,
			LastError:  w.LastError,
		})
	}
	return st, nil
}

// Close detaches from connectivity, stops background loops and waits for any
// in-flight drain.
func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.startM.Lock()
	if q.started {
		q.net.RemoveOnChange(q.netCbID)
		q.started = false
	}
	q.startM.Unlock()
	q.wg.Wait()
}

func (q *Queue) spawnDrain(trigger string) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.drainWithTimeout(trigger)
	}()
}

func (q *Queue) drainWithTimeout(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if _, err := q.Drain(ctx); err != nil {
		q.logger.Error("sync_drain_error",
			zap.String("trigger", trigger),
			zap.Error(err))
	}
}

func (q *Queue) finishDrain(count int) {
	if count == 0 {
		return
	}
	q.logger.Info("sync_drain", zap.Int("count", count))
	q.notifyM.RLock()
	fn := q.notify
	q.notifyM.RUnlock()
	if fn != nil {
		fn(count)
	}
}

// permanentFailure reports whether a commit error should never be retried.
func permanentFailure(err error) bool {
	var de rankdto.DomainError
	return errors.As(err, &de) && !de.Retryable
}
