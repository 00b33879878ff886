package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/groexpert13/sheet/internal/ledger"
	"github.com/groexpert13/sheet/internal/logging"
)

// ErrClosed is returned by Record once Close has been called.
var ErrClosed = errors.New("async ledger closed")

// Store wraps a ledger.Store with asynchronous batch writes.
// Entries are queued in memory and written in batches so recording never
// holds up a finished turn.
// WARNING: Entries may be lost if the process crashes before flushing.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	logger        *logging.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Channel buffer size (default: 1000)
	NumWorkers    int           // Number of parallel batch writers (default: 1)
	Logger        *logging.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger.With("[async-ledger] "),
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}

	s.logger.Debugf("started %d worker(s), batch_size=%d, flush_interval=%v, buffer=%d",
		cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		ctx := context.Background()
		written := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				s.logger.Errorf("worker-%d writing turn %s: %v", workerID, entry.TurnID, err)
				continue
			}
			written++
		}
		s.logger.Debugf("worker-%d flushed %d/%d entries in %v", workerID, written, len(batch), time.Since(start))
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record queues an entry for asynchronous writing. It never blocks; when the
// queue is full the entry is dropped and counted.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.entryChan <- entry:
	default:
		s.dropped.Add(1)
		s.logger.Warnf("queue full, dropping turn %s", entry.TurnID)
	}
	return nil
}

// Dropped reports how many entries were discarded because the queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, user string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, user)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, user string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, user, limit)
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.entryChan)
	s.mu.Unlock()

	s.wg.Wait()
	return s.underlying.Close()
}
