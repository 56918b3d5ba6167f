package indexer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-while/go-nzbindex/internal/cache"
	"github.com/go-while/go-nzbindex/internal/config"
	"github.com/go-while/go-nzbindex/internal/database"
	"github.com/go-while/go-nzbindex/internal/matcher"
	"github.com/go-while/go-nzbindex/internal/models"
	"github.com/go-while/go-nzbindex/internal/nntp"
)

// ErrShuttingDown is returned when an operation observes shutdown.
var ErrShuttingDown = errors.New("indexer: shutting down")

const (
	// seenCacheMaxPerGroup bounds the remembered article numbers per
	// group; one refresh cycle of a busy group fits comfortably.
	seenCacheMaxPerGroup = 1 << 20
	seenCacheMaxAge      = time.Hour
)

// Indexer composes the connection pools, the planner, the task queue
// and the store, and exposes the control operations the outer shell
// (HTTP/RPC layer) consumes.
type Indexer struct {
	cfg      *config.MainConfig
	db       *database.Database
	registry *matcher.Registry
	planner  *Planner
	pools    map[string]*nntp.Pool
	seen     *cache.SeenCache

	tasks chan Task
	quit  chan struct{}
	wg    sync.WaitGroup

	// pending counts tasks that are queued or running, including
	// retries. Shutdown drains until it reaches zero.
	pending atomic.Int64

	accepting atomic.Bool
	stopOnce  sync.Once
}

// New builds an Indexer from its collaborators and starts the workers.
// The matcher registry must be fully loaded; it is shared immutably.
func New(cfg *config.MainConfig, db *database.Database, registry *matcher.Registry) *Indexer {
	ix := &Indexer{
		cfg:      cfg,
		db:       db,
		registry: registry,
		planner:  &Planner{DB: db},
		pools:    make(map[string]*nntp.Pool, len(cfg.Servers)),
		seen:     cache.NewSeenCache(seenCacheMaxPerGroup, seenCacheMaxAge),
		tasks:    make(chan Task, cfg.QueueSize),
		quit:     make(chan struct{}),
	}
	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		ix.pools[srv.Addr()] = nntp.NewPool(srv)
	}
	ix.accepting.Store(true)

	workers := cfg.WorkerCount
	if workers < 1 {
		workers = config.DefaultWorkerCount
	}
	for i := 0; i < workers; i++ {
		ix.wg.Add(1)
		go ix.worker(i)
	}
	log.Printf("[INDEXER] started %d workers for %d servers", workers, len(ix.pools))
	return ix
}

// DB exposes the store read paths to the consumer layer.
func (ix *Indexer) DB() *database.Database {
	return ix.db
}

// Registry returns the shared matcher registry.
func (ix *Indexer) Registry() *matcher.Registry {
	return ix.registry
}

func (ix *Indexer) pool(server string) (*nntp.Pool, error) {
	pool, ok := ix.pools[server]
	if !ok {
		return nil, fmt.Errorf("indexer: unknown server '%s'", server)
	}
	return pool, nil
}

// primary returns the server used for planning and fetching. Article
// numbering is per server, so fetch planning always targets the first
// configured server; the others serve LIST refreshes.
func (ix *Indexer) primary() *config.Server {
	return &ix.cfg.Servers[0]
}

// enqueue puts a task on the bounded queue, blocking for back-pressure.
func (ix *Indexer) enqueue(task Task) error {
	if !ix.accepting.Load() {
		return ErrShuttingDown
	}
	ix.pending.Add(1)
	select {
	case ix.tasks <- task:
		return nil
	case <-ix.quit:
		ix.pending.Add(-1)
		return ErrShuttingDown
	}
}

// RefreshGroups enqueues a group list refresh for every configured server.
func (ix *Indexer) RefreshGroups() error {
	for i := range ix.cfg.Servers {
		task := Task{Kind: KindListGroups, Server: ix.cfg.Servers[i].Addr()}
		if err := ix.enqueue(task); err != nil {
			return err
		}
	}
	return nil
}

// RefreshWatched plans and enqueues fetches for every watched group.
// count > 0 forces an initial sweep of at most count articles per
// group; count <= 0 plans incrementally from the indexed high-water
// (a group with nothing indexed yet starts inside the configured
// backfill window).
func (ix *Indexer) RefreshWatched(count int64) error {
	watched, err := ix.db.Watched()
	if err != nil {
		return err
	}
	for _, group := range watched {
		if group.Missing {
			continue
		}
		if err := ix.planGroup(group.Name, count); err != nil {
			if errors.Is(err, ErrShuttingDown) {
				return err
			}
			log.Printf("[INDEXER] planning '%s' failed: %v", group.Name, err)
		}
	}
	return nil
}

// TopUp plans an initial sweep of count articles for a single group.
func (ix *Indexer) TopUp(group string, count int64) error {
	if count < 1 {
		count = ix.cfg.Backfill
	}
	return ix.planGroup(group, count)
}

// planGroup asks the primary server for the group's range, derives the
// missing chunks and enqueues one FetchRange task per chunk.
func (ix *Indexer) planGroup(group string, count int64) error {
	srv := ix.primary()
	pool, err := ix.pool(srv.Addr())
	if err != nil {
		return err
	}
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	gi, err := conn.SelectGroup(group)
	pool.Put(conn)
	if err != nil {
		if errors.Is(err, nntp.ErrNewsgroupNotFound) {
			if dbErr := ix.db.MarkGroupMissing(group); dbErr != nil {
				log.Printf("[INDEXER] failed to mark group '%s' missing: %v", group, dbErr)
			}
		}
		return err
	}

	// the group was seen on the server; make sure the row exists
	if err := ix.db.UpsertGroup(group); err != nil {
		return err
	}

	initial := count > 0
	backfill := count
	if backfill < 1 {
		backfill = ix.cfg.Backfill
	}
	chunks, err := ix.planner.Plan(group, gi.First, gi.Last, srv.XoverSpan, backfill, initial)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	log.Printf("[INDEXER] '%s': server range %d-%d, enqueueing %d chunks", group, gi.First, gi.Last, len(chunks))
	for _, chunk := range chunks {
		task := Task{
			Kind:   KindFetchRange,
			Server: srv.Addr(),
			Group:  group,
			Lo:     chunk.Lo,
			Hi:     chunk.Hi,
		}
		if err := ix.enqueue(task); err != nil {
			return err
		}
	}
	return nil
}

// Watch flags a group for periodic fetching.
func (ix *Indexer) Watch(group string) error {
	existed, err := ix.db.SetWatch(group, true)
	if err != nil {
		return err
	}
	if !existed {
		// group not seen by LIST yet; create the row and watch it
		if err := ix.db.UpsertGroup(group); err != nil {
			return err
		}
		if _, err := ix.db.SetWatch(group, true); err != nil {
			return err
		}
	}
	return nil
}

// Unwatch clears the watch flag.
func (ix *Indexer) Unwatch(group string) error {
	_, err := ix.db.SetWatch(group, false)
	return err
}

// Rematch walks every article without a segment and applies the
// registry again. Used after matcher template updates; returns the
// number of new segments written.
func (ix *Indexer) Rematch() (int, error) {
	// Collect first: the iteration holds a read cursor, writes must
	// not run before it is closed.
	var segments []models.Segment
	err := ix.db.UnmatchedArticles(func(a models.Article) error {
		seg, _, ok := ix.registry.MatchAny(a.Subject)
		if !ok {
			return nil
		}
		seg.MessageID = a.MessageID
		segments = append(segments, seg)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		return 0, nil
	}
	if err := ix.db.UpsertSegments(segments); err != nil {
		return 0, err
	}
	return len(segments), nil
}

// Shutdown stops accepting new tasks, drains the queue up to the
// deadline, then stops the workers and quits all sessions. Unstarted
// tasks left after the deadline are discarded.
func (ix *Indexer) Shutdown(deadline time.Duration) error {
	ix.accepting.Store(false)

	drained := false
	waitUntil := time.Now().Add(deadline)
	for time.Now().Before(waitUntil) {
		if ix.pending.Load() == 0 {
			drained = true
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !drained {
		log.Printf("[INDEXER] shutdown deadline reached, discarding %d queued tasks", len(ix.tasks))
	}

	ix.stopOnce.Do(func() {
		close(ix.quit)
	})
	ix.wg.Wait()

	for _, pool := range ix.pools {
		pool.ClosePool()
	}
	ix.seen.Stop()
	log.Printf("[INDEXER] shutdown complete (drained=%v), seen cache: %v", drained, ix.seen.GetStats())
	if !drained {
		return ErrShuttingDown
	}
	return nil
}
