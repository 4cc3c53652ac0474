// Package daemon wires C1 through C10 together and supervises their
// lifetimes: sequential startup of each collaborator followed by a
// signal-driven shutdown, across a multi-goroutine worker set
// supervised with errgroup.
package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/redis/go-redis/v9"

	"github.com/btu-sched/daemon/internal/config"
	"github.com/btu-sched/daemon/internal/enqueue"
	"github.com/btu-sched/daemon/internal/ipc"
	"github.com/btu-sched/daemon/internal/migrations"
	"github.com/btu-sched/daemon/internal/obs"
	"github.com/btu-sched/daemon/internal/payload"
	"github.com/btu-sched/daemon/internal/refresh"
	"github.com/btu-sched/daemon/internal/review"
	"github.com/btu-sched/daemon/internal/schedindex"
	"github.com/btu-sched/daemon/internal/source"
	"github.com/btu-sched/daemon/internal/timerloop"
	"github.com/btu-sched/daemon/internal/workqueue"
)

// ShutdownDeadline bounds how long Run waits for the worker threads to
// join after a shutdown signal, and separately how long shutdown waits
// for the MySQL pool and Redis client to close.
const ShutdownDeadline = 5 * time.Second

// ErrStoreInit wraps any startup failure to open/ping/migrate MySQL or to
// ping Redis, so main can distinguish an unrecoverable store error (exit
// code 2) from every other startup failure (exit code 1).
var ErrStoreInit = errors.New("unrecoverable store error at startup")

// redisPingTimeout bounds the one-time Redis reachability check at startup.
const redisPingTimeout = 5 * time.Second

// Daemon holds every long-lived collaborator built during startup.
type Daemon struct {
	log *slog.Logger
	cfg *config.Config

	db  *sql.DB
	rdb redis.Cmdable

	queue *workqueue.Queue
	index *schedindex.Index

	reviewWorker  *review.Worker
	refreshWorker *refresh.Worker
	timerLoop     *timerloop.Loop
	ipcListener   *ipc.Listener

	socket net.Listener
}

// New performs the full startup sequence: config is already loaded by
// the caller; everything after that happens here in order: logger,
// MySQL pool, migrations,
// Redis client, IPC bind, then the collaborator wiring. The daemon is
// not yet accepting work until Run's synchronous full refresh completes.
func New(cfg *config.Config) (*Daemon, error) {
	instanceID := uuid.New().String()
	log := obs.NewLogger(cfg.Logging).With(slog.String("daemon_instance_id", instanceID))

	db, err := sql.Open("mysql", cfg.MySQL.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql pool: %w: %w", ErrStoreInit, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w: %w", ErrStoreInit, err)
	}

	if err := migrations.Run(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w: %w", ErrStoreInit, err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), redisPingTimeout)
	err = rdb.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging redis: %w: %w", ErrStoreInit, err)
	}

	sock, err := ipc.Bind(cfg.Socket.Path, cfg.Socket.FileGroupOwner)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("binding ipc socket: %w", err)
	}

	reader := source.NewMySQLReader(db)
	fetcher := payload.NewHTTPFetcher(cfg.Webserver.BaseURL(), cfg.Webserver.Token, config.DefaultFetchTimeout)
	enqueuer := enqueue.NewRedisEnqueuer(rdb)
	queue := workqueue.New()
	index := schedindex.New()

	reviewWorker := review.New(obs.Component(log, "review"), reader, fetcher, enqueuer, index, queue)
	refreshWorker := refresh.New(obs.Component(log, "refresh"), reader, queue, cfg.Scheduler.FullRefreshInterval())
	loop := timerloop.New(obs.Component(log, "timerloop"), reader, fetcher, enqueuer, index, queue, cfg.Scheduler.PollingInterval())
	ipcListener := ipc.New(obs.Component(log, "ipc"), sock, reader, fetcher, enqueuer, index, queue, refreshWorker)

	return &Daemon{
		log: log, cfg: cfg, db: db, rdb: rdb,
		queue: queue, index: index,
		reviewWorker: reviewWorker, refreshWorker: refreshWorker,
		timerLoop: loop, ipcListener: ipcListener, socket: sock,
	}, nil
}

// Run performs the synchronous startup refresh and then blocks,
// supervising C7/C8/C9/C10 until ctx is cancelled. The workers report no
// error to the group, so a worker that returns on its own does not end Run.
func (d *Daemon) Run(ctx context.Context) error {
	refreshCtx, cancel := context.WithTimeout(ctx, refresh.SQLTimeout)
	err := d.refreshWorker.RunOnce(refreshCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("startup full refresh: %w", err)
	}
	d.log.Info("daemon ready")

	group, groupCtx := errgroup.WithContext(ctx)
	cancelCh := make(chan struct{})

	group.Go(func() error {
		runSupervised(d.log, "review", cancelCh, d.reviewWorker.Run)
		return nil
	})
	group.Go(func() error {
		runSupervised(d.log, "refresh", cancelCh, func() { d.refreshWorker.Run(cancelCh) })
		return nil
	})
	group.Go(func() error {
		runSupervised(d.log, "timerloop", cancelCh, func() { d.timerLoop.Run(cancelCh) })
		return nil
	})
	group.Go(func() error {
		runSupervised(d.log, "ipc", cancelCh, d.ipcListener.Run)
		return nil
	})

	<-groupCtx.Done()
	d.shutdown(cancelCh)

	joined := make(chan error, 1)
	go func() { joined <- group.Wait() }()
	select {
	case err := <-joined:
		return err
	case <-time.After(ShutdownDeadline):
		d.log.Warn("workers did not stop within the shutdown deadline, exiting anyway")
		return nil
	}
}

func (d *Daemon) shutdown(cancelCh chan struct{}) {
	d.log.Info("shutting down")
	close(cancelCh)
	d.queue.Close()
	_ = d.ipcListener.Close()

	done := make(chan struct{})
	go func() {
		_ = d.db.Close()
		if closer, ok := d.rdb.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownDeadline):
		d.log.Warn("shutdown deadline exceeded, exiting anyway")
	}
}

// WaitForSignal returns a context cancelled on SIGINT or SIGTERM.
func WaitForSignal() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
