// Package ipc implements the IPC Listener (C10): a local-domain socket
// accepting newline-delimited JSON requests, with the usual Unix-socket
// bind/cleanup handling (stale-socket removal, directory creation,
// permission tightening after bind).
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/xid"

	"github.com/btu-sched/daemon/internal/enqueue"
	"github.com/btu-sched/daemon/internal/payload"
	"github.com/btu-sched/daemon/internal/refresh"
	"github.com/btu-sched/daemon/internal/schedindex"
	"github.com/btu-sched/daemon/internal/schedule"
	"github.com/btu-sched/daemon/internal/source"
	"github.com/btu-sched/daemon/internal/workqueue"
)

// request is the newline-delimited JSON envelope the IPC protocol uses.
type request struct {
	RequestType    string          `json:"request_type"`
	RequestContent json.RawMessage `json:"request_content"`
}

type scheduleIDContent struct {
	ScheduleID string `json:"schedule_id"`
}

// Listener is the C10 worker.
type Listener struct {
	log       *slog.Logger
	socket    net.Listener
	groupName string

	reader   source.Reader
	fetcher  payload.Fetcher
	enqueuer enqueue.Enqueuer
	index    *schedindex.Index
	queue    *workqueue.Queue
	refresh  *refresh.Worker
}

// Bind creates the Unix socket at path, removing any stale socket file
// left behind by a prior unclean shutdown, and sets group ownership and
// 0660 permissions so trusted local processes can connect without root.
func Bind(path, groupName string) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating socket directory %s: %w", dir, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding socket %s: %w", path, err)
	}

	if err := chownToGroup(path, groupName); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("setting group ownership on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("setting permissions on %s: %w", path, err)
	}

	return ln, nil
}

func chownToGroup(path, groupName string) error {
	if groupName == "" {
		return nil
	}
	grp, err := user.LookupGroup(groupName)
	if err != nil {
		return fmt.Errorf("looking up group %q: %w", groupName, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid for group %q: %w", groupName, err)
	}
	return os.Chown(path, -1, gid)
}

// New builds an IPC Listener over an already-bound socket.
func New(log *slog.Logger, socket net.Listener, reader source.Reader, fetcher payload.Fetcher, enqueuer enqueue.Enqueuer, index *schedindex.Index, queue *workqueue.Queue, refreshWorker *refresh.Worker) *Listener {
	return &Listener{
		log: log, socket: socket, reader: reader, fetcher: fetcher,
		enqueuer: enqueuer, index: index, queue: queue, refresh: refreshWorker,
	}
}

// Run accepts connections until the listener is closed (normally by
// Close being called from the shutdown path).
func (l *Listener) Run() {
	for {
		conn, err := l.socket.Accept()
		if err != nil {
			l.log.Info("ipc listener stopped accepting", "error", err)
			return
		}
		go l.handle(conn)
	}
}

// Close unblocks Run by closing the underlying socket.
func (l *Listener) Close() error {
	return l.socket.Close()
}

func (l *Listener) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	line := scanner.Bytes()

	reqID := xid.New().String()

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		l.log.Warn("malformed ipc request", "request_id", reqID, "error", err)
		l.respond(conn, "error: bad_request")
		return
	}

	l.log.Debug("ipc request received", "request_id", reqID, "request_type", req.RequestType)
	resp := l.dispatch(req)
	l.respond(conn, resp)
}

func (l *Listener) respond(conn net.Conn, payload any) {
	enc := json.NewEncoder(conn)
	if err := enc.Encode(payload); err != nil {
		l.log.Warn("ipc response write failed", "error", err)
	}
}

func (l *Listener) dispatch(req request) any {
	switch req.RequestType {
	case "ping":
		return "pong"
	case "reload_schedule":
		return l.handleReloadSchedule(req)
	case "remove_schedule":
		return l.handleRemoveSchedule(req)
	case "full_refresh":
		return l.handleFullRefresh()
	case "show_queue":
		return l.handleShowQueue()
	case "show_schedule":
		return l.handleShowSchedule()
	case "run_now":
		return l.handleRunNow(req)
	default:
		return fmt.Sprintf("error: unknown_request_type %q", req.RequestType)
	}
}

func (l *Listener) decodeScheduleID(req request) (string, bool) {
	var c scheduleIDContent
	if len(req.RequestContent) == 0 {
		return "", false
	}
	if err := json.Unmarshal(req.RequestContent, &c); err != nil {
		return "", false
	}
	if c.ScheduleID == "" {
		return "", false
	}
	return c.ScheduleID, true
}

func (l *Listener) handleReloadSchedule(req request) any {
	id, ok := l.decodeScheduleID(req)
	if !ok {
		return "error: missing_schedule_id"
	}
	l.queue.Push(id)
	return "queued"
}

func (l *Listener) handleRemoveSchedule(req request) any {
	id, ok := l.decodeScheduleID(req)
	if !ok {
		return "error: missing_schedule_id"
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueue.DefaultOpTimeout)
	defer cancel()

	if err := l.enqueuer.CancelAllFor(ctx, id); err != nil {
		l.log.Error("remove_schedule: cancel_all_for failed", "schedule_id", id, "error", err)
		return "error: internal"
	}
	l.index.Remove(id)
	return "removed"
}

func (l *Listener) handleFullRefresh() any {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refresh.SQLTimeout)
		defer cancel()
		if err := l.refresh.RunOnce(ctx); err != nil {
			l.log.Error("on-demand full refresh failed", "error", err)
		}
	}()
	return "refreshing"
}

type queueSnapshotResponse struct {
	AsOf  time.Time `json:"as_of"`
	Queue []string  `json:"queue"`
}

func (l *Listener) handleShowQueue() any {
	return queueSnapshotResponse{AsOf: time.Now().UTC(), Queue: l.queue.Snapshot()}
}

type scheduleEntry struct {
	ScheduleID string    `json:"schedule_id"`
	FiresAtUTC time.Time `json:"fires_at_utc"`
}

type scheduleSnapshotResponse struct {
	AsOf      time.Time       `json:"as_of"`
	Schedules []scheduleEntry `json:"schedules"`
}

func (l *Listener) handleShowSchedule() any {
	entries := l.index.Snapshot()
	out := make([]scheduleEntry, len(entries))
	for i, e := range entries {
		out[i] = scheduleEntry{ScheduleID: e.ScheduleID, FiresAtUTC: e.FiresAtUTC}
	}
	return scheduleSnapshotResponse{AsOf: time.Now().UTC(), Schedules: out}
}

// handleRunNow enqueues a job for schedule_id immediately, bypassing C6.
// Transport hints still flow through unchanged.
func (l *Listener) handleRunNow(req request) any {
	id, ok := l.decodeScheduleID(req)
	if !ok {
		return "error: missing_schedule_id"
	}

	ctx, cancel := context.WithTimeout(context.Background(), source.QueryTimeout*time.Second)
	defer cancel()

	row, err := l.reader.ReadOne(ctx, id)
	if err != nil {
		l.log.Error("run_now: read failed", "schedule_id", id, "error", err)
		return "error: not_found"
	}

	if _, err := schedule.Validate(row); err != nil {
		l.log.Error("run_now: schedule invalid", "schedule_id", id, "error", err)
		return "error: invalid_schedule"
	}

	payloadBytes, err := l.fetcher.FetchPayload(ctx, row.TaskID)
	if err != nil {
		l.log.Error("run_now: payload fetch failed", "schedule_id", id, "error", err)
		return "error: payload_unavailable"
	}

	hints := enqueue.Hints{RetryCount: row.RetryCount, ResultTTLSecs: row.ResultTTLSecs}
	if _, err := l.enqueuer.EnqueueAt(ctx, row.ID, row.QueueName, row.TaskID, payloadBytes, time.Now().UTC(), hints); err != nil {
		l.log.Error("run_now: enqueue failed", "schedule_id", id, "error", err)
		return "error: enqueue_failed"
	}

	return "enqueued"
}
