// Package manager implements the grid's server side: the TCP accept loop,
// the per-connection registration/heartbeat/dispatch state machine, and the
// background health monitor that evicts silently-dead workers.
package manager

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/store"
	"github.com/campusgrid/campusgrid/internal/types"
)

// Config holds the manager's tunables, mirroring spec.md §6's configuration
// table.
type Config struct {
	HeartbeatTimeout    time.Duration
	HealthCheckInterval time.Duration
	ReadTimeout         time.Duration
	StartingCredits     int
	MinJobCost          int
	OutputDir           string
}

// Manager owns the durable store and the in-memory session table, and runs
// the accept loop plus health monitor.
type Manager struct {
	store    *store.Store
	cfg      Config
	log      zerolog.Logger
	sessions *sessionTable
}

// New creates a Manager bound to store.
func New(st *store.Store, cfg Config) *Manager {
	return &Manager{
		store:    st,
		cfg:      cfg,
		log:      obslog.Component("manager"),
		sessions: newSessionTable(),
	}
}

// Serve runs the accept loop on listener and the health monitor until ctx is
// canceled. It blocks until the listener is closed (by ctx cancellation) or
// a fatal accept error occurs.
func (m *Manager) Serve(ctx context.Context, listener net.Listener) error {
	go m.healthMonitor(ctx)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go m.handleConn(ctx, conn)
	}
}

// healthMonitor periodically evicts workers whose heartbeat has gone
// silent, catching dead TCP connections that never produced a read error.
func (m *Manager) healthMonitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, workerID := range m.sessions.staleWorkers(m.cfg.HeartbeatTimeout) {
				m.log.Warn().Str("worker_id", workerID).Msg("worker heartbeat timed out, evicting")
				m.evictWorker(ctx, workerID)
			}
		}
	}
}

// evictWorker removes a worker from the in-memory table, closes its live
// socket (if any — this is what unblocks a session goroutine stuck in a
// read past a silently-dead connection), re-queues its in-flight job if
// any, and marks it offline durably.
func (m *Manager) evictWorker(ctx context.Context, workerID string) {
	jobID, busy := m.sessions.jobFor(workerID)
	m.sessions.closeConn(workerID)
	m.sessions.remove(workerID)

	if busy {
		if err := m.store.RequeueOrphanedJob(ctx, jobID); err != nil {
			m.log.Error().Err(err).Str("job_id", jobID).Msg("failed to requeue orphaned job")
		}
	}
	if err := m.store.SetWorkerStatus(ctx, workerID, types.WorkerOffline); err != nil {
		m.log.Error().Err(err).Str("worker_id", workerID).Msg("failed to mark worker offline")
	}
	m.store.LogActivity(ctx, "worker_disconnected", workerID, "", "", "heartbeat timeout")
}

func obslogWorker(m *Manager, workerID string) zerolog.Logger {
	return obslog.WithWorkerID(m.log, workerID)
}
