package manager

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/internal/types"
	"github.com/campusgrid/campusgrid/internal/wire"
)

// handleConn drives one connection through the AWAIT_REGISTER -> READY ->
// CLOSED state machine. It owns the connection for its entire lifetime and
// always cleans up the in-memory session and durable status on exit.
func (m *Manager) handleConn(ctx context.Context, nc net.Conn) {
	conn := wire.NewConn(nc)
	defer conn.Close()

	workerID, ok := m.awaitRegister(ctx, conn)
	if !ok {
		return
	}

	log := obslogWorker(m, workerID)
	log.Info().Msg("worker registered")
	defer func() {
		m.evictWorker(ctx, workerID)
		log.Info().Msg("worker session closed")
	}()

	m.ready(ctx, conn, workerID)
}

// awaitRegister reads exactly one message, requiring it to be a valid
// register. Any other first message, or a malformed frame, closes the
// connection without creating a worker.
func (m *Manager) awaitRegister(ctx context.Context, conn *wire.Conn) (string, bool) {
	conn.Raw().SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
	msg, err := conn.ReadMessage()
	if err != nil || wire.TypeOf(msg) != "register" {
		m.log.Debug().Err(err).Msg("connection closed before valid register")
		return "", false
	}

	name, _ := msg["name"].(string)
	ownerToken, _ := msg["owner_token"].(string)
	specs := parseSpecs(msg["specs"])

	// owner_token is a lookup, not a create: an unknown token resolves to a
	// null owner (spec.md §4.E, §7) rather than minting a credited account
	// for whoever claims a username first. Account creation is confined to
	// the REST submit path, where a payer account is genuinely needed.
	var ownerUserID string
	if ownerToken != "" {
		user, err := m.store.GetUserByUsername(ctx, ownerToken)
		if err != nil {
			m.log.Error().Err(err).Str("owner_token", ownerToken).Msg("failed to resolve owner")
		} else if user != nil {
			ownerUserID = user.ID
		}
	}

	workerID := uuid.NewString()
	worker, err := m.store.RegisterWorker(ctx, workerID, name, ownerUserID, specs)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to persist worker registration")
		return "", false
	}

	m.sessions.put(&sessionState{
		workerID:      worker.ID,
		specs:         worker.Specs,
		lastHeartbeat: time.Now(),
		conn:          conn,
	})

	conn.WriteMessage(map[string]interface{}{
		"type":      "registered",
		"worker_id": worker.ID,
		"message":   "welcome to the grid",
	})

	return worker.ID, true
}

// ready is the READY-state message loop: read, dispatch by type, repeat
// until a read error or explicit disconnect.
func (m *Manager) ready(ctx context.Context, conn *wire.Conn, workerID string) {
	log := obslogWorker(m, workerID)

	for {
		conn.Raw().SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		msg, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("read error, closing session")
			return
		}
		if msg == nil {
			continue // keepalive
		}

		switch wire.TypeOf(msg) {
		case "heartbeat":
			m.sessions.touchHeartbeat(workerID)

		case "request_job":
			m.handleRequestJob(ctx, conn, workerID, log)

		case "job_result":
			m.handleJobResult(ctx, conn, workerID, msg, log)

		case "disconnect":
			log.Info().Msg("worker requested disconnect")
			return

		default:
			log.Warn().Str("type", wire.TypeOf(msg)).Msg("unexpected message type, closing session")
			return
		}
	}
}

func (m *Manager) handleRequestJob(ctx context.Context, conn *wire.Conn, workerID string, log zerolog.Logger) {
	sess, ok := m.sessions.get(workerID)
	if !ok {
		return
	}

	durable, err := m.store.GetWorker(ctx, workerID)
	if err != nil {
		log.Error().Err(err).Msg("failed to check worker status")
		conn.WriteMessage(map[string]interface{}{"type": "no_job"})
		return
	}
	if durable == nil || durable.Status == types.WorkerPaused {
		conn.WriteMessage(map[string]interface{}{"type": "no_job"})
		return
	}

	job, err := m.store.DispatchNext(ctx, workerID, sess.specs)
	if err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		conn.WriteMessage(map[string]interface{}{"type": "no_job"})
		return
	}
	if job == nil {
		conn.WriteMessage(map[string]interface{}{"type": "no_job"})
		return
	}

	m.sessions.setBusy(workerID, job.ID)
	m.store.SetWorkerStatus(ctx, workerID, types.WorkerBusy)
	log.Info().Str("job_id", job.ID).Msg("dispatched job")

	conn.WriteMessage(map[string]interface{}{
		"type":          "job",
		"job_id":        job.ID,
		"title":         job.Title,
		"code":          job.Code,
		"requirements":  job.Requirements,
		"timeout":       job.TimeoutSeconds,
		"credit_reward": job.CreditReward,
	})
}

func (m *Manager) handleJobResult(ctx context.Context, conn *wire.Conn, workerID string, msg map[string]interface{}, log zerolog.Logger) {
	jobID, _ := msg["job_id"].(string)
	success, _ := msg["success"].(bool)
	output, _ := msg["output"].(string)
	errMsg, _ := msg["error"].(string)

	if files, ok := msg["files"].([]interface{}); ok {
		if err := persistOutputFiles(m.cfg.OutputDir, jobID, files); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Msg("failed to persist some output files")
		}
	}

	if err := m.store.CompleteJob(ctx, jobID, success, output, errMsg); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job completion")
	}

	m.sessions.setIdle(workerID)
	m.store.SetWorkerStatus(ctx, workerID, types.WorkerOnline)
	log.Info().Str("job_id", jobID).Bool("success", success).Msg("job result recorded")

	conn.WriteMessage(map[string]interface{}{"type": "job_received", "job_id": jobID})
}

// persistOutputFiles base64-decodes each attached file into
// job_outputs/<job_id>/<filename>, rejecting any filename containing a path
// separator or ".." traversal segment.
func persistOutputFiles(outputDir, jobID string, files []interface{}) error {
	if len(files) == 0 {
		return nil
	}
	dir := filepath.Join(outputDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job output dir: %w", err)
	}

	var firstErr error
	for _, raw := range files {
		f, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := f["filename"].(string)
		content, _ := f["content_base64"].(string)

		if !isSafeFilename(name) {
			if firstErr == nil {
				firstErr = fmt.Errorf("rejected unsafe filename %q", name)
			}
			continue
		}

		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode %q: %w", name, err)
			}
			continue
		}

		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("write %q: %w", name, err)
			}
		}
	}
	return firstErr
}

func isSafeFilename(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}

func parseSpecs(raw interface{}) types.Specs {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return types.Specs{CPUCores: 1, CPUModel: "Unknown", RAMGB: 4}
	}

	specs := types.Specs{CPUCores: 1, CPUModel: "Unknown", RAMGB: 4}
	if v, ok := m["cpu_cores"].(float64); ok {
		specs.CPUCores = int(v)
	}
	if v, ok := m["cpu_model"].(string); ok && v != "" {
		specs.CPUModel = v
	}
	if v, ok := m["ram_gb"].(float64); ok {
		specs.RAMGB = v
	}
	if v, ok := m["gpu_name"].(string); ok {
		specs.GPUName = v
	}
	if v, ok := m["gpu_memory_gb"].(float64); ok {
		specs.GPUMemoryGB = v
	}
	if v, ok := m["has_docker"].(bool); ok {
		specs.HasDocker = v
	}
	return specs
}

