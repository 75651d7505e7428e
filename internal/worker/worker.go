// Package worker implements the grid's client side: probing local
// hardware, registering with a manager, heartbeating, and running the
// request/execute/report loop against the sandbox executor.
package worker

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/internal/obslog"
	"github.com/campusgrid/campusgrid/internal/sandbox"
	"github.com/campusgrid/campusgrid/internal/types"
	"github.com/campusgrid/campusgrid/internal/wire"
)

// Config holds the worker client's tunables.
type Config struct {
	ManagerAddr       string
	Name              string
	OwnerToken        string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	MaxJobTimeout     time.Duration
}

// Client drives one connection's full lifecycle against a manager.
type Client struct {
	cfg      Config
	specs    types.Specs
	executor *sandbox.Executor
	log      zerolog.Logger

	conn     *wire.Conn
	workerID string
}

// New creates a worker client. specs is the result of a one-time startup
// probe (internal/probe) and is sent once, at registration.
func New(cfg Config, specs types.Specs, executor *sandbox.Executor) *Client {
	return &Client{
		cfg:      cfg,
		specs:    specs,
		executor: executor,
		log:      obslog.Component("worker"),
	}
}

// Run connects, registers, and runs the heartbeat and main loops until ctx
// is canceled or the connection is lost. Once registered, it attempts a
// best-effort disconnect message before returning; a failed connect or
// register returns without one.
func (c *Client) Run(ctx context.Context) error {
	nc, err := net.Dial("tcp", c.cfg.ManagerAddr)
	if err != nil {
		return fmt.Errorf("worker: connect to manager: %w", err)
	}
	c.conn = wire.NewConn(nc)
	defer c.conn.Close()

	if err := c.register(); err != nil {
		return err
	}
	c.log = obslog.WithWorkerID(c.log, c.workerID)
	c.log.Info().Msg("registered with manager")

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(loopCtx)

	err = c.mainLoop(loopCtx)

	c.conn.WriteMessage(map[string]interface{}{"type": "disconnect"})
	return err
}

func (c *Client) register() error {
	err := c.conn.WriteMessage(map[string]interface{}{
		"type":        "register",
		"name":        c.cfg.Name,
		"owner_token": c.cfg.OwnerToken,
		"specs": map[string]interface{}{
			"cpu_cores":     c.specs.CPUCores,
			"cpu_model":     c.specs.CPUModel,
			"ram_gb":        c.specs.RAMGB,
			"gpu_name":      c.specs.GPUName,
			"gpu_memory_gb": c.specs.GPUMemoryGB,
			"has_docker":    c.specs.HasDocker,
		},
	})
	if err != nil {
		return fmt.Errorf("worker: send register: %w", err)
	}

	reply, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("worker: read registered reply: %w", err)
	}
	if wire.TypeOf(reply) != "registered" {
		return fmt.Errorf("worker: unexpected reply to register: %v", reply)
	}

	workerID, _ := reply["worker_id"].(string)
	if workerID == "" {
		return fmt.Errorf("worker: registered reply missing worker_id")
	}
	c.workerID = workerID
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.conn.WriteMessage(map[string]interface{}{
				"type":      "heartbeat",
				"worker_id": c.workerID,
				"status":    "online",
			})
			if err != nil {
				c.log.Warn().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}

// mainLoop implements §4.F's request_job / execute / job_result cycle.
func (c *Client) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.conn.WriteMessage(map[string]interface{}{
			"type":      "request_job",
			"worker_id": c.workerID,
		}); err != nil {
			return fmt.Errorf("worker: send request_job: %w", err)
		}

		reply, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("worker: read job offer: %w", err)
		}

		switch wire.TypeOf(reply) {
		case "job":
			if err := c.runJob(ctx, reply); err != nil {
				return err
			}
		case "no_job":
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		default:
			return fmt.Errorf("worker: unexpected message while idle: %v", reply)
		}
	}
}

func (c *Client) runJob(ctx context.Context, job map[string]interface{}) error {
	jobID, _ := job["job_id"].(string)
	code, _ := job["code"].(string)
	requirements, _ := job["requirements"].(string)
	timeoutSeconds := intField(job["timeout"])

	safetyCap := int(c.cfg.MaxJobTimeout.Seconds())
	if safetyCap > 0 && timeoutSeconds > safetyCap {
		timeoutSeconds = safetyCap
	}

	log := obslog.WithJobID(c.log, jobID)
	log.Info().Msg("executing job")

	start := time.Now()
	result, err := c.executor.Execute(ctx, code, requirements, timeoutSeconds)
	elapsed := time.Since(start)
	if err != nil {
		// Internal sandbox failure (not a job failure) still reports a
		// failed result rather than dropping the connection.
		log.Error().Err(err).Msg("sandbox execution error")
		result = &sandbox.Result{Success: false, Error: err.Error()}
	}

	files := make([]map[string]interface{}, 0, len(result.Files))
	for _, f := range result.Files {
		files = append(files, map[string]interface{}{
			"filename":       f.Filename,
			"size":           f.Size,
			"content_base64": f.ContentBase64,
		})
	}

	msg := map[string]interface{}{
		"type":           "job_result",
		"job_id":         jobID,
		"success":        result.Success,
		"output":         result.Output,
		"files":          files,
		"execution_time": elapsed.Seconds(),
	}
	if result.Error != "" {
		msg["error"] = result.Error
	}

	if err := c.conn.WriteMessage(msg); err != nil {
		return fmt.Errorf("worker: send job_result: %w", err)
	}

	reply, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("worker: read job_received: %w", err)
	}
	if wire.TypeOf(reply) != "job_received" {
		log.Warn().Msgf("unexpected ack for job_result: %v", reply)
	}

	log.Info().Bool("success", result.Success).Msg("job finished")
	return nil
}

func intField(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
