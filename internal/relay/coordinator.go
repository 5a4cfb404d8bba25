package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/leetvoice/voice-relay-service/internal/config"
	"github.com/leetvoice/voice-relay-service/internal/metrics"
	"github.com/leetvoice/voice-relay-service/internal/protocol"
	"github.com/leetvoice/voice-relay-service/internal/session"
	"github.com/leetvoice/voice-relay-service/internal/upstream"
)

// ConfigError reports a missing precondition for session start. It is
// surfaced to the API caller before any upstream connection attempt.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required %s for session start", e.Missing)
}

// StartRequest carries the per-request session start parameters. Endpoint
// and credentials fall back to the service configuration when empty.
type StartRequest struct {
	Endpoint string
	APIKey   string
	Model    string
	Context  *session.ProblemContext
}

// connectFunc dials one upstream connection. Overridable in tests.
type connectFunc func(ctx context.Context, cfg upstream.Config, model string) (upstream.Conn, error)

// Coordinator owns the per-session bidirectional pumps. It wires client
// channels to upstream connections, answers control frames locally, routes
// scrape events through the context injector, and drives the session
// start/stop/evaluate transitions.
type Coordinator struct {
	store    *session.Store
	scraped  *session.ScrapedContext
	injector *Injector

	upstreamCfg config.UpstreamConfig
	relayCfg    config.RelayConfig

	logger  *slog.Logger
	metrics *metrics.Metrics
	connect connectFunc
}

// NewCoordinator creates the relay coordinator.
func NewCoordinator(store *session.Store, scraped *session.ScrapedContext,
	upstreamCfg config.UpstreamConfig, relayCfg config.RelayConfig,
	logger *slog.Logger, m *metrics.Metrics) *Coordinator {

	c := &Coordinator{
		store:       store,
		scraped:     scraped,
		injector:    NewInjector(store, logger, m),
		upstreamCfg: upstreamCfg,
		relayCfg:    relayCfg,
		logger:      logger,
		metrics:     m,
	}
	c.connect = c.dialUpstream

	return c
}

// Injector exposes the context injector for callers outside the scrape path.
func (c *Coordinator) Injector() *Injector { return c.injector }

func (c *Coordinator) dialUpstream(ctx context.Context, cfg upstream.Config, model string) (upstream.Conn, error) {
	client, err := upstream.NewClient(cfg, c.logger)
	if err != nil {
		return nil, err
	}
	return client.Connect(ctx, model)
}

// StartSession connects the upstream for a created session, sends the
// configuration handshake seeded from scraped and request context, and marks
// the session active. Missing preconditions surface as *ConfigError before
// any connection attempt.
func (c *Coordinator) StartSession(ctx context.Context, id string, req StartRequest) error {
	if _, err := c.store.Get(id); err != nil {
		return err
	}

	cfg := upstream.Config{
		Endpoint:       c.upstreamCfg.Endpoint,
		APIVersion:     c.upstreamCfg.APIVersion,
		BearerToken:    c.upstreamCfg.BearerToken,
		APIKey:         c.upstreamCfg.APIKey,
		ConnectTimeout: c.upstreamCfg.GetConnectTimeout(),
	}
	if req.Endpoint != "" {
		cfg.Endpoint = req.Endpoint
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
		cfg.BearerToken = ""
	}

	model := req.Model
	if model == "" {
		model = c.upstreamCfg.DefaultModel
	}

	if cfg.Endpoint == "" {
		return &ConfigError{Missing: "endpoint"}
	}
	if cfg.APIKey == "" && cfg.BearerToken == "" {
		return &ConfigError{Missing: "credential"}
	}
	if model == "" {
		return &ConfigError{Missing: "model"}
	}

	conn, err := c.connect(ctx, cfg, model)
	if err != nil {
		return err
	}

	if err := c.store.RegisterUpstream(id, conn); err != nil {
		_ = conn.Close()
		return err
	}

	if err := upstream.SendSessionConfiguration(conn, c.logger, id, c.sessionContext(req.Context)); err != nil {
		c.logger.Error("Failed to send session configuration",
			slog.String("session_id", shortID(id)),
			slog.String("error", err.Error()),
		)
	}

	active := session.StatusActive
	c.store.Update(id, session.Update{
		Status:  &active,
		Model:   &model,
		Context: req.Context,
	})

	c.logger.Info("Session started",
		slog.String("session_id", shortID(id)),
		slog.String("model", model),
	)

	// Start pumping immediately if the client channel attached before the
	// upstream came up.
	c.StartRelay(id)

	return nil
}

// sessionContext merges scraped page state with the request-provided problem
// context. Scraped data wins: it reflects what is on screen right now.
func (c *Coordinator) sessionContext(problem *session.ProblemContext) upstream.SessionContext {
	snap := c.scraped.Snapshot()

	sctx := upstream.SessionContext{
		Title:       snap.Title,
		Description: snap.Description,
		Code:        snap.EditorCode,
	}
	if problem != nil {
		if sctx.Title == "" {
			sctx.Title = problem.Title
		}
		if sctx.Description == "" {
			sctx.Description = problem.Description
		}
		if sctx.Code == "" {
			sctx.Code = problem.Code
		}
		sctx.TestCases = problem.TestCases
	}

	return sctx
}

// StopSession closes the session's upstream connection and deletes the
// session. The relay task is cancelled by the delete and self-terminates on
// its next receive cycle.
func (c *Coordinator) StopSession(id string) error {
	if _, err := c.store.Get(id); err != nil {
		return err
	}

	if conn, exists := c.store.UpstreamFor(id); exists {
		_ = conn.Close()
	}

	c.store.Delete(id)

	c.logger.Info("Session stopped", slog.String("session_id", shortID(id)))

	return nil
}

// AttachClient binds the client channel to the session and starts the relay
// pump if the upstream is already connected. The store tears down any pump
// bound to an earlier channel handle first, so the fresh pump always serves
// the channel that just attached.
func (c *Coordinator) AttachClient(id string, ch session.ClientChannel) error {
	if err := c.store.AttachClient(id, ch); err != nil {
		return err
	}

	c.StartRelay(id)

	return nil
}

// DetachClient clears the client binding on disconnect. The relay task is
// left running: upstream frames produced after the disconnect are dropped on
// the failed client send rather than tearing the session down.
func (c *Coordinator) DetachClient(id string, ch session.ClientChannel) {
	c.store.DetachClient(id, ch)
}

// HandleClientFrame processes one inbound client channel frame. Audio is
// wrapped and forwarded to the upstream fire-and-forget; pings are answered
// locally and generate no upstream traffic.
func (c *Coordinator) HandleClientFrame(id string, data []byte, ch session.ClientChannel) {
	c.metrics.ClientFramesReceived.Inc()
	c.store.Touch(id)

	frame, err := protocol.ParseClientFrame(data)
	if err != nil {
		c.logger.Warn("Ignoring malformed client frame",
			slog.String("session_id", shortID(id)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch frame.Type {
	case protocol.ClientTypeAudioData:
		c.forwardAudio(id, frame.Audio)

	case protocol.ClientTypePing:
		payload, _ := json.Marshal(protocol.NewPong())
		if err := ch.Send(string(payload)); err != nil {
			c.logger.Warn("Failed to answer ping",
				slog.String("session_id", shortID(id)),
				slog.String("error", err.Error()),
			)
			return
		}
		c.metrics.PingsAnswered.Inc()

	default:
		c.logger.Debug("Ignoring client frame of unknown type",
			slog.String("session_id", shortID(id)),
			slog.String("type", frame.Type),
		)
	}

	// Safety net: the pump normally starts on attach, but a client message
	// arriving between upstream connect and attach-side start is also a
	// valid trigger. RegisterRelay keeps this idempotent.
	c.StartRelay(id)
}

func (c *Coordinator) forwardAudio(id, audio string) {
	conn, exists := c.store.UpstreamFor(id)
	if !exists {
		c.logger.Debug("Dropping audio frame: no upstream connection",
			slog.String("session_id", shortID(id)),
		)
		return
	}

	payload, err := json.Marshal(protocol.NewAudioAppend(audio))
	if err != nil {
		c.logger.Error("Failed to encode audio frame", slog.String("error", err.Error()))
		return
	}

	// Fire-and-forget; ordering per session is preserved by the serialized
	// transport writes.
	_ = conn.Send(string(payload))
	c.metrics.AudioFramesForwarded.Inc()
}

// StartRelay starts the upstream-to-client pump for the session if both
// transports exist and no pump is running. Idempotent: at most one pump per
// session id.
func (c *Coordinator) StartRelay(id string) {
	conn, exists := c.store.UpstreamFor(id)
	if !exists {
		return
	}

	ch, exists := c.store.ClientFor(id)
	if !exists {
		return
	}

	task, ok := c.store.RegisterRelay(id)
	if !ok {
		return
	}

	c.metrics.RelayTasksStarted.Inc()
	c.logger.Info("Relay task started", slog.String("session_id", shortID(id)))

	go c.relayLoop(task, conn, ch)
}

// relayLoop continuously drains the upstream connection and forwards frames
// verbatim to the client channel. Client send failures are logged and the
// frame dropped; the loop exits only when the upstream closes or the task is
// cancelled, then deregisters itself.
func (c *Coordinator) relayLoop(task *session.RelayTask, conn upstream.Conn, ch session.ClientChannel) {
	id := task.SessionID

	defer func() {
		c.store.DeregisterRelay(task)
		c.metrics.RelayTasksExited.Inc()
		c.logger.Info("Relay task exited", slog.String("session_id", shortID(id)))
	}()

	backoff := c.relayCfg.GetReceiveBackoff()

	for {
		select {
		case <-task.Context().Done():
			return
		default:
		}

		result := conn.Receive()
		switch result.Kind {
		case upstream.ResultMessage:
			if err := ch.Send(result.Message); err != nil {
				// Client is gone or reconnecting; drop the frame.
				c.logger.Debug("Dropping upstream frame: client send failed",
					slog.String("session_id", shortID(id)),
					slog.String("error", err.Error()),
				)
				continue
			}
			c.metrics.UpstreamFramesRelayed.Inc()

		case upstream.ResultTransient:
			select {
			case <-task.Context().Done():
				return
			case <-time.After(backoff):
			}

		case upstream.ResultClosed:
			return
		}
	}
}

// shortID truncates a session id for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
