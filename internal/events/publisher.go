// Package events publishes dispatch decisions and outcomes to NATS.
//
// Subjects:
//
//	<prefix>.decisions.<capability>
//	<prefix>.outcomes.<agent id>
//
// Capability and agent id are reduced to a single subject token. Payloads
// are JSON.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
)

// DefaultSubjectPrefix is the subject root when none is configured.
const DefaultSubjectPrefix = "dispatch"

// ErrClosed is returned when publishing on a closed connection.
var ErrClosed = errors.New("event publisher closed")

// DecisionEvent is the payload published for every decision.
type DecisionEvent struct {
	DecisionID      string                         `json:"decision_id"`
	TaskID          string                         `json:"task_id,omitempty"`
	UserID          string                         `json:"user_id,omitempty"`
	Capability      string                         `json:"capability"`
	AgentID         string                         `json:"agent_id"`
	Score           float64                        `json:"score"`
	EstimatedCost   int64                          `json:"estimated_cost"`
	ExpectedQuality int                            `json:"expected_quality"`
	AutonomyLevel   orchestrator.AutonomyLevel     `json:"autonomy_level"`
	ShouldProceed   bool                           `json:"should_proceed"`
	Violations      []orchestrator.PolicyViolation `json:"violations"`
	DecidedAt       time.Time                      `json:"decided_at"`
}

// Publisher implements orchestrator.EventRecorder over a NATS connection.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

var _ orchestrator.EventRecorder = (*Publisher)(nil)

// NewPublisher wraps an existing connection. The caller keeps ownership of
// nc.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials NATS from the events config. The returned publisher owns
// the connection and closes it on Close.
func Connect(cfg config.EventsConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name("dispatchd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Token.Value()))
	}

	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	p := NewPublisher(nc, cfg.SubjectPrefix, logger)
	p.owned = true
	return p, nil
}

// DecisionSubject returns the subject a decision for capability goes to.
func (p *Publisher) DecisionSubject(capability string) string {
	return p.prefix + ".decisions." + SubjectToken(capability)
}

// OutcomeSubject returns the subject an outcome for agentID goes to.
func (p *Publisher) OutcomeSubject(agentID string) string {
	return p.prefix + ".outcomes." + SubjectToken(agentID)
}

// RecordDecision publishes d.
func (p *Publisher) RecordDecision(ctx context.Context, execCtx orchestrator.ExecutionContext, d *orchestrator.Decision) error {
	if d == nil {
		return errors.New("nil decision")
	}
	event := DecisionEvent{
		DecisionID:      d.DecisionID,
		TaskID:          d.TaskID,
		UserID:          execCtx.UserID,
		Capability:      execCtx.Capability,
		AgentID:         d.SelectedAgent.AgentID,
		Score:           d.SelectedAgent.Score,
		EstimatedCost:   d.SelectedAgent.EstimatedCost,
		ExpectedQuality: d.SelectedAgent.ExpectedQuality,
		AutonomyLevel:   d.AutonomyLevel,
		ShouldProceed:   d.ShouldProceed,
		Violations:      d.Policies,
		DecidedAt:       d.DecidedAt,
	}
	return p.publish(ctx, p.DecisionSubject(execCtx.Capability), event)
}

// RecordOutcome publishes o.
func (p *Publisher) RecordOutcome(ctx context.Context, o orchestrator.Outcome) error {
	return p.publish(ctx, p.OutcomeSubject(o.AgentID), o)
}

func (p *Publisher) publish(ctx context.Context, subject string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Flush waits until the server has processed everything published so far.
func (p *Publisher) Flush(timeout time.Duration) error {
	if p.nc.IsClosed() {
		return ErrClosed
	}
	return p.nc.FlushTimeout(timeout)
}

// Close drains an owned connection. Borrowed connections are left open.
func (p *Publisher) Close() error {
	if !p.owned || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// SubjectToken reduces s to one NATS subject token: lower case, with every
// character outside [a-z0-9_-] replaced by '_'. Empty input maps to "_".
func SubjectToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
