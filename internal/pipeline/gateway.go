// Package pipeline streams prompt submissions through an upstream inference
// server and back to the client as message deltas.
//
// Each connection runs three workers: a receiver decoding inbound frames
// into submissions, an inference worker executing one turn per submission,
// and a sender writing deltas as outbound frames. The workers are linked by
// two bounded queues and torn down together as soon as any one returns.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lukaszKielar/lokai-web/internal/llm"
	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
	"github.com/lukaszKielar/lokai-web/pkg/metrics"
)

const (
	DefaultQueueCapacity  = 100
	DefaultPersistTimeout = 5 * time.Second
)

// Options configures a Gateway.
type Options struct {
	// Model is the upstream model identifier sent with every request.
	Model string

	// QueueCapacity bounds the submission and delta queues.
	QueueCapacity int

	// ContinueOnTurnError sends an error frame for a failed turn and keeps
	// the session open. When false a failed turn ends the session.
	ContinueOnTurnError bool

	// TurnTimeout bounds the upstream streaming phase of a turn. Zero
	// means no limit.
	TurnTimeout time.Duration

	// PersistTimeout bounds the final assistant message write.
	PersistTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
}

// State is the lifecycle state of a session.
type State int32

const (
	StateActive State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Gateway starts and supervises one session per connection.
type Gateway struct {
	store    storage.Store
	upstream llm.Client
	locks    *TurnLocks
	opts     Options
	log      *logger.Logger
}

// NewGateway creates a gateway. Turn locks are shared by all its sessions.
func NewGateway(store storage.Store, upstream llm.Client, opts Options, log *logger.Logger) *Gateway {
	opts.setDefaults()
	return &Gateway{
		store:    store,
		upstream: upstream,
		locks:    NewTurnLocks(),
		opts:     opts,
		log:      log.Named("pipeline"),
	}
}

// Session is the supervised set of workers serving one connection.
type Session struct {
	ID string

	gateway    *Gateway
	in         Inbound
	out        Outbound
	remoteAddr string
	state      atomic.Int32
}

// NewSession prepares a session for a connection split into its two halves.
func (g *Gateway) NewSession(in Inbound, out Outbound, remoteAddr string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		gateway:    g,
		in:         in,
		out:        out,
		remoteAddr: remoteAddr,
	}
}

// Handle runs a session for the connection until it terminates.
func (g *Gateway) Handle(ctx context.Context, in Inbound, out Outbound, remoteAddr string) error {
	return g.NewSession(in, out, remoteAddr).Run(ctx)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run starts the receiver, inference and sender workers and blocks until
// all of them have returned. The first worker to return, with or without
// an error, cancels the other two. Run returns the first error reported.
func (s *Session) Run(ctx context.Context) error {
	g := s.gateway
	log := g.log.WithSession(s.ID, s.remoteAddr)

	metrics.IncrementSessions()
	defer metrics.DecrementSessions()

	submissions := NewQueue[model.PromptSubmission](g.opts.QueueCapacity)
	deltas := NewQueue[model.Delta](g.opts.QueueCapacity)
	delivered := newDelivery()
	var turnFailed atomic.Bool

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := &inference{
		store:     g.store,
		upstream:  g.upstream,
		locks:     g.locks,
		delivered: delivered,
		opts:      g.opts,
		tracer:    otel.Tracer("github.com/lukaszKielar/lokai-web/internal/pipeline"),
		log:       log.Named("inference"),
	}
	out := &sender{
		out:       s.out,
		deltas:    deltas,
		delivered: delivered,
		flush:     turnFailed.Load,
		log:       log.Named("sender"),
	}

	group, ctx := errgroup.WithContext(ctx)
	supervise := func(name string, fn func(context.Context) error) {
		group.Go(func() error {
			defer cancel()
			err := fn(ctx)
			if s.state.CompareAndSwap(int32(StateActive), int32(StateShuttingDown)) {
				log.Debug("session shutting down", zap.String("worker", name), zap.Error(err))
			}
			return err
		})
	}

	log.Info("session started")
	supervise("receiver", func(ctx context.Context) error {
		return receive(ctx, s.in, submissions, log.Named("receiver"))
	})
	supervise("inference", func(ctx context.Context) error {
		err := worker.run(ctx, submissions, deltas)
		if err != nil {
			turnFailed.Store(true)
		}
		return err
	})
	supervise("sender", out.run)

	err := group.Wait()
	s.state.Store(int32(StateTerminated))

	if err != nil {
		log.Info("session terminated", zap.String("code", ErrorCode(err)), zap.Error(err))
	} else {
		log.Info("session terminated")
	}
	return err
}
