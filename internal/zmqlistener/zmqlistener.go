// Package zmqlistener is the ZMQ listener (C10): two SUB sockets over a
// pure-Go ZMQ transport, each running its own reconnecting receive loop
// that dispatches frames into the intake and confirmation tracker.
package zmqlistener

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/sirupsen/logrus"
)

const (
	topicRawTx     = "rawtx"
	topicHashBlock = "hashblock"

	initialBackoff = 5 * time.Second
	maxBackoff     = 10 * time.Second
)

// RawTxHandler consumes a raw transaction frame. Implemented by
// internal/intake.Intake.HandleRawTx.
type RawTxHandler interface {
	HandleRawTx(ctx context.Context, raw []byte)
}

// HashBlockHandler is notified of a new block tip. Implemented by
// internal/tracker.Tracker.ProcessNewBlock; it ignores the block hash
// payload itself and re-reads the tip from the node.
type HashBlockHandler interface {
	ProcessNewBlock(ctx context.Context)
}

// Config bundles the two SUB endpoints, spec.md §4.8/§6.
type Config struct {
	RawTxEndpoint     string
	HashBlockEndpoint string
}

// Listener runs the two C10 receive loops.
type Listener struct {
	cfg      Config
	rawtx    RawTxHandler
	hashblk  HashBlockHandler
	log      *logrus.Logger
}

// New constructs a Listener.
func New(cfg Config, rawtx RawTxHandler, hashblk HashBlockHandler, log *logrus.Logger) *Listener {
	return &Listener{cfg: cfg, rawtx: rawtx, hashblk: hashblk, log: log}
}

// Run blocks until ctx is cancelled, running both receive loops
// concurrently.
func (l *Listener) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { l.runLoop(ctx, l.cfg.RawTxEndpoint, topicRawTx, l.dispatchRawTx); done <- struct{}{} }()
	go func() { l.runLoop(ctx, l.cfg.HashBlockEndpoint, topicHashBlock, l.dispatchHashBlock); done <- struct{}{} }()
	<-done
	<-done
}

func (l *Listener) dispatchRawTx(ctx context.Context, frame []byte) {
	l.rawtx.HandleRawTx(ctx, frame)
}

func (l *Listener) dispatchHashBlock(ctx context.Context, _ []byte) {
	l.hashblk.ProcessNewBlock(ctx)
}

// runLoop owns one SUB socket's lifecycle: dial, subscribe, receive until
// error, then reconnect with a backoff that starts at 5s and escalates
// to 10s on repeated failure (spec.md §4.8).
func (l *Listener) runLoop(ctx context.Context, endpoint, topic string, dispatch func(context.Context, []byte)) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		sock := zmq4.NewSub(ctx)
		if err := sock.Dial(endpoint); err != nil {
			l.log.WithError(err).WithField("endpoint", endpoint).Warn("zmqlistener: dial failed, retrying")
			sock.Close()
			if !l.sleep(ctx, backoff) {
				return
			}
			backoff = maxBackoff
			continue
		}
		if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			l.log.WithError(err).WithField("topic", topic).Warn("zmqlistener: subscribe failed, retrying")
			sock.Close()
			if !l.sleep(ctx, backoff) {
				return
			}
			backoff = maxBackoff
			continue
		}

		backoff = initialBackoff
		l.recvLoop(ctx, sock, topic, dispatch)
		sock.Close()

		if ctx.Err() != nil {
			return
		}
		if !l.sleep(ctx, backoff) {
			return
		}
		backoff = maxBackoff
	}
}

// recvLoop receives frames until the socket errors or ctx is cancelled.
// Back-pressure is cooperative: the loop awaits each handler call before
// issuing the next Recv (spec.md §4.8 "Back-pressure").
func (l *Listener) recvLoop(ctx context.Context, sock zmq4.Socket, topic string, dispatch func(context.Context, []byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			l.log.WithError(err).WithField("topic", topic).Warn("zmqlistener: recv failed")
			return
		}
		if len(msg.Frames) < 2 {
			continue
		}
		dispatch(ctx, msg.Frames[1])
	}
}

func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

