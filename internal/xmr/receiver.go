package xmr

import (
	"context"
	"crypto/rsa"
	"errors"
	"log/slog"
	"time"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/go-zeromq/zmq4"
)

const heartbeatTopic = "H"

// Socket is a subscribed push connection yielding multi-frame messages.
type Socket interface {
	Recv() ([][]byte, error)
	Close() error
}

type DialFunc func(ctx context.Context, address string, topics []string) (Socket, error)

// Receiver listens on the CMS push channel and forwards decoded events.
type Receiver struct {
	address string
	channel string
	key     *rsa.PrivateKey
	events  chan Event
	logger  *slog.Logger

	dialFn  DialFunc
	sleepFn func(ctx context.Context, wait time.Duration) error
	nowFn   func() time.Time
}

func NewReceiver(address, channel string, key *rsa.PrivateKey, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		address: address,
		channel: channel,
		key:     key,
		events:  make(chan Event, 16),
		logger:  logger,
		dialFn:  dialZMQ,
		sleepFn: sleepContext,
		nowFn:   time.Now,
	}
}

func (r *Receiver) Events() <-chan Event {
	return r.events
}

// Run keeps a subscription open until ctx is done, reconnecting with
// exponential backoff.
func (r *Receiver) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		err := r.runSession(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("push channel disconnected", "address", r.address, "err", err)
		}
		if err := r.sleepFn(ctx, backoff); err != nil {
			return
		}
		if backoff < 20*time.Second {
			backoff *= 2
		}
	}
}

func (r *Receiver) runSession(ctx context.Context) error {
	sock, err := r.dialFn(ctx, r.address, []string{r.channel, heartbeatTopic})
	if err != nil {
		return err
	}
	defer sock.Close()
	r.logger.Info("push channel connected", "address", r.address)

	for {
		frames, err := sock.Recv()
		if err != nil {
			return err
		}
		if !r.handle(ctx, frames) {
			return ctx.Err()
		}
	}
}

// handle decodes one message. It returns false only when ctx ended while
// forwarding.
func (r *Receiver) handle(ctx context.Context, frames [][]byte) bool {
	if len(frames) != 3 {
		metrics.PushMessages.WithLabelValues("invalid").Inc()
		r.logger.Warn("push message with unexpected frame count", "frames", len(frames))
		return true
	}
	if string(frames[0]) == heartbeatTopic {
		r.logger.Debug("push heartbeat")
		return true
	}

	msg, err := Decrypt(r.key, frames[1], frames[2])
	if err != nil {
		metrics.PushMessages.WithLabelValues("invalid").Inc()
		r.logger.Warn("could not decode push message", "err", err)
		return true
	}
	event, err := msg.Event(r.nowFn())
	switch {
	case errors.Is(err, ErrExpired):
		metrics.PushMessages.WithLabelValues("expired").Inc()
		r.logger.Info("ignoring expired push message", "action", msg.Action)
		return true
	case errors.Is(err, ErrUnsupportedAction):
		metrics.PushMessages.WithLabelValues("unsupported").Inc()
		r.logger.Info("ignoring push message", "err", err)
		return true
	case err != nil:
		metrics.PushMessages.WithLabelValues("invalid").Inc()
		r.logger.Warn("invalid push message", "err", err)
		return true
	}

	r.logger.Debug("push message", "action", msg.Action)
	select {
	case r.events <- event:
		metrics.PushMessages.WithLabelValues("accepted").Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

type zmqSocket struct {
	sock zmq4.Socket
}

func (s zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s zmqSocket) Close() error {
	return s.sock.Close()
}

func dialZMQ(ctx context.Context, address string, topics []string) (Socket, error) {
	sub := zmq4.NewSub(ctx)
	if err := sub.Dial(address); err != nil {
		_ = sub.Close()
		return nil, err
	}
	for _, topic := range topics {
		if err := sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			_ = sub.Close()
			return nil, err
		}
	}
	return zmqSocket{sock: sub}, nil
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
