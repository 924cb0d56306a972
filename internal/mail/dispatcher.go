package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"inventory-auth/internal/observability"
)

var (
	ErrQueueFull        = errors.New("mail queue is full")
	ErrDispatcherClosed = errors.New("mail dispatcher is closed")
)

type DispatcherConfig struct {
	QueueSize     int
	RatePerMinute int
	SendTimeout   time.Duration
	ResetValidFor time.Duration
}

// Dispatcher queues messages and delivers them from one worker goroutine,
// throttled to RatePerMinute. Enqueue never blocks on the network.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	cfg     DispatcherConfig
	logger  *observability.Logger

	queue  chan Message
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sender Sender, cfg DispatcherConfig, logger *observability.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.ResetValidFor <= 0 {
		cfg.ResetValidFor = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute),
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Message, cfg.QueueSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go d.run(ctx)
	return d
}

func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) SendPasswordReset(_ context.Context, email, link string) error {
	return d.Enqueue(PasswordResetMessage(email, link, d.cfg.ResetValidFor))
}

// Close stops accepting messages and waits for the queue to drain or ctx to
// expire, whichever comes first. On expiry the in-flight send is cancelled,
// the remaining queue is dropped, and Close returns without waiting further.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}

// Done is closed once the worker has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	for msg := range d.queue {
		if err := d.limiter.Wait(ctx); err != nil {
			d.logger.Warn("mail_dropped", map[string]any{"to": msg.To, "error": err})
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err := d.sender.Send(sendCtx, msg)
		cancel()
		if err != nil {
			d.logger.Error("mail_send_failed", map[string]any{"to": msg.To, "subject": msg.Subject, "error": err})
			observability.CaptureError(err, "mail_send")
			continue
		}
		d.logger.Info("mail_sent", map[string]any{"to": msg.To, "subject": msg.Subject})
	}
}
