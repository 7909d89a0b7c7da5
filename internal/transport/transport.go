// Package transport wraps individual send operations with bounded
// retry, exponential backoff and flood-control backpressure, and
// offers a concurrency-capped fan-out for collections of files.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxAttempts matches the platform client's historic retry
	// budget for document sends.
	DefaultMaxAttempts = 5
	// DefaultInitialDelay is the first backoff step; it doubles on
	// every subsequent timeout.
	DefaultInitialDelay = 5 * time.Second
	// DefaultMaxPayloadBytes is the platform's upload ceiling (2 GB).
	DefaultMaxPayloadBytes = int64(2000 * 1024 * 1024)
	// DefaultMaxConcurrent bounds simultaneous outbound sends.
	DefaultMaxConcurrent = 2

	minRateLimitWait = time.Second
)

// Item is one payload to deliver: a name for reporting, the payload
// size for validation, and the operation performing the send.
type Item struct {
	Name string
	Size int64
	Send func(ctx context.Context) error
}

// Options tunes retry behavior. The zero value gets defaults.
type Options struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxPayloadBytes int64
	// Limiter paces outbound attempts client-side, before the
	// platform has to push back.
	Limiter *rate.Limiter
	// Sleep is a test seam; nil means a context-aware timer sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendWithRetry delivers one item. Timeout-class failures are retried
// with doubling delays up to MaxAttempts; a rate-limit signal waits
// the mandated duration and repeats the same attempt without touching
// the retry budget; any other failure aborts immediately. Zero-length
// and oversized payloads are rejected before the first attempt.
func SendWithRetry(ctx context.Context, logger *slog.Logger, item Item, opts Options) error {
	opts = opts.withDefaults()
	if item.Send == nil {
		return fmt.Errorf("transport: nil send operation for %q", item.Name)
	}
	if item.Size == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPayload, item.Name)
	}
	if item.Size > opts.MaxPayloadBytes {
		return fmt.Errorf("%w: %s (%d bytes)", ErrTooLarge, item.Name, item.Size)
	}

	delay := opts.InitialDelay
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := item.Send(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("send_recovered", "name", item.Name, "attempt", attempt)
			}
			return nil
		}

		if rl, ok := AsRateLimit(err); ok {
			wait := rl.RetryAfter
			if wait < minRateLimitWait {
				wait = minRateLimitWait
			}
			logger.Warn("send_rate_limited", "name", item.Name, "wait", wait.String())
			if err := opts.Sleep(ctx, wait); err != nil {
				return err
			}
			// The mandated wait does not consume an attempt.
			attempt--
			continue
		}

		if IsTimeout(err) {
			if attempt == opts.MaxAttempts {
				logger.Warn("send_attempts_exhausted", "name", item.Name, "attempts", attempt, "error", err.Error())
				return fmt.Errorf("transport: %s: %d attempts: %w", item.Name, attempt, err)
			}
			logger.Warn("send_timeout_retry", "name", item.Name, "attempt", attempt, "delay", delay.String())
			if err := opts.Sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
			continue
		}

		logger.Warn("send_failed", "name", item.Name, "error", err.Error())
		return fmt.Errorf("transport: %s: %w", item.Name, err)
	}
	return fmt.Errorf("transport: %s: retries exhausted", item.Name)
}

// Failure records one item that could not be delivered.
type Failure struct {
	Name string
	Err  error
}

// BatchResult summarizes a fan-out.
type BatchResult struct {
	Sent   int
	Failed []Failure
}

// SendBatch fans SendWithRetry out over items under a counting
// semaphore of size maxConcurrent. One item's failure (or panic)
// never aborts the rest; the caller gets per-item outcomes.
func SendBatch(ctx context.Context, logger *slog.Logger, items []Item, maxConcurrent int, opts Options) BatchResult {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	sem := make(chan struct{}, maxConcurrent)

	var (
		mu     sync.Mutex
		result BatchResult
		wg     sync.WaitGroup
	)
	for _, item := range items {
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := sendRecovering(ctx, logger, item, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, Failure{Name: item.Name, Err: err})
				return
			}
			result.Sent++
		}(item)
	}
	wg.Wait()

	logger.Info("batch_done", "sent", result.Sent, "failed", len(result.Failed), "total", len(items))
	return result
}

func sendRecovering(ctx context.Context, logger *slog.Logger, item Item, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport: %s: panic: %v", item.Name, r)
		}
	}()
	return SendWithRetry(ctx, logger, item, opts)
}
