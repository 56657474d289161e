package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Factory builds a transport for a config. The robot facade takes one so
// tests can substitute a Mock.
type Factory func(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error)

// detectOrder is the order auto-detection tries protocols in.
var detectOrder = []Protocol{ProtocolZenoh, ProtocolROSBridge}

// New creates a transport for cfg.Protocol.
//
// For rosbridge and zenoh the transport is returned unconnected. For auto
// each protocol is connected in turn, bounded by cfg.Timeout, and the
// first that connects is returned already connected.
func New(cfg Config, logger *slog.Logger) (Transport, error) {
	return NewContext(context.Background(), cfg, logger)
}

// NewContext is New with a context bounding auto-detection.
func NewContext(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p, err := ParseProtocol(string(cfg.Protocol))
	if err != nil {
		return nil, err
	}
	cfg.Protocol = p
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if p == ProtocolAuto {
		return detect(ctx, cfg, logger)
	}
	return build(p, cfg, logger)
}

func build(p Protocol, cfg Config, logger *slog.Logger) (Transport, error) {
	if p == ProtocolZenoh {
		t, err := NewZenoh(cfg, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	t, err := NewROSBridge(cfg, logger)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func detect(ctx context.Context, cfg Config, logger *slog.Logger) (Transport, error) {
	derr := &DetectError{}

	for _, p := range detectOrder {
		attempt := cfg
		attempt.Protocol = p
		if p == ProtocolZenoh {
			attempt.Port = cfg.ZenohPort
		}

		t, err := build(p, attempt, logger)
		if err != nil {
			derr.Attempts = append(derr.Attempts, ProtocolError{Protocol: p, Err: err})
			continue
		}

		if err := connectWithTimeout(ctx, t, cfg.Timeout); err != nil {
			t.Close()
			logger.Debug("auto-detect attempt failed", "protocol", p, "error", err)
			derr.Attempts = append(derr.Attempts, ProtocolError{Protocol: p, Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}

		logger.Info("auto-detected transport", "protocol", p, "host", cfg.Host)
		return t, nil
	}

	return nil, derr
}

func connectWithTimeout(ctx context.Context, t Transport, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return t.Connect(ctx)
}
