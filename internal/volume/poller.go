package volume

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/juju/clock"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// PollerConfig controls attachment confirmation
type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration

	// MaxConsecutiveFailures bounds how many failed polls in a row are
	// treated as "not attached yet".
	MaxConsecutiveFailures int
}

// DefaultPollerConfig polls every 5s for up to 5m.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:               5 * time.Second,
		Timeout:                5 * time.Minute,
		MaxConsecutiveFailures: 5,
	}
}

// Poller waits for a volume's attachment to report attached
type Poller struct {
	api    EC2API
	config PollerConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewPoller creates a poller. A nil clk uses the wall clock.
func NewPoller(api EC2API, config PollerConfig, clk clock.Clock, logger *slog.Logger) *Poller {
	defaults := DefaultPollerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Poller{api: api, config: config, clock: clk, logger: logger}
}

// State reads the state of the first attachment record of volumeID. A volume
// with no attachment records is reported as detached.
func (p *Poller) State(ctx context.Context, volumeID string) (AttachmentState, error) {
	out, err := p.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
		VolumeIds: []string{volumeID},
	})
	if err != nil {
		return "", err
	}
	if len(out.Volumes) == 0 || len(out.Volumes[0].Attachments) == 0 {
		return AttachmentStateDetached, nil
	}
	return AttachmentState(out.Volumes[0].Attachments[0].State), nil
}

// Confirm polls until volumeID is attached. Polls run every Interval, and a
// final poll runs when the timeout is reached, so the total wait never
// exceeds Timeout. It returns CONFIRM_TIMEOUT when that final poll still
// sees the volume unattached. CONFIRM_FAILED is returned when the volume id is
// rejected, too many polls fail in a row or ctx ends first. Other poll
// failures count as not attached yet.
func (p *Poller) Confirm(ctx context.Context, volumeID string) error {
	start := p.clock.Now()
	deadline := start.Add(p.config.Timeout)
	failures := 0

	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return p.canceled(err, volumeID)
		}

		state, err := p.State(ctx, volumeID)
		switch {
		case err == nil:
			failures = 0
			p.logger.Debug("attachment state", "volume_id", volumeID, "state", string(state), "poll", polls)
			if state == AttachmentStateAttached {
				p.logger.Info("attachment confirmed",
					"volume_id", volumeID,
					"elapsed", p.clock.Now().Sub(start))
				return nil
			}
		case ctx.Err() != nil:
			return p.canceled(ctx.Err(), volumeID)
		case isUnrecoverable(err):
			return remoteError(err, errors.ErrCodeConfirmFailed, "volume rejected while confirming attachment").
				WithOperation("confirm").
				WithContext(errors.ContextVolumeID, volumeID).
				WithRetryable(false)
		default:
			failures++
			p.logger.Warn("attachment state poll failed",
				"volume_id", volumeID,
				"consecutive_failures", failures,
				"error", err)
			if failures > p.config.MaxConsecutiveFailures {
				return remoteError(err, errors.ErrCodeConfirmFailed, "too many consecutive poll failures").
					WithOperation("confirm").
					WithContext(errors.ContextVolumeID, volumeID).
					WithDetail("consecutive_failures", failures).
					WithRetryable(false)
			}
		}

		remaining := deadline.Sub(p.clock.Now())
		if remaining <= 0 {
			return errors.Newf(errors.ErrCodeConfirmTimeout,
				"volume not attached after %s", p.config.Timeout).
				WithComponent("volume").
				WithOperation("confirm").
				WithContext(errors.ContextVolumeID, volumeID).
				WithDetail("polls", polls)
		}

		select {
		case <-ctx.Done():
			return p.canceled(ctx.Err(), volumeID)
		case <-p.clock.After(min(p.config.Interval, remaining)):
		}
	}
}

func (p *Poller) canceled(err error, volumeID string) error {
	return errors.Wrap(err, errors.ErrCodeConfirmFailed, "attachment confirmation canceled").
		WithComponent("volume").
		WithOperation("confirm").
		WithContext(errors.ContextVolumeID, volumeID).
		WithRetryable(false)
}
