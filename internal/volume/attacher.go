package volume

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Attacher issues single attach requests
type Attacher struct {
	api    EC2API
	logger *slog.Logger
}

// NewAttacher creates an attacher
func NewAttacher(api EC2API, logger *slog.Logger) *Attacher {
	return &Attacher{api: api, logger: logger}
}

// Attempt sends exactly one AttachVolume request. Success means the attach
// has started, not that it has completed; use Poller.Confirm for that.
// Every failure is reported as ATTACH_REJECTED.
func (a *Attacher) Attempt(ctx context.Context, req AttachmentRequest) error {
	out, err := a.api.AttachVolume(ctx, &ec2.AttachVolumeInput{
		VolumeId:   aws.String(req.VolumeID),
		InstanceId: aws.String(req.InstanceID),
		Device:     aws.String(req.Device),
	})
	if err != nil {
		return remoteError(err, errors.ErrCodeAttachRejected, "attach request rejected").
			WithOperation("attach").
			WithContext(errors.ContextVolumeID, req.VolumeID).
			WithContext(errors.ContextInstanceID, req.InstanceID).
			WithContext(errors.ContextDevice, req.Device).
			WithRetryable(false)
	}

	a.logger.Info("attach requested",
		"volume_id", req.VolumeID,
		"instance_id", req.InstanceID,
		"device", req.Device,
		"state", string(out.State))
	return nil
}
