package volume

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/google/uuid"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

const orphanDeleteTimeout = 30 * time.Second

// Creator provisions and tags new volumes
type Creator struct {
	api           EC2API
	deleteOrphans bool
	newToken      func() string
	logger        *slog.Logger
}

// NewCreator creates a volume creator. With deleteOrphans set, a volume whose
// tagging fails is deleted again before TAGGING_FAILED is returned.
func NewCreator(api EC2API, deleteOrphans bool, logger *slog.Logger) *Creator {
	return &Creator{
		api:           api,
		deleteOrphans: deleteOrphans,
		newToken:      uuid.NewString,
		logger:        logger,
	}
}

// Create provisions a volume of spec's size and type in zone, then applies
// spec's tags to it. A tagging failure leaves a volume that discovery will
// never match again, so the TAGGING_FAILED error always names it.
func (c *Creator) Create(ctx context.Context, spec VolumeSpec, zone string) (string, error) {
	out, err := c.api.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String(zone),
		Size:             aws.Int32(spec.SizeGiB),
		VolumeType:       spec.VolumeType,
		ClientToken:      aws.String(c.newToken()),
	})
	if err != nil {
		return "", remoteError(err, errors.ErrCodeProvisionFailed, "failed to create volume").
			WithOperation("create").
			WithContext(errors.ContextZone, zone).
			WithRetryable(false)
	}

	volumeID := aws.ToString(out.VolumeId)
	if volumeID == "" {
		return "", errors.NewError(errors.ErrCodeProvisionFailed, "create volume returned no volume id").
			WithComponent("volume").
			WithOperation("create").
			WithContext(errors.ContextZone, zone)
	}

	c.logger.Info("volume created",
		"volume_id", volumeID,
		"availability_zone", zone,
		"size_gib", spec.SizeGiB,
		"type", string(spec.VolumeType))

	_, err = c.api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{volumeID},
		Tags:      buildTags(spec.Tags),
	})
	if err == nil {
		return volumeID, nil
	}

	tagErr := remoteError(err, errors.ErrCodeTaggingFailed, "failed to tag new volume").
		WithOperation("create").
		WithContext(errors.ContextVolumeID, volumeID).
		WithContext(errors.ContextZone, zone).
		WithRetryable(false)

	if !c.deleteOrphans {
		c.logger.Error("new volume could not be tagged and is orphaned",
			"volume_id", volumeID,
			"error", err)
		return "", tagErr.WithDetail("orphan_deleted", false)
	}

	// The caller's context may already be done; the cleanup still runs.
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), orphanDeleteTimeout)
	defer cancel()
	if _, delErr := c.api.DeleteVolume(delCtx, &ec2.DeleteVolumeInput{VolumeId: aws.String(volumeID)}); delErr != nil {
		c.logger.Error("failed to delete untagged volume",
			"volume_id", volumeID,
			"error", delErr)
		return "", tagErr.
			WithDetail("orphan_deleted", false).
			WithDetail("orphan_delete_error", delErr.Error())
	}

	c.logger.Warn("deleted untagged volume", "volume_id", volumeID)
	return "", tagErr.WithDetail("orphan_deleted", true)
}
