// Package metadata resolves the identity of the running EC2 instance.
package metadata

import (
	"context"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// Identity is the instance context an acquisition runs in
type Identity struct {
	InstanceID       string
	Region           string
	AvailabilityZone string
}

// Complete reports whether every field is set.
func (i Identity) Complete() bool {
	return i.InstanceID != "" && i.Region != "" && i.AvailabilityZone != ""
}

type identityAPI interface {
	GetInstanceIdentityDocument(ctx context.Context, params *imds.GetInstanceIdentityDocumentInput, optFns ...func(*imds.Options)) (*imds.GetInstanceIdentityDocumentOutput, error)
}

// Resolver looks up the instance identity, preferring explicit overrides
type Resolver struct {
	api    identityAPI
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the instance metadata service
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{api: imds.New(imds.Options{}), logger: logger}
}

// Resolve returns overrides completed from the instance identity document.
// The metadata service is not contacted when overrides already name the
// instance and zone; a missing region is then derived from the zone.
func (r *Resolver) Resolve(ctx context.Context, overrides Identity) (Identity, error) {
	id := overrides
	if id.Region == "" {
		id.Region = RegionFromZone(id.AvailabilityZone)
	}
	if id.Complete() {
		r.logger.Debug("using instance identity overrides",
			"instance_id", id.InstanceID,
			"availability_zone", id.AvailabilityZone)
		return id, nil
	}

	out, err := r.api.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return Identity{}, errors.Wrap(err, errors.ErrCodeMetadataUnavailable,
			"failed to read instance identity document").
			WithComponent("metadata")
	}

	if id.InstanceID == "" {
		id.InstanceID = out.InstanceID
	}
	if id.AvailabilityZone == "" {
		id.AvailabilityZone = out.AvailabilityZone
	}
	if id.Region == "" {
		id.Region = out.Region
	}

	if !id.Complete() {
		return Identity{}, errors.NewError(errors.ErrCodeMetadataUnavailable,
			"instance identity document is incomplete").
			WithComponent("metadata").
			WithContext(errors.ContextInstanceID, id.InstanceID).
			WithContext(errors.ContextZone, id.AvailabilityZone)
	}

	r.logger.Info("resolved instance identity",
		"instance_id", id.InstanceID,
		"region", id.Region,
		"availability_zone", id.AvailabilityZone)
	return id, nil
}

// RegionFromZone strips the zone letter from an availability zone name,
// e.g. "us-east-1a" becomes "us-east-1". Local and wavelength zone names
// are not recognised and yield "".
func RegionFromZone(zone string) string {
	if len(zone) < 2 {
		return ""
	}
	last := zone[len(zone)-1]
	if last < 'a' || last > 'z' {
		return ""
	}
	region := zone[:len(zone)-1]
	if strings.Count(region, "-") != 2 {
		return ""
	}
	return region
}
