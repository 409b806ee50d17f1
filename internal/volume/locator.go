package volume

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
	"github.com/mfenniak/cloud-persistent-storage/pkg/retry"
)

// Locator discovers available volumes matching a filter set
type Locator struct {
	api     EC2API
	retryer *retry.Retryer
	logger  *slog.Logger
}

// NewLocator creates a locator. DescribeVolumes is read-only, so throttled
// and transport failures are retried according to retryConfig.
func NewLocator(api EC2API, retryConfig retry.Config, logger *slog.Logger) *Locator {
	l := &Locator{api: api, logger: logger}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		l.logger.Warn("retrying volume discovery",
			"attempt", attempt,
			"delay", delay,
			"error", err)
	}
	l.retryer = retry.New(retryConfig)
	return l
}

// Locate returns the volumes matching filters in the order the API returned
// them. An empty result is not an error. A response carrying a continuation
// token is refused rather than acted on as if it were complete.
func (l *Locator) Locate(ctx context.Context, filters []types.Filter) ([]Candidate, error) {
	var out *ec2.DescribeVolumesOutput
	err := l.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.api.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{Filters: filters})
		if err != nil {
			return remoteError(err, errors.ErrCodeDiscoveryFailed, "failed to describe volumes").
				WithOperation("locate")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if aws.ToString(out.NextToken) != "" {
		return nil, errors.NewError(errors.ErrCodePaginationUnsupported,
			"volume discovery returned more than one page of results").
			WithComponent("volume").
			WithOperation("locate").
			WithDetail("volumes_in_page", len(out.Volumes))
	}

	candidates := make([]Candidate, 0, len(out.Volumes))
	for _, v := range out.Volumes {
		candidates = append(candidates, Candidate{
			VolumeID:         aws.ToString(v.VolumeId),
			AvailabilityZone: aws.ToString(v.AvailabilityZone),
			SizeGiB:          aws.ToInt32(v.Size),
		})
	}

	l.logger.Debug("volume discovery complete", "candidates", len(candidates))
	return candidates, nil
}
