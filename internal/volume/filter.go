package volume

import (
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/samber/lo"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
)

// BuildFilters returns one "tag:<key>" clause per tag, in key order, followed
// by a status clause for state. An empty tag map is refused with
// INVALID_TAG_POLICY since the filter would match every volume in the region.
func BuildFilters(tags map[string]string, state string) ([]types.Filter, error) {
	if len(tags) == 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidTagPolicy, "volume discovery requires at least one tag").
			WithComponent("volume").
			WithOperation("discover")
	}
	filters := lo.Map(sortedKeys(tags), func(key string, _ int) types.Filter {
		return types.Filter{
			Name:   aws.String("tag:" + key),
			Values: []string{tags[key]},
		}
	})
	return append(filters, types.Filter{
		Name:   aws.String("status"),
		Values: []string{state},
	}), nil
}

// buildTags converts tags to EC2 tags in key order.
func buildTags(tags map[string]string) []types.Tag {
	return lo.Map(sortedKeys(tags), func(key string, _ int) types.Tag {
		return types.Tag{Key: aws.String(key), Value: aws.String(tags[key])}
	})
}

func sortedKeys(tags map[string]string) []string {
	keys := lo.Keys(tags)
	sort.Strings(keys)
	return keys
}
