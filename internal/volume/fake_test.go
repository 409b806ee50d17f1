package volume

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

// fakeEC2 records every call and delegates to the configured funcs.
// A nil func succeeds with an empty response.
type fakeEC2 struct {
	mu sync.Mutex

	describe     func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error)
	attach       func(*ec2.AttachVolumeInput) (*ec2.AttachVolumeOutput, error)
	createVolume func(*ec2.CreateVolumeInput) (*ec2.CreateVolumeOutput, error)
	createTags   func(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error)
	deleteVolume func(*ec2.DeleteVolumeInput) (*ec2.DeleteVolumeOutput, error)

	describeCalls []*ec2.DescribeVolumesInput
	attachCalls   []*ec2.AttachVolumeInput
	createCalls   []*ec2.CreateVolumeInput
	tagCalls      []*ec2.CreateTagsInput
	deleteCalls   []*ec2.DeleteVolumeInput
}

func (f *fakeEC2) DescribeVolumes(_ context.Context, in *ec2.DescribeVolumesInput, _ ...func(*ec2.Options)) (*ec2.DescribeVolumesOutput, error) {
	f.mu.Lock()
	f.describeCalls = append(f.describeCalls, in)
	fn := f.describe
	f.mu.Unlock()
	if fn == nil {
		return &ec2.DescribeVolumesOutput{}, nil
	}
	return fn(in)
}

func (f *fakeEC2) AttachVolume(_ context.Context, in *ec2.AttachVolumeInput, _ ...func(*ec2.Options)) (*ec2.AttachVolumeOutput, error) {
	f.mu.Lock()
	f.attachCalls = append(f.attachCalls, in)
	fn := f.attach
	f.mu.Unlock()
	if fn == nil {
		return &ec2.AttachVolumeOutput{State: types.VolumeAttachmentStateAttaching}, nil
	}
	return fn(in)
}

func (f *fakeEC2) CreateVolume(_ context.Context, in *ec2.CreateVolumeInput, _ ...func(*ec2.Options)) (*ec2.CreateVolumeOutput, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, in)
	fn := f.createVolume
	f.mu.Unlock()
	if fn == nil {
		return &ec2.CreateVolumeOutput{VolumeId: aws.String("vol-new")}, nil
	}
	return fn(in)
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.mu.Lock()
	f.tagCalls = append(f.tagCalls, in)
	fn := f.createTags
	f.mu.Unlock()
	if fn == nil {
		return &ec2.CreateTagsOutput{}, nil
	}
	return fn(in)
}

func (f *fakeEC2) DeleteVolume(_ context.Context, in *ec2.DeleteVolumeInput, _ ...func(*ec2.Options)) (*ec2.DeleteVolumeOutput, error) {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, in)
	fn := f.deleteVolume
	f.mu.Unlock()
	if fn == nil {
		return &ec2.DeleteVolumeOutput{}, nil
	}
	return fn(in)
}

func (f *fakeEC2) attachedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.attachCalls))
	for _, in := range f.attachCalls {
		ids = append(ids, aws.ToString(in.VolumeId))
	}
	return ids
}

func (f *fakeEC2) describeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.describeCalls)
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code + " (test)"}
}

func volumes(ids ...string) []types.Volume {
	out := make([]types.Volume, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.Volume{
			VolumeId:         aws.String(id),
			AvailabilityZone: aws.String("us-east-1a"),
			Size:             aws.Int32(200),
			State:            types.VolumeStateAvailable,
		})
	}
	return out
}

func attachedVolume(id string, state types.VolumeAttachmentState) *ec2.DescribeVolumesOutput {
	return &ec2.DescribeVolumesOutput{Volumes: []types.Volume{{
		VolumeId:    aws.String(id),
		Attachments: []types.VolumeAttachment{{VolumeId: aws.String(id), State: state}},
	}}}
}

// byFilter routes DescribeVolumes: filtered discovery queries get discovered,
// VolumeIds queries get attachment state.
func byFilter(discovered *ec2.DescribeVolumesOutput, state func(id string) (*ec2.DescribeVolumesOutput, error)) func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
	return func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
		if len(in.VolumeIds) > 0 {
			return state(in.VolumeIds[0])
		}
		return discovered, nil
	}
}

func alwaysAttached(id string) (*ec2.DescribeVolumesOutput, error) {
	return attachedVolume(id, types.VolumeAttachmentStateAttached), nil
}
