// Package volume locates, creates and attaches the tagged EBS volume backing
// an instance's persistent storage.
package volume

import (
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// VolumeSpec describes the volume to find or create
type VolumeSpec struct {
	SizeGiB    int32
	VolumeType types.VolumeType
	Tags       map[string]string
}

// Candidate is an available volume returned by discovery
type Candidate struct {
	VolumeID         string
	AvailabilityZone string
	SizeGiB          int32
}

// AttachmentRequest attaches one volume to one instance at a fixed device path
type AttachmentRequest struct {
	VolumeID   string
	InstanceID string
	Device     string
}

// AttachmentState is the state of a volume's attachment record
type AttachmentState string

const (
	AttachmentStateDetached  AttachmentState = AttachmentState(types.VolumeAttachmentStateDetached)
	AttachmentStateAttaching AttachmentState = AttachmentState(types.VolumeAttachmentStateAttaching)
	AttachmentStateAttached  AttachmentState = AttachmentState(types.VolumeAttachmentStateAttached)
	AttachmentStateDetaching AttachmentState = AttachmentState(types.VolumeAttachmentStateDetaching)
)

// VolumeStateAvailable is the discovery state for unattached volumes
const VolumeStateAvailable = string(types.VolumeStateAvailable)
