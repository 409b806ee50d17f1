package ebs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenniak/cloud-persistent-storage/pkg/utils"
)

const unavailableBody = `<?xml version="1.0" encoding="UTF-8"?>
<Response><Errors><Error><Code>Unavailable</Code><Message>service unavailable</Message></Error></Errors><RequestID>req-1</RequestID></Response>`

// unavailableEC2 answers every request with 503 and counts requests per action
type unavailableEC2 struct {
	mu      sync.Mutex
	actions map[string]int
}

func (u *unavailableEC2) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	u.mu.Lock()
	u.actions[r.Form.Get("Action")]++
	u.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte(unavailableBody))
}

func (u *unavailableEC2) count(action string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.actions[action]
}

func newUnavailableClient(t *testing.T) (*Client, *unavailableEC2) {
	t.Helper()

	backend := &unavailableEC2{actions: make(map[string]int)}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	cfg := NewDefaultConfig()
	cfg.Endpoint = server.URL
	cfg.AccessKeyID = "AKIAEXAMPLE"
	cfg.SecretAccessKey = "secret"
	cfg.MaxRetries = 2

	client, err := NewClient(context.Background(), "us-east-1", cfg, utils.DiscardLogger())
	require.NoError(t, err)
	return client, backend
}

func TestClient_AttachIsSentOnce(t *testing.T) {
	client, backend := newUnavailableClient(t)

	_, err := client.AttachVolume(context.Background(), &ec2.AttachVolumeInput{
		VolumeId:   aws.String("vol-1"),
		InstanceId: aws.String("i-1"),
		Device:     aws.String("/dev/xvdh"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, backend.count("AttachVolume"))
}

func TestClient_CreateAndTagAreSentOnce(t *testing.T) {
	client, backend := newUnavailableClient(t)
	ctx := context.Background()

	_, err := client.CreateVolume(ctx, &ec2.CreateVolumeInput{
		AvailabilityZone: aws.String("us-east-1a"),
		Size:             aws.Int32(10),
		VolumeType:       types.VolumeTypeGp2,
		ClientToken:      aws.String("token"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, backend.count("CreateVolume"))

	_, err = client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{"vol-1"},
		Tags:      []types.Tag{{Key: aws.String("role"), Value: aws.String("db")}},
	})
	require.Error(t, err)
	assert.Equal(t, 1, backend.count("CreateTags"))
}

func TestClient_DescribeKeepsSDKRetries(t *testing.T) {
	client, backend := newUnavailableClient(t)

	_, err := client.DescribeVolumes(context.Background(), &ec2.DescribeVolumesInput{})
	require.Error(t, err)
	assert.Equal(t, 2, backend.count("DescribeVolumes"))
}
