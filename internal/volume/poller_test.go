package volume

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
	"github.com/mfenniak/cloud-persistent-storage/pkg/utils"
)

const shortWait = 2 * time.Second

func states(seq ...types.VolumeAttachmentState) func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
	i := 0
	return func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
		state := seq[len(seq)-1]
		if i < len(seq) {
			state = seq[i]
		}
		i++
		return attachedVolume(in.VolumeIds[0], state), nil
	}
}

func runConfirm(p *Poller, volumeID string) <-chan error {
	done := make(chan error, 1)
	go func() { done <- p.Confirm(context.Background(), volumeID) }()
	return done
}

func TestPoller_State(t *testing.T) {
	tests := []struct {
		name string
		out  *ec2.DescribeVolumesOutput
		want AttachmentState
	}{
		{"no volumes", &ec2.DescribeVolumesOutput{}, AttachmentStateDetached},
		{"no attachments", &ec2.DescribeVolumesOutput{Volumes: volumes("vol-1")}, AttachmentStateDetached},
		{"attaching", attachedVolume("vol-1", types.VolumeAttachmentStateAttaching), AttachmentStateAttaching},
		{"attached", attachedVolume("vol-1", types.VolumeAttachmentStateAttached), AttachmentStateAttached},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeEC2{describe: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				return tt.out, nil
			}}
			p := NewPoller(api, DefaultPollerConfig(), testclock.NewClock(time.Now()), utils.DiscardLogger())

			state, err := p.State(context.Background(), "vol-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
			assert.Equal(t, []string{"vol-1"}, api.describeCalls[0].VolumeIds)
		})
	}
}

func TestPoller_ImmediatelyAttached(t *testing.T) {
	api := &fakeEC2{describe: states(types.VolumeAttachmentStateAttached)}
	p := NewPoller(api, DefaultPollerConfig(), testclock.NewClock(time.Now()), utils.DiscardLogger())

	require.NoError(t, p.Confirm(context.Background(), "vol-1"))
	assert.Equal(t, 1, api.describeCount())
}

func TestPoller_AttachedAfterPolls(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := &fakeEC2{describe: states(
		types.VolumeAttachmentStateAttaching,
		types.VolumeAttachmentStateAttaching,
		types.VolumeAttachmentStateAttached,
	)}
	p := NewPoller(api, DefaultPollerConfig(), clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")
	require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))
	require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shortWait):
		t.Fatal("poller did not return")
	}
	assert.Equal(t, 3, api.describeCount())
}

func TestPoller_TimeoutAtBudgetNotBefore(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := &fakeEC2{describe: states(types.VolumeAttachmentStateAttaching)}
	p := NewPoller(api, DefaultPollerConfig(), clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")

	// 5m budget at 5s intervals: the poller must still be waiting after each
	// of the first 59 intervals, and polls once more at the deadline.
	for i := 1; i < 60; i++ {
		require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1), "interval %d", i)
		select {
		case err := <-done:
			t.Fatalf("returned after %d intervals: %v", i, err)
		default:
		}
	}
	require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConfirmTimeout, errors.CodeOf(err))
	case <-time.After(shortWait):
		t.Fatal("poller did not time out")
	}
	assert.Equal(t, 61, api.describeCount())
}

func TestPoller_LastWaitIsClampedToBudget(t *testing.T) {
	start := time.Now()
	clk := testclock.NewClock(start)
	api := &fakeEC2{describe: states(types.VolumeAttachmentStateAttaching)}
	p := NewPoller(api, PollerConfig{Interval: 4 * time.Minute, Timeout: 5 * time.Minute}, clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")

	require.NoError(t, clk.WaitAdvance(4*time.Minute, shortWait, 1))
	require.NoError(t, clk.WaitAdvance(time.Minute, shortWait, 1))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConfirmTimeout, errors.CodeOf(err))
	case <-time.After(shortWait):
		t.Fatal("poller waited past its budget")
	}
	assert.Equal(t, 5*time.Minute, clk.Now().Sub(start))
	assert.Equal(t, 3, api.describeCount(), "polls at 0, 4m and the 5m deadline")
}

func TestPoller_AttachedAtDeadline(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := &fakeEC2{describe: states(
		types.VolumeAttachmentStateAttaching,
		types.VolumeAttachmentStateAttaching,
		types.VolumeAttachmentStateAttached,
	)}
	p := NewPoller(api, PollerConfig{Interval: 4 * time.Minute, Timeout: 5 * time.Minute}, clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")
	require.NoError(t, clk.WaitAdvance(4*time.Minute, shortWait, 1))
	require.NoError(t, clk.WaitAdvance(time.Minute, shortWait, 1))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shortWait):
		t.Fatal("poller did not return")
	}
}

func TestPoller_TransientFailuresTolerated(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	calls := 0
	api := &fakeEC2{describe: func(in *ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
		calls++
		if calls <= 3 {
			return nil, stderrors.New("connection reset")
		}
		return attachedVolume(in.VolumeIds[0], types.VolumeAttachmentStateAttached), nil
	}}
	p := NewPoller(api, DefaultPollerConfig(), clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")
	for i := 0; i < 3; i++ {
		require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shortWait):
		t.Fatal("poller did not return")
	}
}

func TestPoller_ConsecutiveFailureCap(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := &fakeEC2{describe: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
		return nil, apiError("InternalError")
	}}
	cfg := DefaultPollerConfig()
	cfg.MaxConsecutiveFailures = 2
	p := NewPoller(api, cfg, clk, utils.DiscardLogger())

	done := runConfirm(p, "vol-1")
	require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))
	require.NoError(t, clk.WaitAdvance(5*time.Second, shortWait, 1))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConfirmFailed, errors.CodeOf(err))
	case <-time.After(shortWait):
		t.Fatal("poller did not give up")
	}
	assert.Equal(t, 3, api.describeCount())
}

func TestPoller_UnrecoverableFault(t *testing.T) {
	for _, code := range []string{"InvalidVolume.NotFound", "InvalidVolumeID.Malformed"} {
		t.Run(code, func(t *testing.T) {
			api := &fakeEC2{describe: func(*ec2.DescribeVolumesInput) (*ec2.DescribeVolumesOutput, error) {
				return nil, apiError(code)
			}}
			p := NewPoller(api, DefaultPollerConfig(), testclock.NewClock(time.Now()), utils.DiscardLogger())

			err := p.Confirm(context.Background(), "vol-1")
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeConfirmFailed, errors.CodeOf(err))
			assert.Equal(t, 1, api.describeCount())
		})
	}
}

func TestPoller_Canceled(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	api := &fakeEC2{describe: states(types.VolumeAttachmentStateAttaching)}
	p := NewPoller(api, DefaultPollerConfig(), clk, utils.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Confirm(ctx, "vol-1") }()

	// wait for the poller to block on its interval, then cancel
	require.NoError(t, clk.WaitAdvance(0, shortWait, 1))
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeConfirmFailed, errors.CodeOf(err))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(shortWait):
		t.Fatal("poller ignored cancellation")
	}
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(&fakeEC2{}, PollerConfig{}, nil, utils.DiscardLogger())
	assert.Equal(t, DefaultPollerConfig(), p.config)
	assert.NotNil(t, p.clock)
}
