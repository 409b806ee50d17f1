package volume

import (
	"context"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/mfenniak/cloud-persistent-storage/pkg/errors"
	"github.com/mfenniak/cloud-persistent-storage/pkg/retry"
)

// State is a step of the acquire-and-attach protocol
type State int

const (
	StateDiscovering State = iota
	StateAttemptingExisting
	StateCreating
	StateAttemptingNew
	StateConfirming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateAttemptingExisting:
		return "attempting_existing"
	case StateCreating:
		return "creating"
	case StateAttemptingNew:
		return "attempting_new"
	case StateConfirming:
		return "confirming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attach sources reported to a Recorder.
const (
	SourceExisting = "existing"
	SourceCreated  = "created"
)

// Recorder receives orchestration events. All methods must be safe to call
// with a nil error.
type Recorder interface {
	Transition(from, to State)
	CandidatesFound(n int)
	AttachAttempted(source string, err error)
	ConfirmFinished(elapsed time.Duration, err error)
	Finished(err error)
}

type nopRecorder struct{}

func (nopRecorder) Transition(State, State) {}
func (nopRecorder) CandidatesFound(int) {}
func (nopRecorder) AttachAttempted(string, error) {}
func (nopRecorder) ConfirmFinished(time.Duration, error) {}
func (nopRecorder) Finished(error) {}

// Options configures an Orchestrator
type Options struct {
	// AllowCreate permits creating a volume when no candidate could be attached.
	AllowCreate bool

	// DeleteOrphanedVolume deletes a newly created volume whose tagging failed.
	DeleteOrphanedVolume bool

	Poller   PollerConfig
	Retry    retry.Config
	Clock    clock.Clock
	Recorder Recorder
}

// DefaultOptions returns options matching the default configuration
func DefaultOptions() Options {
	return Options{
		AllowCreate: true,
		Poller:      DefaultPollerConfig(),
		Retry:       retry.DefaultConfig(),
	}
}

// Orchestrator acquires a tagged volume and attaches it to an instance
type Orchestrator struct {
	locator     *Locator
	attacher    *Attacher
	creator     *Creator
	poller      *Poller
	allowCreate bool
	clock       clock.Clock
	recorder    Recorder
	logger      *slog.Logger
}

// NewOrchestrator builds an orchestrator and its components over api
func NewOrchestrator(api EC2API, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Orchestrator{
		locator:     NewLocator(api, opts.Retry, logger),
		attacher:    NewAttacher(api, logger),
		creator:     NewCreator(api, opts.DeleteOrphanedVolume, logger),
		poller:      NewPoller(api, opts.Poller, opts.Clock, logger),
		allowCreate: opts.AllowCreate,
		clock:       opts.Clock,
		recorder:    opts.Recorder,
		logger:      logger,
	}
}

// acquisition holds the state of one AcquireAndAttach call
type acquisition struct {
	spec       VolumeSpec
	device     string
	instanceID string
	zone       string

	candidates []Candidate
	attempted  []string
	lastErr    error
	volumeID   string
	err        error
}

// AcquireAndAttach attaches an available volume matching spec.Tags to
// instanceID at device, creating one in zone when no existing volume can be
// attached, and waits for the attachment to be confirmed. Each existing
// candidate is tried once, in discovery order, and at most one volume is
// created per call. On success the attached volume id is returned.
func (o *Orchestrator) AcquireAndAttach(ctx context.Context, spec VolumeSpec, device, instanceID, zone string) (string, error) {
	run := &acquisition{
		spec:       spec,
		device:     device,
		instanceID: instanceID,
		zone:       zone,
	}

	state := StateDiscovering
	for state != StateDone && state != StateFailed {
		next := o.step(ctx, run, state)
		o.logger.Debug("acquisition state change", "from", state.String(), "to", next.String())
		o.recorder.Transition(state, next)
		state = next
	}

	o.recorder.Finished(run.err)
	if state == StateFailed {
		return "", o.annotate(run)
	}
	return run.volumeID, nil
}

func (o *Orchestrator) step(ctx context.Context, run *acquisition, state State) State {
	switch state {
	case StateDiscovering:
		return o.discover(ctx, run)
	case StateAttemptingExisting:
		return o.attemptExisting(ctx, run)
	case StateCreating:
		return o.create(ctx, run)
	case StateAttemptingNew:
		return o.attemptNew(ctx, run)
	case StateConfirming:
		return o.confirm(ctx, run)
	default:
		run.err = errors.Newf(errors.ErrCodeInternalError, "unexpected acquisition state %s", state).
			WithComponent("volume")
		return StateFailed
	}
}

func (o *Orchestrator) discover(ctx context.Context, run *acquisition) State {
	filters, err := BuildFilters(run.spec.Tags, VolumeStateAvailable)
	if err != nil {
		run.err = err
		return StateFailed
	}

	candidates, err := o.locator.Locate(ctx, filters)
	if err != nil {
		run.err = err
		return StateFailed
	}

	o.recorder.CandidatesFound(len(candidates))
	o.logger.Info("discovered candidate volumes", "count", len(candidates))
	run.candidates = candidates
	return StateAttemptingExisting
}

func (o *Orchestrator) attemptExisting(ctx context.Context, run *acquisition) State {
	for _, candidate := range run.candidates {
		if err := ctx.Err(); err != nil {
			run.err = errors.Wrap(err, errors.ErrCodeOperationCanceled, "acquisition canceled").
				WithComponent("volume").
				WithOperation("attach")
			return StateFailed
		}

		run.attempted = append(run.attempted, candidate.VolumeID)
		err := o.attacher.Attempt(ctx, AttachmentRequest{
			VolumeID:   candidate.VolumeID,
			InstanceID: run.instanceID,
			Device:     run.device,
		})
		o.recorder.AttachAttempted(SourceExisting, err)
		if err == nil {
			run.volumeID = candidate.VolumeID
			return StateConfirming
		}

		o.logger.Warn("candidate volume could not be attached",
			"volume_id", candidate.VolumeID,
			"error", err)
		run.lastErr = err
	}

	if o.allowCreate {
		return StateCreating
	}

	if len(run.candidates) == 0 {
		run.err = errors.NewError(errors.ErrCodeNoVolumesAvailable,
			"no available volume matches the tag policy and creation is disabled").
			WithComponent("volume").
			WithOperation("attach")
		return StateFailed
	}

	run.err = errors.Wrap(run.lastErr, errors.ErrCodeAllAttachesFailed,
		"no candidate volume could be attached and creation is disabled").
		WithComponent("volume").
		WithOperation("attach").
		WithDetail("attempted", run.attempted)
	return StateFailed
}

func (o *Orchestrator) create(ctx context.Context, run *acquisition) State {
	volumeID, err := o.creator.Create(ctx, run.spec, run.zone)
	if err != nil {
		run.err = err
		return StateFailed
	}
	run.volumeID = volumeID
	return StateAttemptingNew
}

func (o *Orchestrator) attemptNew(ctx context.Context, run *acquisition) State {
	run.attempted = append(run.attempted, run.volumeID)
	err := o.attacher.Attempt(ctx, AttachmentRequest{
		VolumeID:   run.volumeID,
		InstanceID: run.instanceID,
		Device:     run.device,
	})
	o.recorder.AttachAttempted(SourceCreated, err)
	if err != nil {
		run.err = errors.Wrap(err, errors.ErrCodeAllAttachesFailed, "newly created volume could not be attached").
			WithComponent("volume").
			WithOperation("attach").
			WithContext(errors.ContextVolumeID, run.volumeID).
			WithDetail("attempted", run.attempted)
		return StateFailed
	}
	return StateConfirming
}

func (o *Orchestrator) confirm(ctx context.Context, run *acquisition) State {
	start := o.clock.Now()
	err := o.poller.Confirm(ctx, run.volumeID)
	o.recorder.ConfirmFinished(o.clock.Now().Sub(start), err)
	if err != nil {
		run.err = err
		return StateFailed
	}
	return StateDone
}

// annotate adds the run's instance context to the terminal error.
func (o *Orchestrator) annotate(run *acquisition) error {
	var storageErr *errors.StorageError
	if errors.As(run.err, &storageErr) {
		storageErr.WithContext(errors.ContextInstanceID, run.instanceID).
			WithContext(errors.ContextDevice, run.device).
			WithContext(errors.ContextZone, run.zone)
	}
	return run.err
}
