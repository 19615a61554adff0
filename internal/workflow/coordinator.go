// Package workflow drives the request lifecycle for the selected image and
// chosen model.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimishamba325/Coral-reef/internal/derive"
	"github.com/nimishamba325/Coral-reef/internal/inference"
	"github.com/nimishamba325/Coral-reef/internal/logging"
	"github.com/nimishamba325/Coral-reef/internal/prediction"
	"github.com/nimishamba325/Coral-reef/internal/selection"
)

var (
	// ErrNoImage means there is nothing to classify; callers should send the
	// user back to the upload step.
	ErrNoImage = errors.New("no image selected")
	// ErrNotFailed is returned by Retry outside PhaseFailed.
	ErrNotFailed = errors.New("retry is only available after a failed request")
)

// ImageSource exposes the current selection. Current is called with the
// coordinator lock held and must not call back into the coordinator.
type ImageSource interface {
	Current() (selection.Image, bool)
}

// Coordinator owns the state machine. Each activation bumps a generation
// counter; a response is applied only if its generation is still current.
type Coordinator struct {
	images       ImageSource
	client       inference.Client
	logger       *zap.Logger
	newRequestID func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	generation uint64
	seq        uint64
	state      State
	listeners  []func(State)

	notifyMu      sync.Mutex
	lastPublished uint64
}

func NewCoordinator(images ImageSource, client inference.Client, logger *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		images:       images,
		client:       client,
		logger:       logger.Named("workflow"),
		newRequestID: uuid.NewString,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Activate starts a fresh request for the current image and model. It
// returns ErrNoImage without touching state when nothing is selected, and an
// inference ValidationError for unknown models. No network call happens in
// either case.
func (c *Coordinator) Activate(model string) (State, error) {
	parsed, err := prediction.ParseModel(model)
	if err != nil {
		return c.Snapshot(), &inference.Error{Kind: inference.KindValidation, Message: err.Error(), Err: err}
	}

	// The selection is read under c.mu so a concurrent re-select either
	// lands before this read or reaches ImageChanged after the new state.
	c.mu.Lock()
	img, ok := c.images.Current()
	if !ok {
		snap := c.state
		c.mu.Unlock()
		c.logger.Info("activation without image", zap.String("model", string(parsed)))
		return snap, ErrNoImage
	}
	snap, seq, listeners, job := c.startLocked(img, parsed)
	c.mu.Unlock()

	c.publish(seq, listeners, snap)
	c.launch(job)
	return snap, nil
}

// Retry re-issues the failed request for the same key.
func (c *Coordinator) Retry() (State, error) {
	c.mu.Lock()
	img, ok := c.images.Current()
	if c.state.Phase != PhaseFailed {
		snap := c.state
		c.mu.Unlock()
		return snap, ErrNotFailed
	}
	if !ok || img.ID != c.state.Key.ImageID {
		snap := c.state
		c.mu.Unlock()
		return snap, ErrNoImage
	}
	model := c.state.Key.Model
	snap, seq, listeners, job := c.startLocked(img, model)
	c.mu.Unlock()

	c.logger.Info("retrying prediction", zap.String("model", string(model)), zap.Uint64("generation", snap.Generation))
	c.publish(seq, listeners, snap)
	c.launch(job)
	return snap, nil
}

// ImageChanged reacts to the selection changing. A new image restarts the
// active view with the same model; a cleared selection returns to idle.
// Either way any in-flight response becomes stale. The argument is only a
// signal: the current selection is re-read under the lock, so a late or
// out-of-order notification cannot resurrect a superseded image.
func (c *Coordinator) ImageChanged(_ *selection.Image) {
	c.mu.Lock()
	if c.state.Phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	img, ok := c.images.Current()
	if ok && img.ID == c.state.Key.ImageID {
		c.mu.Unlock()
		return
	}

	if !ok {
		c.generation++
		c.seq++
		c.state = State{Phase: PhaseIdle, Generation: c.generation}
		snap, seq, listeners := c.state, c.seq, c.listenersLocked()
		c.mu.Unlock()

		c.logger.Info("selection cleared, workflow reset", zap.Uint64("generation", snap.Generation))
		c.publish(seq, listeners, snap)
		return
	}

	snap, seq, listeners, job := c.startLocked(img, c.state.Key.Model)
	c.mu.Unlock()

	c.logger.Info("selection replaced, restarting", zap.String("image_id", img.ID), zap.Uint64("generation", snap.Generation))
	c.publish(seq, listeners, snap)
	c.launch(job)
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn to receive every visible transition in order.
// fn must not block for long; it runs on the goroutine that made the
// transition.
func (c *Coordinator) Subscribe(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Close cancels in-flight requests and waits for them to finish.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

type job struct {
	generation uint64
	requestID  string
	key        Key
	image      inference.Image
}

func (c *Coordinator) startLocked(img selection.Image, model prediction.Model) (State, uint64, []func(State), job) {
	c.generation++
	c.seq++
	key := Key{ImageID: img.ID, Filename: img.Filename, Model: model}
	requestID := c.newRequestID()
	c.state = State{
		Phase:      PhasePending,
		Key:        key,
		Generation: c.generation,
		RequestID:  requestID,
	}
	j := job{
		generation: c.generation,
		requestID:  requestID,
		key:        key,
		image:      inference.Image{Filename: img.Filename, ContentType: img.ContentType, Data: img.Data},
	}
	return c.state, c.seq, c.listenersLocked(), j
}

func (c *Coordinator) launch(j job) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		result, err := c.predict(j)
		c.complete(j, result, err)
	}()
}

func (c *Coordinator) predict(j job) (result *prediction.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &inference.Error{Kind: inference.KindNetwork, Message: "inference client failed unexpectedly", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return c.client.Predict(c.ctx, j.image, j.key.Model)
}

func (c *Coordinator) complete(j job, result *prediction.Result, err error) {
	opLogger := logging.WithOperation(c.logger, "workflow.complete", j.requestID).With(
		zap.String("model", string(j.key.Model)),
		zap.Uint64("generation", j.generation),
	)

	c.mu.Lock()
	if j.generation != c.generation {
		current := c.generation
		c.mu.Unlock()
		opLogger.Info("discarding stale response", zap.Uint64("current_generation", current))
		return
	}

	next := State{Key: j.key, Generation: j.generation, RequestID: j.requestID}
	switch {
	case err != nil:
		next.Phase = PhaseFailed
		next.ErrorKind, next.Message = classify(err)
		opLogger.Warn("prediction failed", zap.Error(err), zap.Stringer("kind", next.ErrorKind))
	case result == nil:
		next.Phase = PhaseFailed
		next.ErrorKind, next.Message = inference.KindServer, inference.DefaultServerMessage
		opLogger.Warn("prediction returned no result")
	default:
		metrics := derive.MetricsFor(*result)
		guidance := derive.GuidanceFor(result.Label)
		next.Phase = PhaseSucceeded
		next.Result = result
		next.Metrics = &metrics
		next.Guidance = &guidance
		opLogger.Info("prediction succeeded",
			zap.String("label", string(result.Label)),
			zap.Int("healthy_percent", metrics.HealthyPercent),
		)
	}

	c.seq++
	c.state = next
	seq, listeners := c.seq, c.listenersLocked()
	c.mu.Unlock()

	c.publish(seq, listeners, next)
}

// classify maps any error onto the three kinds; unclassified errors are
// treated as transport failures.
func classify(err error) (inference.Kind, string) {
	kind, ok := inference.KindOf(err)
	if !ok {
		kind = inference.KindNetwork
	}
	message := inference.MessageOf(err)
	if message == "" {
		message = inference.DefaultServerMessage
	}
	return kind, message
}

func (c *Coordinator) listenersLocked() []func(State) {
	return slices.Clone(c.listeners)
}

// publish delivers snap unless a newer transition was already delivered.
func (c *Coordinator) publish(seq uint64, listeners []func(State), snap State) {
	if len(listeners) == 0 {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if seq <= c.lastPublished {
		return
	}
	c.lastPublished = seq
	for _, fn := range listeners {
		fn(snap)
	}
}
