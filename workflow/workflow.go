package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/songzhibin97/eventflow/events"
	"github.com/songzhibin97/eventflow/log"
	"github.com/songzhibin97/eventflow/storage"
	"github.com/songzhibin97/eventflow/types"
)

type route struct {
	proto types.Event
	node  Node
}

// Workflow owns an event routing table and drives runs through it. One
// Workflow executes one run at a time; its run id is also the persistence
// key of the run's snapshot.
type Workflow struct {
	runID    string
	routes   map[string]route
	order    []string
	storage  storage.Storage
	eventBus *events.EventBus
	ownsBus  bool
	syncBus  bool
	logger   *slog.Logger
	generate generator.Generator
	running  atomic.Bool
	mu       sync.RWMutex
}

// Option configures a Workflow.
type Option func(*Workflow) error

// WithRunID sets the run id, e.g. to resume a run suspended by another
// process.
func WithRunID(id string) Option {
	return func(w *Workflow) error {
		if id == "" {
			return storage.ErrEmptyRunID
		}
		w.runID = id
		return nil
	}
}

// WithStorage sets the snapshot store. Defaults to a MemoryStorage owned by
// the workflow.
func WithStorage(store storage.Storage) Option {
	return func(w *Workflow) error {
		if store != nil {
			w.storage = store
		}
		return nil
	}
}

// WithGenerator sets the generator used to assign a run id when none is given.
func WithGenerator(gen generator.Generator) Option {
	return func(w *Workflow) error {
		if gen != nil {
			w.generate = gen
		}
		return nil
	}
}

// WithEventBus publishes run notifications to bus. The bus may be shared
// between workflows; the workflow does not stop it.
func WithEventBus(bus *events.EventBus) Option {
	return func(w *Workflow) error {
		w.eventBus = bus
		return nil
	}
}

// WithSyncNotifications makes the run wait until observers have handled
// each notification. Observer errors are logged and never fail the run.
func WithSyncNotifications() Option {
	return func(w *Workflow) error {
		w.syncBus = true
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) error {
		if logger != nil {
			w.logger = logger
		}
		return nil
	}
}

// WithRoutes registers the routing table.
func WithRoutes(routes ...Route) Option {
	return func(w *Workflow) error {
		return w.AddNodes(routes...)
	}
}

var (
	defaultGeneratorOnce sync.Once
	defaultGenerator     generator.Generator
)

func sharedGenerator() generator.Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = NewGenerator(1)
	})
	return defaultGenerator
}

// NewGenerator returns a snowflake run id generator counting from gkit's
// fixed epoch, so ids keep increasing across process restarts. Processes
// sharing a snapshot store need distinct machine ids.
func NewGenerator(machineID uint16) generator.Generator {
	return generator.NewSnowflake(time.Time{}, machineID)
}

// New creates a Workflow.
func New(opts ...Option) (*Workflow, error) {
	w := &Workflow{
		routes: make(map[string]route),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}

	if w.storage == nil {
		w.storage = storage.NewMemoryStorage()
	}
	if w.runID == "" {
		gen := w.generate
		if gen == nil {
			gen = sharedGenerator()
		}
		id, err := gen.NextID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate run ID: %w", err)
		}
		w.runID = strconv.FormatUint(id, 10)
	}
	w.logger = w.logger.With(log.RunID(w.runID))
	return w, nil
}

// RunID returns the run id, which is also the snapshot key.
func (w *Workflow) RunID() string {
	return w.runID
}

// Storage returns the snapshot store.
func (w *Workflow) Storage() storage.Storage {
	return w.storage
}

// Subscribe registers an observer for a notification type. Without a bus
// configured through WithEventBus, the workflow creates one; Close stops it.
func (w *Workflow) Subscribe(eventType string, handler events.EventHandler) {
	w.mu.Lock()
	if w.eventBus == nil {
		w.eventBus = events.NewEventBus()
		w.ownsBus = true
	}
	bus := w.eventBus
	w.mu.Unlock()
	bus.Subscribe(eventType, handler)
}

// Unsubscribe removes an observer registered through Subscribe, or
// directly on the configured bus.
func (w *Workflow) Unsubscribe(eventType string, handler events.EventHandler) bool {
	w.mu.RLock()
	bus := w.eventBus
	w.mu.RUnlock()
	if bus == nil {
		return false
	}
	return bus.Unsubscribe(eventType, handler)
}

// Close stops the notification bus if the workflow created it.
func (w *Workflow) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ownsBus && w.eventBus != nil {
		w.eventBus.Stop()
		w.eventBus = nil
		w.ownsBus = false
	}
}

// AddNodes replaces the routing table. Each event kind may be routed to a
// single node; duplicates are rejected instead of silently overwritten.
func (w *Workflow) AddNodes(routes ...Route) error {
	table := make(map[string]route, len(routes))
	order := make([]string, 0, len(routes))
	for _, r := range routes {
		if r.Event == nil || r.Node == nil {
			return fmt.Errorf("%w: event and node are required", ErrInvalidRoute)
		}
		kind := r.Event.Kind()
		if kind == "" || kind == types.KindStop {
			return fmt.Errorf("%w: cannot route event kind %q", ErrInvalidRoute, kind)
		}
		if r.Node.Name() == "" {
			return fmt.Errorf("%w: node for %q has no name", ErrInvalidRoute, kind)
		}
		if _, dup := table[kind]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateRoute, kind)
		}
		table[kind] = route{proto: r.Event, node: r.Node}
		order = append(order, kind)
	}

	if w.running.Load() {
		return ErrRunInProgress
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.routes = table
	w.order = order
	return nil
}

// Validate checks the routing table: a start node must be registered and
// every declared event kind must lead somewhere.
func (w *Workflow) Validate() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if _, ok := w.routes[types.KindStart]; !ok {
		return ErrNoStartNode
	}
	for _, kind := range w.order {
		em, ok := w.routes[kind].node.(Emitter)
		if !ok {
			continue
		}
		for _, out := range em.Emits() {
			if out == types.KindStop {
				continue
			}
			if _, routed := w.routes[out]; !routed {
				return fmt.Errorf("%w: %q declared by %s", ErrDanglingEvent, out, w.routes[kind].node.Name())
			}
		}
	}
	return nil
}

// Nodes describes the routing table in registration order.
func (w *Workflow) Nodes() []NodeInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	infos := make([]NodeInfo, 0, len(w.order))
	for _, kind := range w.order {
		n := w.routes[kind].node
		info := NodeInfo{Event: kind, Node: n.Name()}
		if em, ok := n.(Emitter); ok {
			info.Emits = append([]string(nil), em.Emits()...)
		}
		infos = append(infos, info)
	}
	return infos
}

// Run executes the workflow from the start event. A nil state starts from
// an empty one. It returns the final state, an *Interrupt when a node
// suspended the run, or the error that stopped it.
func (w *Workflow) Run(ctx context.Context, state *types.WorkflowState) (*types.WorkflowState, error) {
	return w.run(ctx, state, nil)
}

// Resume continues a suspended run, handing feedback to the node that
// interrupted it.
func (w *Workflow) Resume(ctx context.Context, feedback interface{}) (*types.WorkflowState, error) {
	return w.resume(ctx, feedback, nil)
}

func (w *Workflow) run(ctx context.Context, state *types.WorkflowState, sink func(types.Event)) (*types.WorkflowState, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	// a fresh run would overwrite or delete the snapshot of a suspended one
	if _, err := w.storage.Load(ctx, w.runID); err == nil {
		return nil, fmt.Errorf("%w: run %s", ErrRunSuspended, w.runID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, w.fail(ctx, "", fmt.Errorf("failed to check snapshot for run %s: %w", w.runID, err))
	}

	if state == nil {
		state = types.NewWorkflowState(nil)
	}
	w.logger.Debug("workflow started")
	w.publish(ctx, events.WorkflowStart, "", map[string]interface{}{"resuming": false})
	return w.execute(ctx, state, types.StartEvent{}, nil, sink)
}

func (w *Workflow) resume(ctx context.Context, feedback interface{}, sink func(types.Event)) (*types.WorkflowState, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if !w.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer w.running.Store(false)

	snap, err := w.storage.Load(ctx, w.runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: run %s: %w", ErrNothingToResume, w.runID, err)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for run %s: %w", w.runID, err)
	}

	ev, err := w.decodeEvent(snap.Event)
	if err != nil {
		return nil, err
	}
	r, ok := w.route(ev.Kind())
	if !ok {
		return nil, &RoutingError{Kind: ev.Kind()}
	}
	if r.node.Name() != snap.Node {
		return nil, fmt.Errorf("%w: snapshot has %s, %q routes to %s",
			ErrNodeMismatch, snap.Node, ev.Kind(), r.node.Name())
	}

	state := snap.State
	if state == nil {
		state = types.NewWorkflowState(nil)
	}
	w.logger.Debug("workflow resumed", log.Node(snap.Node))
	w.publish(ctx, events.WorkflowStart, snap.Node, map[string]interface{}{"resuming": true})
	return w.execute(ctx, state, ev, map[string]interface{}{snap.Node: feedback}, sink)
}

// execute is the routing loop. feedback is non-nil only when resuming, and
// is offered to the first node executed.
func (w *Workflow) execute(ctx context.Context, state *types.WorkflowState, current types.Event, feedback map[string]interface{}, sink func(types.Event)) (*types.WorkflowState, error) {
	w.mu.RLock()
	routes := w.routes
	w.mu.RUnlock()

	resuming := feedback != nil
	for {
		if err := ctx.Err(); err != nil {
			return nil, w.fail(ctx, "", err)
		}

		r, ok := routes[current.Kind()]
		if !ok {
			return nil, w.fail(ctx, "", &RoutingError{Kind: current.Kind()})
		}
		node := r.node
		name := node.Name()

		wctx := &Context{
			RunID:   w.runID,
			Node:    name,
			Storage: w.storage,
			State:   state,
			Event:   current,
			emit:    sink,
		}
		if resuming {
			wctx.Resuming = true
			wctx.Feedback = feedback
			resuming = false
		}
		node.SetContext(wctx)

		w.logger.Debug("node started", log.Node(name), log.Event(current.Kind()))
		w.publish(ctx, events.WorkflowNodeStart, name, map[string]interface{}{"event": current.Kind()})

		next, err := node.Run(ctx, current, state)
		wctx.detach()
		if err != nil {
			if intr, ok := AsInterrupt(err); ok {
				return nil, w.suspend(ctx, name, current, state, intr)
			}
			return nil, w.fail(ctx, name, err)
		}
		if next == nil {
			return nil, w.fail(ctx, name, fmt.Errorf("%w: node %s", ErrNilEvent, name))
		}

		w.logger.Debug("node finished", log.Node(name), log.Event(next.Kind()))
		w.publish(ctx, events.WorkflowNodeEnd, name, map[string]interface{}{"event": next.Kind()})
		if sink != nil {
			sink(next)
		}

		if types.IsStop(next) {
			storeResult(state, next)
			break
		}
		if _, ok := routes[next.Kind()]; !ok {
			return nil, w.fail(ctx, name, &RoutingError{Kind: next.Kind(), From: name})
		}
		current = next
	}

	// the run is complete even if the caller stopped listening at Stop
	if err := w.storage.Delete(context.WithoutCancel(ctx), w.runID); err != nil {
		return nil, w.fail(ctx, "", fmt.Errorf("failed to delete snapshot for run %s: %w", w.runID, err))
	}
	w.logger.Debug("workflow completed")
	w.publish(ctx, events.WorkflowEnd, "", nil)
	return state, nil
}

// suspend persists the interrupt before handing it back to the caller. If
// the snapshot cannot be saved the caller gets the persistence error, since
// the run would not be resumable.
func (w *Workflow) suspend(ctx context.Context, node string, current types.Event, state *types.WorkflowState, intr *Interrupt) error {
	intr.RunID = w.runID
	if intr.Node == "" {
		intr.Node = node
	}
	if intr.State == nil {
		intr.State = state
	}
	if intr.Event == nil {
		intr.Event = current
	}

	snap, err := types.NewSnapshot(w.runID, intr.Node, intr.Request, intr.State, intr.Event)
	if err != nil {
		return w.fail(ctx, node, fmt.Errorf("failed to encode interrupt for run %s: %w", w.runID, err))
	}
	if err := w.storage.Save(context.WithoutCancel(ctx), w.runID, snap); err != nil {
		return w.fail(ctx, node, fmt.Errorf("failed to persist interrupt for run %s: %w", w.runID, err))
	}

	data := map[string]interface{}{"event": intr.Event.Kind()}
	if intr.Request != nil {
		data["message"] = intr.Request.Message
	}
	w.logger.Info("workflow interrupted", log.Node(intr.Node))
	w.publish(ctx, events.WorkflowInterrupt, intr.Node, data)
	return intr
}

func (w *Workflow) fail(ctx context.Context, node string, err error) error {
	attrs := []any{log.Error(err)}
	if node != "" {
		attrs = append(attrs, log.Node(node))
	}
	w.logger.Error("workflow failed", attrs...)
	w.publish(ctx, events.Error, node, map[string]interface{}{"error": err.Error()})
	return err
}

// publish notifies observers, by default without blocking the run.
// Notifications are sent even when ctx is already canceled; dropped ones
// are only logged.
func (w *Workflow) publish(ctx context.Context, eventType, node string, data map[string]interface{}) {
	w.mu.RLock()
	bus, syncMode := w.eventBus, w.syncBus
	w.mu.RUnlock()
	if bus == nil || !bus.HasSubscribers(eventType) {
		return
	}

	ev := events.Event{
		Type:  eventType,
		RunID: w.runID,
		Node:  node,
		Data:  data,
		Time:  time.Now(),
	}
	if syncMode {
		for _, err := range bus.PublishSync(context.WithoutCancel(ctx), ev) {
			if !errors.Is(err, events.ErrNoHandler) {
				w.logger.Warn("observer failed", slog.String("type", eventType), log.Error(err))
			}
		}
		return
	}
	if err := bus.Publish(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, events.ErrNoHandler) {
		w.logger.Warn("notification dropped", slog.String("type", eventType), log.Error(err))
	}
}

func (w *Workflow) route(kind string) (route, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.routes[kind]
	return r, ok
}

func storeResult(state *types.WorkflowState, ev types.Event) {
	var result interface{}
	switch stop := ev.(type) {
	case types.StopEvent:
		result = stop.Result
	case *types.StopEvent:
		result = stop.Result
	}
	if result != nil {
		state.Set(types.ResultKey, result)
	}
}
