// Package instance ties together a working store, an optional backup store,
// a multicast notifier and a callback dispatcher into the single handle
// spec.md §3.3 calls an "interface instance" — the unit every API in this
// module (Go accessors, the C-ABI façade, the RPC server) operates on.
//
// It is grounded on the teacher's ModuleManager
// (internal/core/modules.go), generalized from a DB-backed hook table keyed
// by event name to an in-memory table keyed by parameter ID, and wired
// directly to internal/store instead of a bespoke SQL schema.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paramhub/paramhub/internal/notify"
	"github.com/paramhub/paramhub/internal/ptype"
	"github.com/paramhub/paramhub/internal/reconcile"
	"github.com/paramhub/paramhub/internal/schema"
	"github.com/paramhub/paramhub/internal/store"
)

// State is the lifecycle of an Instance, per spec.md §4.E.
type State int

const (
	StateOpened State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Instance is the process-wide handle for one paramhub deployment. One
// process normally opens exactly one Instance; nothing here prevents more.
type Instance struct {
	mu    sync.RWMutex
	state State

	Registry *schema.Registry
	Working  *store.Store
	Backup   *store.Store // nil if opened without a backup path

	notifier   *notify.Notifier
	dispatcher *reconcile.Dispatcher
	reconciler *reconcile.Reconciler

	log *slog.Logger
}

// Options configures Open. Notify is optional; nil disables multicast
// entirely (local-only operation, e.g. for tests).
type Options struct {
	WorkingPath       string
	BackupPath        string // "" disables the backup database
	DefaultAssetsPath string // reserved: base dir blob DefaultPath is resolved against
	Notify            *notify.Config
	Logger            *slog.Logger
}

// Open constructs an Instance in state Opened: both databases are opened and,
// if the working database is empty and a backup exists with data, the
// working database is seeded from backup (spec.md §3.3 "on startup, if the
// working database is empty, load bootstrap values from the backup
// database"). Open does not start the notifier listener or the timer poll;
// call Start for that.
func Open(reg *schema.Registry, opts Options) (*Instance, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	working, err := store.Open(opts.WorkingPath, reg, log)
	if err != nil {
		return nil, fmt.Errorf("instance: open working store: %w", err)
	}

	var backup *store.Store
	if opts.BackupPath != "" {
		backup, err = store.Open(opts.BackupPath, reg, log)
		if err != nil {
			working.Close()
			return nil, fmt.Errorf("instance: open backup store: %w", err)
		}
	}

	inst := &Instance{
		state:      StateOpened,
		Registry:   reg,
		Working:    working,
		Backup:     backup,
		dispatcher: reconcile.NewDispatcher(log),
		log:        log.With("component", "instance"),
	}

	ctx := context.Background()
	if backup != nil {
		workingEmpty, err := working.Empty(ctx)
		if err != nil {
			inst.Close()
			return nil, err
		}
		backupEmpty, err := backup.Empty(ctx)
		if err != nil {
			inst.Close()
			return nil, err
		}
		if workingEmpty && !backupEmpty {
			log.Info("seeding empty working database from backup")
			if err := working.Restore(ctx, backup); err != nil {
				inst.Close()
				return nil, fmt.Errorf("instance: seed from backup: %w", err)
			}
		}
	}

	if opts.Notify != nil {
		n, err := notify.New(*opts.Notify, log)
		if err != nil {
			inst.Close()
			return nil, fmt.Errorf("instance: open notifier: %w", err)
		}
		inst.notifier = n
	}

	inst.reconciler = reconcile.NewReconciler(working, inst.dispatcher, log)

	return inst, nil
}

// Start transitions the Instance to Running: if a notifier is configured its
// listener goroutine is started and wired to the reconciler, so that
// multicast change notifications from peers immediately re-dispatch
// callbacks instead of waiting for the next timer poll.
func (inst *Instance) Start(ctx context.Context) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state != StateOpened {
		return ptype.NewError("Start", ptype.InvalidState, fmt.Errorf("instance is %s, want opened", inst.state))
	}

	if inst.notifier != nil {
		inst.notifier.Listen(ctx, func(n notify.Notification) {
			if n.Reset {
				inst.reconciler.PollGeneration(ctx)
				return
			}
			inst.reconciler.HandleHint(ctx, n.ID, n.Timestamp)
		})
	}

	inst.state = StateRunning
	return nil
}

// Close stops the timer poll and notifier listener (if running) and closes
// both databases. Close is idempotent.
func (inst *Instance) Close() error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.state == StateClosed {
		return nil
	}

	if inst.reconciler != nil {
		inst.reconciler.Stop()
	}
	if inst.notifier != nil {
		inst.notifier.Close()
	}
	if inst.Backup != nil {
		inst.Backup.Close()
	}
	if inst.Working != nil {
		inst.Working.Close()
	}

	inst.state = StateClosed
	return nil
}

// State reports the current lifecycle state.
func (inst *Instance) State() State {
	inst.mu.RLock()
	defer inst.mu.RUnlock()
	return inst.state
}

// AddCallback registers fn to run whenever parameter id's value changes,
// passing userArg through unchanged. fn runs on whichever goroutine detects
// the change: the caller of Set/Restore/FactoryReset/UpdatePoll, the
// multicast listener, or the timer poll.
// Re-registering the same (id, userArg) pair replaces the previous callback,
// per spec.md §4.E.
func (inst *Instance) AddCallback(id int, userArg any, fn reconcile.Callback) error {
	if _, err := inst.Registry.Descriptor(id); err != nil {
		return err
	}
	inst.dispatcher.Register(id, userArg, fn)
	return nil
}

// SetUpTimerPoll starts (or restarts, with a new interval) the timer-driven
// reconciliation path: every interval, the reconciler scans for rows changed
// since its last scan and for a generation bump, and re-dispatches callbacks
// for whatever it finds (spec.md §4.E set_up_timer_poll).
func (inst *Instance) SetUpTimerPoll(ctx context.Context, intervalMS int) error {
	if intervalMS <= 0 {
		return ptype.NewError("SetUpTimerPoll", ptype.InvalidState, fmt.Errorf("interval_ms must be positive, got %d", intervalMS))
	}
	inst.reconciler.StartTimer(ctx, intervalMS)
	return nil
}

// UpdatePoll runs one reconciliation pass synchronously, independent of any
// timer (spec.md §4.E update_poll — for callers that drive their own loop).
func (inst *Instance) UpdatePoll(ctx context.Context) error {
	return inst.reconciler.PollOnce(ctx)
}

// Save copies the working database's non-runtime parameters into the backup
// database. It is an error to call Save without a backup path configured.
func (inst *Instance) Save(ctx context.Context) error {
	if inst.Backup == nil {
		return ptype.NewError("Save", ptype.InvalidState, fmt.Errorf("instance has no backup database"))
	}
	return inst.Working.Save(ctx, inst.Backup)
}

// Restore copies the backup database's non-runtime parameters into the
// working database (spec.md §4.C restore, scenario S4), firing change
// callbacks and publishing a multicast notice for every parameter the backup
// supplies a row for, since each restored row is stamped anew even when its
// value is unchanged. A parameter that Restore returns to its default leaves
// no row, so it gets neither a callback nor a notice.
func (inst *Instance) Restore(ctx context.Context) error {
	if inst.Backup == nil {
		return ptype.NewError("Restore", ptype.InvalidState, fmt.Errorf("instance has no backup database"))
	}
	before := inst.reconciler.Checkpoint(ctx)
	if err := inst.Working.Restore(ctx, inst.Backup); err != nil {
		return err
	}
	if err := inst.reconciler.PollSince(ctx, before); err != nil {
		return err
	}
	inst.publishChanges(ctx, before)
	return nil
}

// FactoryReset clears the working database back to descriptor defaults,
// fires change callbacks for every parameter that has one registered,
// whether or not it was non-default (spec.md §4.C factory_reset, scenario
// S5), and broadcasts a reset notice
// so peers re-poll rather than wait for their next timer tick.
func (inst *Instance) FactoryReset(ctx context.Context) error {
	if err := inst.Working.FactoryReset(ctx); err != nil {
		return err
	}
	if err := inst.reconciler.PollGeneration(ctx); err != nil {
		return err
	}
	if inst.notifier != nil {
		inst.notifier.SendReset()
	}
	return nil
}

// Set validates and writes v for parameter id on behalf of a caller that
// already has a context (the RPC server's "write" method); it is the
// context-aware counterpart to the free set() helper the typed accessors
// use, and the two share the same dispatch-then-publish behavior.
func (inst *Instance) Set(ctx context.Context, id int, v ptype.Value) error {
	before := inst.reconciler.Checkpoint(ctx)
	prev, _ := inst.Working.Get(ctx, id)
	if err := inst.Working.Set(ctx, id, v); err != nil {
		return err
	}
	if err := inst.reconciler.PollSince(ctx, before); err != nil {
		return err
	}
	// A write back to the default leaves no row for PollSince to find, so
	// its callbacks are dispatched directly.
	if d, err := inst.Registry.Descriptor(id); err == nil && v.Equal(d.Default) && !prev.Equal(v) {
		inst.dispatcher.Dispatch(id)
	}
	inst.publishChanges(ctx, before)
	return nil
}

// publishChanges broadcasts a multicast notice for every row changed since
// "since", if a notifier is configured. Best-effort: spec.md §4.D requires
// that a send failure never fails the write that triggered it, which
// Notifier.Send already guarantees by swallowing its own errors.
func (inst *Instance) publishChanges(ctx context.Context, since int64) {
	if inst.notifier == nil {
		return
	}
	changes, err := inst.Working.ChangedSince(ctx, since)
	if err != nil {
		return
	}
	for _, c := range changes {
		inst.notifier.Send(c.ID, c.Timestamp)
	}
}

// get and set are the shared implementation behind the typed Get*/Set*
// free functions in accessors.go; they exist so schema-generated code (which only
// knows a parameter's ID and Go type) does not need its own copy of the
// dispatch-after-write logic.
func get(inst *Instance, id int) (ptype.Value, error) {
	return inst.Working.Get(context.Background(), id)
}

func set(inst *Instance, id int, v ptype.Value) error {
	return inst.Set(context.Background(), id, v)
}

func typeMismatch(op string, id int, want ptype.Kind, got ptype.Kind) error {
	return ptype.NewError(op, ptype.TypeMismatch, fmt.Errorf("parameter %d is %s, not %s", id, got, want))
}
