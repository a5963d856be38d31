// Package manager implements the resource manager's core entry points:
// plugin-session lifecycle, identity and creation, Volume/VolumeNode
// derivation and affinity balancing, cascading delete, and alert
// propagation, all serialised behind a single mutex.
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/whamworks/resourced/pkg/events"
	"github.com/whamworks/resourced/pkg/graph"
	"github.com/whamworks/resourced/pkg/log"
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/session"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
)

// HostProvisioner is the one external collaborator the core keeps: the
// job scheduler's client surface, asked to create a ManagedHost by SSH
// when a VirtualMachine resource arrives with no host_id attribute set.
type HostProvisioner interface {
	CreateHostSSH(ctx context.Context, address string) (*types.ManagedHost, error)
}

// noopHostProvisioner is the default for the dev harness and tests that
// never exercise _persist_created_hosts' SSH path.
type noopHostProvisioner struct{}

func (noopHostProvisioner) CreateHostSSH(_ context.Context, address string) (*types.ManagedHost, error) {
	return nil, fmt.Errorf("manager: no host provisioner configured, cannot create host at %q", address)
}

// Options configures a new Manager.
type Options struct {
	Store           storage.Store
	Registry        *registry.Registry
	HostProvisioner HostProvisioner
	Broker          *events.Broker
	StatSink        StatSink
	LabelCacheSize  int
	Logger          *zerolog.Logger
}

type alertKey struct {
	recordID   string
	alertClass string
	attribute  string
}

// Manager holds every in-memory index and owns the single global mutex:
// every public entry point acquires mu for its entire body, including the
// persistence work it does through batch.
type Manager struct {
	mu sync.Mutex

	store       storage.Store
	reg         *registry.Registry
	provisioner HostProvisioner
	broker      *events.Broker
	stats       StatSink
	logger      zerolog.Logger

	edges       *graph.EdgeIndex
	classes     *graph.ClassIndex
	subscribers *graph.SubscriberIndex

	sessions     map[string]*session.Session
	activeAlerts map[alertKey]string // -> active alert id
	labelCache   *lru.Cache

	// batch is non-nil only for the duration of an entry point's body,
	// letting AttributesOf (the graph.AttributeSource this Manager
	// implements) see the entry point's own uncommitted writes.
	batch *storage.Batch
}

// New constructs a Manager and rebuilds its in-memory indices from durable
// state; the loads complete before the service accepts any session.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("manager: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("manager: registry is required")
	}

	provisioner := opts.HostProvisioner
	if provisioner == nil {
		provisioner = noopHostProvisioner{}
	}

	stats := opts.StatSink
	if stats == nil {
		stats = noopStatSink{}
	}

	cacheSize := opts.LabelCacheSize
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("manager: label cache: %w", err)
	}

	logger := log.WithComponent("manager")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	m := &Manager{
		store:        opts.Store,
		reg:          opts.Registry,
		provisioner:  provisioner,
		broker:       opts.Broker,
		stats:        stats,
		logger:       logger,
		sessions:     make(map[string]*session.Session),
		activeAlerts: make(map[alertKey]string),
		labelCache:   cache,
	}
	m.classes = graph.NewClassIndex(opts.Store)
	m.edges = graph.NewEdgeIndex()
	m.subscribers = graph.NewSubscriberIndex(opts.Registry, m)

	if err := m.rebuildIndices(); err != nil {
		return nil, err
	}
	return m, nil
}

// rebuildIndices populates EdgeIndex, ClassIndex, SubscriberIndex, and the
// active-alert set from durable state.
func (m *Manager) rebuildIndices() error {
	records, err := m.store.ListRecords()
	if err != nil {
		return fmt.Errorf("manager: rebuild indices: %w", err)
	}
	classOf := make(map[string]string, len(records))
	recordIDs := make([]string, 0, len(records))
	for _, rec := range records {
		classOf[rec.ID] = rec.ResourceClassID
		recordIDs = append(recordIDs, rec.ID)
	}
	m.classes.Populate(classOf)
	m.subscribers.Populate(recordIDs)

	edges, err := m.store.ListParentEdges()
	if err != nil {
		return fmt.Errorf("manager: rebuild indices: %w", err)
	}
	graphEdges := make([]graph.Edge, 0, len(edges))
	for _, e := range edges {
		graphEdges = append(graphEdges, graph.Edge{ChildID: e.ChildID, ParentID: e.ParentID})
	}
	m.edges.Populate(graphEdges)

	active, err := m.store.ListActiveAlerts()
	if err != nil {
		return fmt.Errorf("manager: rebuild indices: %w", err)
	}
	for _, a := range active {
		m.activeAlerts[alertKey{a.RecordID, a.AlertClass, a.Attribute}] = a.ID
	}

	m.logger.Info().
		Int("records", len(records)).
		Int("edges", len(edges)).
		Int("active_alerts", len(m.activeAlerts)).
		Msg("indices rebuilt from durable state")
	return nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

// --- graph.AttributeSource, backing SubscriberIndex ---

// ClassOf implements graph.AttributeSource.
func (m *Manager) ClassOf(recordID string) (string, bool) {
	return m.classes.Get(recordID)
}

// AttributesOf implements graph.AttributeSource. While an entry point's
// batch is open this reads through it, so subscription matching sees
// attributes the entry point itself just upserted; otherwise it falls back
// to a plain store read (as during the startup index rebuild).
func (m *Manager) AttributesOf(recordID string) (map[string]json.RawMessage, bool) {
	var attrs []*types.ResourceAttribute
	var err error
	if m.batch != nil {
		attrs, err = m.batch.ListAttributes(recordID)
	} else {
		attrs, err = m.store.ListAttributes(recordID)
	}
	if err != nil {
		return nil, false
	}
	out := make(map[string]json.RawMessage, len(attrs))
	for _, a := range attrs {
		if a.Kind == types.AttributeSerialized {
			out[a.Key] = a.Value
		}
	}
	return out, true
}

// withBatch opens one storage.Batch, runs fn with it installed as the
// Manager's current batch (so AttributesOf sees its pending writes), and
// Flushes on success or Discards on any error, the mechanical enforcement of
// one transaction per entry point.
func (m *Manager) withBatch(fn func(b *storage.Batch) error) error {
	b, err := m.store.OpenBatch()
	if err != nil {
		return fmt.Errorf("manager: open batch: %w", err)
	}
	m.batch = b
	defer func() { m.batch = nil }()

	if err := fn(b); err != nil {
		b.Discard()
		return err
	}
	timer := metrics.NewTimer()
	err = b.Flush()
	timer.ObserveDuration(metrics.BatchFlushDuration)
	return err
}

func (m *Manager) classDescriptor(classID string) (*registry.ClassDescriptor, bool) {
	return m.reg.Get(classID)
}

// publish emits an event on the configured Broker, if any. Called while
// m.mu is held, so it must never block; events.Broker.Publish only ever
// hands off to a buffered channel.
func (m *Manager) publish(eventType events.EventType, recordID, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		RecordID: recordID,
		Message:  message,
	})
}
