package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/whamworks/resourced/pkg/events"
	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/session"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// This file implements the manager's public entry points. Every method here
// acquires m.mu for its entire body, including the persistence work it does
// through withBatch; this is the single-global-mutex contract.

// SessionOpen implements session_open: if a session is already open for
// scannableID it is discarded with a warning (not an error; the plugin
// runner decides whether that matters); a fresh session is created, the
// initial resources are persisted, anything previously reported by this
// scannable but absent from this report is culled, Volume derivation runs,
// and any VirtualMachine resources in the batch are bound to a host.
func (m *Manager) SessionOpen(ctx context.Context, scannableID string, initial []registry.PluginResource, updatePeriod time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[scannableID]; exists {
		m.logger.Warn().Str("scannable_id", scannableID).Msg("session_open: discarding existing session")
	}
	sess := session.New(scannableID, updatePeriod)
	m.sessions[scannableID] = sess

	err := m.withBatch(func(b *storage.Batch) error {
		if _, err := m.persistNewResources(b, sess, initial); err != nil {
			return err
		}
		localIDs := make([]string, 0, len(initial))
		for _, r := range initial {
			localIDs = append(localIDs, r.LocalID)
		}
		if err := m.cullLostResources(b, sess, localIDs); err != nil {
			return err
		}
		if err := m.persistLunUpdates(b, sess); err != nil {
			return err
		}
		return m.persistCreatedHosts(ctx, b, sess, initial)
	})
	if err != nil {
		delete(m.sessions, scannableID)
		return err
	}
	m.publish(events.EventSessionOpened, scannableID, "")
	return nil
}

// SessionClose implements session_close: drops the session with no DB
// work.
func (m *Manager) SessionClose(scannableID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[scannableID]; !ok {
		return nil
	}
	delete(m.sessions, scannableID)
	m.publish(events.EventSessionClosed, scannableID, "")
	return nil
}

// SessionAddResources implements session_add_resources: persist, LUN
// update, host creation, same as the tail of session_open.
func (m *Manager) SessionAddResources(ctx context.Context, scannableID string, resources []registry.PluginResource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		m.logger.Warn().Str("scannable_id", scannableID).Msg("session_add_resources: no open session")
		return ErrDeletedSession
	}
	sess.Touch()

	return m.withBatch(func(b *storage.Batch) error {
		if _, err := m.persistNewResources(b, sess, resources); err != nil {
			return err
		}
		if err := m.persistLunUpdates(b, sess); err != nil {
			return err
		}
		return m.persistCreatedHosts(ctx, b, sess, resources)
	})
}

// SessionRemoveResources implements session_remove_resources: for each
// local handle, resolve its global id and cascade-delete the record, then
// rerun LUN update so any Volume/VolumeNode orphaned by the removal is
// cleaned up in the same transaction.
func (m *Manager) SessionRemoveResources(scannableID string, localIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		m.logger.Warn().Str("scannable_id", scannableID).Msg("session_remove_resources: no open session")
		return ErrDeletedSession
	}
	sess.Touch()

	return m.withBatch(func(b *storage.Batch) error {
		for _, local := range localIDs {
			globalID, ok := sess.Global(local)
			if !ok {
				return fmt.Errorf("manager: remove resource %q: %w", local, ErrUnknownLocalHandle)
			}
			if err := m.deleteResource(b, globalID); err != nil {
				return err
			}
		}
		return m.persistLunUpdates(b, sess)
	})
}

// SessionResourceAddParent implements session_resource_add_parent: updates
// EdgeIndex and the persisted parent edge together.
func (m *Manager) SessionResourceAddParent(scannableID, local, localParent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		return ErrDeletedSession
	}
	sess.Touch()
	childID, ok := sess.Global(local)
	if !ok {
		return fmt.Errorf("manager: add parent: resource %q: %w", local, ErrUnknownLocalHandle)
	}
	parentID, ok := sess.Global(localParent)
	if !ok {
		return fmt.Errorf("manager: add parent: parent %q: %w", localParent, ErrUnknownLocalHandle)
	}

	return m.withBatch(func(b *storage.Batch) error {
		return m.addParentEdge(b, childID, parentID)
	})
}

// SessionResourceRemoveParent implements session_resource_remove_parent, the
// mirror of SessionResourceAddParent.
func (m *Manager) SessionResourceRemoveParent(scannableID, local, localParent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		return ErrDeletedSession
	}
	sess.Touch()
	childID, ok := sess.Global(local)
	if !ok {
		return fmt.Errorf("manager: remove parent: resource %q: %w", local, ErrUnknownLocalHandle)
	}
	parentID, ok := sess.Global(localParent)
	if !ok {
		return fmt.Errorf("manager: remove parent: parent %q: %w", localParent, ErrUnknownLocalHandle)
	}

	return m.withBatch(func(b *storage.Batch) error {
		return m.removeParentEdge(b, childID, parentID)
	})
}

// SessionUpdateResource implements session_update_resource by applying the
// updates through the same upsertAttributes helper persistNewResources
// uses, consistent with how every other attribute mutation in this package
// is handled.
func (m *Manager) SessionUpdateResource(scannableID, local string, attrs map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		return ErrDeletedSession
	}
	sess.Touch()
	globalID, ok := sess.Global(local)
	if !ok {
		return fmt.Errorf("manager: update resource %q: %w", local, ErrUnknownLocalHandle)
	}
	classID, ok := m.classes.Get(globalID)
	if !ok {
		return fmt.Errorf("manager: update resource %q: %w", globalID, ErrUnknownResource)
	}
	desc, ok := m.classDescriptor(classID)
	if !ok {
		return fmt.Errorf("manager: update resource %q: unknown class %q: %w", globalID, classID, ErrUnknownResource)
	}

	return m.withBatch(func(b *storage.Batch) error {
		m.labelCache.Remove(globalID)
		return m.upsertAttributes(b, globalID, desc, attrs, sess)
	})
}

// SessionGetStats implements session_get_stats: resolves local to global id
// and delegates to sessionGetStats for the declaration/drift/forwarding
// logic.
func (m *Manager) SessionGetStats(scannableID, local string, updates []StatUpdate) ([]*types.StorageResourceStatistic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		return nil, ErrDeletedSession
	}
	sess.Touch()
	globalID, ok := sess.Global(local)
	if !ok {
		return nil, fmt.Errorf("manager: get stats: resource %q: %w", local, ErrUnknownLocalHandle)
	}

	var out []*types.StorageResourceStatistic
	err := m.withBatch(func(b *storage.Batch) error {
		var err error
		out, err = m.sessionGetStats(b, globalID, updates)
		return err
	})
	return out, err
}

// SessionNotifyAlert implements session_notify_alert: resolves local to
// global id, then raises or clears the named alert. raised reports
// whether this call actually transitioned the alert from inactive to
// active, letting callers distinguish a fresh raise from a redundant one.
func (m *Manager) SessionNotifyAlert(scannableID, local string, active bool, alertClass, attribute string) (raised bool, alertID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[scannableID]
	if !ok {
		return false, "", ErrDeletedSession
	}
	sess.Touch()
	globalID, ok := sess.Global(local)
	if !ok {
		return false, "", fmt.Errorf("manager: notify alert: resource %q: %w", local, ErrUnknownLocalHandle)
	}

	err = m.withBatch(func(b *storage.Batch) error {
		var err error
		raised, alertID, err = m.notifyAlert(b, globalID, alertClass, attribute, active)
		return err
	})
	if err != nil {
		return false, "", err
	}
	if raised {
		m.publish(events.EventAlertRaised, globalID, alertClass)
	} else if !active {
		m.publish(events.EventAlertCleared, globalID, alertClass)
	}
	return raised, alertID, nil
}

// GlobalRemoveResource implements global_remove_resource: an out-of-session
// delete. A non-existent id is logged and returns without error, not a
// failure the caller must handle.
func (m *Manager) GlobalRemoveResource(resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.GetRecord(resourceID); err != nil {
		m.logger.Warn().Str("resource_id", resourceID).Msg("global_remove_resource: unknown resource id")
		return nil
	}

	if err := m.withBatch(func(b *storage.Batch) error {
		return m.deleteResource(b, resourceID)
	}); err != nil {
		return err
	}
	m.publish(events.EventResourceRemoved, resourceID, "")
	return nil
}
