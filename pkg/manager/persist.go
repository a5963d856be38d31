package manager

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/whamworks/resourced/pkg/events"
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/session"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// persistNewResources orders the batch so a referenced resource is
// persisted before anything referencing it, upserts each by
// (class, id_str, scope), upserts its attributes, then wires subscription
// and declared-parent edges. Returns the global ids of every resource newly
// created in this call.
func (m *Manager) persistNewResources(b *storage.Batch, sess *session.Session, resources []registry.PluginResource) ([]string, error) {
	ordered, err := orderByReferences(resources)
	if err != nil {
		return nil, err
	}

	var created []string
	for _, res := range ordered {
		if res.HandleGlobal {
			continue
		}
		if _, ok := sess.Global(res.LocalID); ok {
			continue // already mapped earlier in this same batch or a prior call
		}

		desc, ok := m.classDescriptor(res.ClassID)
		if !ok {
			return nil, fmt.Errorf("manager: unknown resource class %q: %w", res.ClassID, ErrUnknownLocalHandle)
		}

		idValues, err := resolveIDFields(desc, res.Attributes, sess)
		if err != nil {
			return nil, err
		}
		idStr, err := registry.IDString(desc, idValues)
		if err != nil {
			return nil, err
		}

		scopeID := ""
		if desc.Scoped {
			scopeID = scannableScope(sess)
		}

		rec, found, err := b.FindRecord(desc.ID, idStr, scopeID)
		if err != nil {
			return nil, fmt.Errorf("manager: find record: %w", err)
		}

		isNew := !found
		if found {
			if desc.Scoped {
				// scoped identity: nothing else to reconcile, record is owned solely
				// by this scannable.
			} else if !rec.ReportedBy[sess.ScannableID] {
				rec.ReportedBy[sess.ScannableID] = true
				if err := b.UpsertRecord(rec); err != nil {
					return nil, err
				}
			}
		} else {
			rec = &types.StorageResourceRecord{
				ID:               uuid.NewString(),
				ResourceClassID:  desc.ID,
				StorageIDStr:     idStr,
				StorageIDScopeID: scopeID,
				ReportedBy:       map[string]bool{sess.ScannableID: true},
			}
			if err := b.UpsertRecord(rec); err != nil {
				return nil, err
			}
			if err := b.InsertLearnEvent(&types.LearnEvent{ID: uuid.NewString(), RecordID: rec.ID}); err != nil {
				return nil, err
			}
			m.classes.AddRecord(rec.ID, rec.ResourceClassID)
			created = append(created, rec.ID)
		}

		sess.Bind(res.LocalID, rec.ID)
		m.labelCache.Remove(rec.ID)

		if err := m.upsertAttributes(b, rec.ID, desc, res.Attributes, sess); err != nil {
			return nil, err
		}

		if isNew {
			m.subscribers.AddResource(rec.ID)
			for _, subscriberID := range m.subscribers.WhatSubscribes(rec.ID) {
				if err := m.addParentEdge(b, subscriberID, rec.ID); err != nil {
					return nil, err
				}
			}
			for _, providerID := range m.subscribers.WhatProvides(rec.ID) {
				if err := m.addParentEdge(b, rec.ID, providerID); err != nil {
					return nil, err
				}
			}
			// A drive linked in above an existing drive changes the
			// downstream drive's ancestor set, and with it the label its
			// Volume should carry.
			if desc.IsLogicalDrive {
				if err := m.relabelDownstreamVolumes(b, rec.ID); err != nil {
					return nil, err
				}
			}
		}
	}

	// Declared parents, resolved after every resource in the batch has a
	// global id so forward references within the batch work. A parent handle
	// is a protocol error only when it is absent from the entire batch; a
	// handle_global parent's handle already is its global id.
	globalHandles := make(map[string]bool)
	for _, res := range ordered {
		if res.HandleGlobal {
			globalHandles[res.LocalID] = true
		}
	}
	for _, res := range ordered {
		childID, ok := sess.Global(res.LocalID)
		if !ok {
			continue // handle_global resource, not owned by this session's map
		}
		for _, parentLocal := range res.Parents {
			parentID, ok := sess.Global(parentLocal)
			if !ok {
				if !globalHandles[parentLocal] {
					return nil, fmt.Errorf("manager: resource %q declares unknown parent %q: %w", res.LocalID, parentLocal, ErrUnknownLocalHandle)
				}
				parentID = parentLocal
			}
			if err := m.addParentEdge(b, childID, parentID); err != nil {
				return nil, err
			}
		}
	}

	return created, nil
}

// scannableScope resolves the stable scope key used for every record scoped
// to this session's scannable: the scannable's own persisted record id, once
// bound. Cascading delete is handed that same record id as its target and
// looks scoped children up by it directly (delete.go), so this must return
// the identical value persistNewResources used when it created them. Falls
// back to the raw scannable_id for the one resource in a batch whose own
// record isn't bound yet: the scannable itself, always reported first by
// convention.
func scannableScope(sess *session.Session) string {
	if id, ok := sess.Global(sess.ScannableID); ok {
		return id
	}
	return sess.ScannableID
}

// addParentEdge updates EdgeIndex and the persisted parent_edges table
// together, keeping the testable invariant "EdgeIndex edges equal the set
// of persisted parent edges at rest."
func (m *Manager) addParentEdge(b *storage.Batch, child, parent string) error {
	m.edges.AddParent(child, parent)
	return b.UpsertParentEdge(&types.ParentEdge{ChildID: child, ParentID: parent})
}

func (m *Manager) removeParentEdge(b *storage.Batch, child, parent string) error {
	m.edges.RemoveParent(child, parent)
	return b.DeleteParentEdge(child, parent)
}

// upsertAttributes updates existing attribute rows and inserts new ones,
// translating ResourceReference values declared local-to-this-session
// through the session map (references declared global pass through as-is).
func (m *Manager) upsertAttributes(b *storage.Batch, recordID string, desc *registry.ClassDescriptor, attrs map[string]json.RawMessage, sess *session.Session) error {
	refs := referenceFields(desc)
	for key, raw := range attrs {
		attr := &types.ResourceAttribute{RecordID: recordID, Key: key}
		if refs[key] {
			localRef, err := decodeLocalID(raw)
			if err != nil {
				return fmt.Errorf("manager: decode reference attribute %q: %w", key, err)
			}
			globalRef, ok := sess.Global(localRef)
			if !ok {
				globalRef = localRef // already a global id (handle_global resource)
			}
			attr.Kind = types.AttributeReference
			attr.ValueID = globalRef
		} else {
			attr.Kind = types.AttributeSerialized
			attr.Value = raw
		}
		if err := b.UpsertAttribute(attr); err != nil {
			return fmt.Errorf("manager: upsert attribute %q: %w", key, err)
		}
	}
	return nil
}

// referenceFields reports which of desc's declared attributes are
// ResourceReference-typed: only desc.ReferenceAttributes, the class's
// explicit declaration. A field that happens to also be part of the id
// tuple (e.g. "host" identifies itself by its host_id reference) must list
// itself in both IDFields and ReferenceAttributes; being an id-tuple
// field does not by itself imply reference typing, since most id fields
// (a device path, a SCSI serial) are plain values.
func referenceFields(desc *registry.ClassDescriptor) map[string]bool {
	out := make(map[string]bool, len(desc.ReferenceAttributes))
	for _, f := range desc.ReferenceAttributes {
		out[f] = true
	}
	return out
}

func decodeLocalID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

// resolveIDFields builds the id-tuple value map used by registry.IDString,
// substituting an embedded resource-reference with its global id. Only
// fields the class declares in ReferenceAttributes are eligible: a plain
// id field (a device path, a VM name) passes through literally even when
// its value happens to collide with some other resource's local handle.
func resolveIDFields(desc *registry.ClassDescriptor, attrs map[string]json.RawMessage, sess *session.Session) (map[string]json.RawMessage, error) {
	refs := referenceFields(desc)
	out := make(map[string]json.RawMessage, len(desc.IDFields))
	for _, field := range desc.IDFields {
		raw, ok := attrs[field]
		if !ok {
			return nil, fmt.Errorf("manager: resource missing declared id field %q", field)
		}
		if refs[field] {
			localRef, err := decodeLocalID(raw)
			if err == nil {
				if globalRef, ok := sess.Global(localRef); ok {
					encoded, err := json.Marshal(globalRef)
					if err != nil {
						return nil, err
					}
					out[field] = encoded
					continue
				}
			}
		}
		out[field] = raw
	}
	return out, nil
}

// orderByReferences topologically sorts resources so that any resource
// whose local id appears as a string value of any attribute of another
// resource in the batch is ordered first.
// Resources outside the batch (already-bound local ids,
// or handle_global) are left wherever Kahn's algorithm places them; they
// are skipped by the caller regardless.
func orderByReferences(resources []registry.PluginResource) ([]registry.PluginResource, error) {
	byLocal := make(map[string]registry.PluginResource, len(resources))
	for _, r := range resources {
		byLocal[r.LocalID] = r
	}

	indegree := make(map[string]int, len(resources))
	dependents := make(map[string][]string)
	for _, r := range resources {
		if _, ok := indegree[r.LocalID]; !ok {
			indegree[r.LocalID] = 0
		}
		for _, raw := range r.Attributes {
			ref, err := decodeLocalID(raw)
			if err != nil {
				continue
			}
			if _, isLocal := byLocal[ref]; isLocal {
				indegree[r.LocalID]++
				dependents[ref] = append(dependents[ref], r.LocalID)
			}
		}
	}

	var queue []string
	for _, r := range resources {
		if indegree[r.LocalID] == 0 {
			queue = append(queue, r.LocalID)
		}
	}

	var out []registry.PluginResource
	seen := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, byLocal[id])
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Any resource not reached (a reference cycle) is appended as-is rather
	// than erroring: the per-resource lookups that follow will simply treat
	// the unresolved reference as an already-global id, tolerating
	// out-of-order plugin reports.
	for _, r := range resources {
		if !seen[r.LocalID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// persistCreatedHosts binds every VirtualMachine resource in the batch to a
// ManagedHost: either an address match against the host fleet, or, failing
// that, the injected HostProvisioner.
func (m *Manager) persistCreatedHosts(ctx context.Context, b *storage.Batch, sess *session.Session, resources []registry.PluginResource) error {
	hosts, err := b.ListManagedHosts()
	if err != nil {
		return err
	}

	for _, res := range resources {
		desc, ok := m.classDescriptor(res.ClassID)
		if !ok || !desc.IsVirtualMachine {
			continue
		}
		if _, set := res.Attributes["host_id"]; set {
			continue
		}
		addrRaw, ok := res.Attributes["address"]
		if !ok {
			continue
		}
		var address string
		if err := json.Unmarshal(addrRaw, &address); err != nil {
			return fmt.Errorf("manager: virtual machine address: %w", err)
		}

		var host *types.ManagedHost
		for _, h := range hosts {
			if h.FQDN == address {
				host = h
				break
			}
		}
		if host == nil {
			host, err = m.provisioner.CreateHostSSH(ctx, address)
			if err != nil {
				return fmt.Errorf("manager: create host by ssh: %w", err)
			}
			hosts = append(hosts, host)
		}

		globalID, ok := sess.Global(res.LocalID)
		if !ok {
			continue
		}
		if err := b.UpsertAttribute(&types.ResourceAttribute{RecordID: globalID, Key: "host_id", Kind: types.AttributeReference, ValueID: host.ID}); err != nil {
			return err
		}
	}
	return nil
}

// cullLostResources deletes scoped records the scannable no longer reports
// outright; global records lose this scannable from reported_by and are
// deleted once reported_by becomes empty.
func (m *Manager) cullLostResources(b *storage.Batch, sess *session.Session, reportedLocal []string) error {
	reportedGlobal := make(map[string]bool, len(reportedLocal))
	for _, local := range reportedLocal {
		if global, ok := sess.Global(local); ok {
			reportedGlobal[global] = true
		}
	}

	scoped, err := b.ListRecordsByScope(scannableScope(sess))
	if err != nil {
		return err
	}
	for _, rec := range scoped {
		if reportedGlobal[rec.ID] {
			continue
		}
		if err := m.deleteResource(b, rec.ID); err != nil {
			return err
		}
		m.publish(events.EventResourceCulled, rec.ID, "")
		metrics.CulledResourcesTotal.WithLabelValues("scoped").Inc()
	}

	all, err := b.ListAllRecords()
	if err != nil {
		return err
	}
	for _, rec := range all {
		if rec.StorageIDScopeID != "" || !rec.ReportedBy[sess.ScannableID] {
			continue
		}
		if reportedGlobal[rec.ID] {
			continue
		}
		delete(rec.ReportedBy, sess.ScannableID)
		if len(rec.ReportedBy) == 0 {
			if err := m.deleteResource(b, rec.ID); err != nil {
				return err
			}
			m.publish(events.EventResourceCulled, rec.ID, "")
			metrics.CulledResourcesTotal.WithLabelValues("global").Inc()
			continue
		}
		if err := b.UpsertRecord(rec); err != nil {
			return err
		}
	}
	return nil
}
