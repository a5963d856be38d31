package manager

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// notifyAlert implements session_notify_alert's alert half.
// raised reports whether this call actually transitioned the alert from
// inactive to active (false on a redundant raise or any clear), giving
// callers and tests an idempotency signal without parsing logs.
func (m *Manager) notifyAlert(b *storage.Batch, recordID, alertClass, attribute string, active bool) (raised bool, alertID string, err error) {
	key := alertKey{recordID, alertClass, attribute}

	if !active {
		existingID, tracked := m.activeAlerts[key]
		row, found, err := b.FindActiveAlert(recordID, alertClass, attribute)
		if err != nil {
			return false, "", fmt.Errorf("manager: find active alert: %w", err)
		}
		if !found {
			if tracked {
				delete(m.activeAlerts, key)
				return false, existingID, nil
			}
			return false, "", nil
		}
		if err := m.clearAlertRow(b, row); err != nil {
			return false, "", err
		}
		return false, row.ID, nil
	}

	if existingID, ok := m.activeAlerts[key]; ok {
		return false, existingID, nil
	}

	row, found, err := b.FindActiveAlert(recordID, alertClass, attribute)
	if err != nil {
		return false, "", fmt.Errorf("manager: find active alert: %w", err)
	}
	if !found {
		row = &types.StorageResourceAlert{
			ID:         uuid.NewString(),
			RecordID:   recordID,
			AlertClass: alertClass,
			Attribute:  attribute,
			Active:     true,
		}
		if err := b.UpsertAlert(row); err != nil {
			return false, "", fmt.Errorf("manager: upsert alert: %w", err)
		}
	}
	m.activeAlerts[key] = row.ID

	for _, descendant := range m.edges.Descendants(recordID) {
		if err := b.UpsertPropagated(&types.StorageAlertPropagated{
			ID:           uuid.NewString(),
			AlertID:      row.ID,
			DescendantID: descendant,
		}); err != nil {
			return false, "", fmt.Errorf("manager: upsert propagated alert: %w", err)
		}
	}

	return true, row.ID, nil
}

// clearAlertRow deactivates an alert row, removes its propagated rows, and
// forgets it in the in-memory active set. Shared by notifyAlert's clear
// path and cascading delete's unconditional StorageResourceOffline clear.
func (m *Manager) clearAlertRow(b *storage.Batch, row *types.StorageResourceAlert) error {
	row.Active = false
	if err := b.UpsertAlert(row); err != nil {
		return fmt.Errorf("manager: deactivate alert: %w", err)
	}
	propagated, err := b.ListPropagated(row.ID)
	if err != nil {
		return err
	}
	for _, p := range propagated {
		if err := b.DeletePropagated(p.ID); err != nil {
			return err
		}
	}
	delete(m.activeAlerts, alertKey{row.RecordID, row.AlertClass, row.Attribute})
	return nil
}
