package websocket

import (
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
)

// Sync forwards reminder transitions to connected devices. It satisfies the
// lifecycle controller's Events interface.
type Sync struct {
	hub *Hub
}

func NewSync(hub *Hub) *Sync {
	return &Sync{hub: hub}
}

// ReminderChanged broadcasts one committed transition. Family reminders go to
// every device in the family; personal reminders only to the owner's devices.
func (s *Sync) ReminderChanged(action string, r *model.Reminder) {
	msg := NewMessage("reminder", action, r.ID, map[string]any{
		"title":    r.Title,
		"due_date": r.DueDate.String(),
		"state":    r.State,
		"owner_id": r.OwnerID,
		"version":  r.Version,
	})
	if r.FamilyID != "" {
		s.hub.BroadcastFamily(r.FamilyID, msg)
		return
	}
	s.hub.BroadcastUser(r.OwnerID, msg)
}
