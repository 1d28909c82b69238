package sync

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/oakfieldlabs/advisorai/internal/store"
)

// followUpDescriptionLimit caps how much of a record body is quoted
// into a task description.
const followUpDescriptionLimit = 280

// matchesInstruction reports whether a record trips one of the
// instruction's trigger keywords. An instruction with no triggers
// never fires from sync; it only documents intent.
func matchesInstruction(inst store.Instruction, rec store.Interaction) bool {
	if !inst.Active || len(inst.Triggers) == 0 {
		return false
	}
	text := strings.ToLower(rec.Subject + " " + rec.Body)
	for _, trigger := range inst.Triggers {
		trigger = strings.ToLower(strings.TrimSpace(trigger))
		if trigger != "" && strings.Contains(text, trigger) {
			return true
		}
	}
	return false
}

// createFollowUps turns instruction matches on a freshly synced
// record into pending tasks. The store dedupes per (instruction,
// interaction), so re-syncing the same record is a no-op.
func (s *Syncer) createFollowUps(rec store.Interaction) error {
	for _, inst := range s.instructions {
		if !matchesInstruction(inst, rec) {
			continue
		}
		created, err := s.store.CreateTaskOnce(store.Task{
			ID:            uuid.NewString(),
			InstructionID: inst.ID,
			InteractionID: rec.ID,
			ContactID:     rec.ContactID,
			Title:         inst.Name,
			Description:   followUpDescription(inst, rec),
		})
		if err != nil {
			return fmt.Errorf("create follow-up for %s: %w", inst.ID, err)
		}
		if created {
			log.Printf("[sync] instruction %q matched %s, follow-up created", inst.Name, rec.ID)
		}
	}
	return nil
}

func followUpDescription(inst store.Instruction, rec store.Interaction) string {
	excerpt := strings.TrimSpace(rec.Subject)
	if excerpt == "" {
		excerpt = strings.TrimSpace(rec.Body)
	}
	if len(excerpt) > followUpDescriptionLimit {
		excerpt = excerpt[:followUpDescriptionLimit]
	}
	return fmt.Sprintf("%s\nTriggered by %s record %s: %s", inst.Text, rec.Source, rec.SourceRef, excerpt)
}
