package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectSync = "ans.sync"

	// SubjectSyncAll matches sync events of every priority.
	SubjectSyncAll = "ans.sync.>"
)

// SubjectSyncPriority is where sync events of the given priority are published.
func SubjectSyncPriority(priority string) string {
	return fmt.Sprintf("%s.%s", SubjectSync, priority)
}
