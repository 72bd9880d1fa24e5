package kafka

import (
	"fmt"

	"github.com/bngesp/MultiCoder/internal/domain"
)

// Topics is the explicit role→topic mapping handed to the coordinator and
// agents at construction. There is no process-wide registry: every service
// gets its own copy from config.
type Topics struct {
	// Tasks maps each role to its inbound task topic.
	Tasks map[domain.Role]string
	// Replies is the shared reply topic; envelopes carry the role.
	Replies string
	// Notify receives one terminal notification per request.
	Notify string
}

// DefaultTopics returns the standard topic layout.
func DefaultTopics() Topics {
	tasks := make(map[domain.Role]string, len(domain.Roles()))
	for _, role := range domain.Roles() {
		tasks[role] = "tasks." + string(role)
	}
	return Topics{
		Tasks:   tasks,
		Replies: "tasks.replies",
		Notify:  "multicoder.notify",
	}
}

// Task returns the inbound topic for a role.
func (t Topics) Task(role domain.Role) (string, error) {
	topic, ok := t.Tasks[role]
	if !ok || topic == "" {
		return "", &domain.UnknownRoleError{Role: role}
	}
	return topic, nil
}

// Validate checks the mapping is exhaustive over the role enum.
func (t Topics) Validate() error {
	for _, role := range domain.Roles() {
		if t.Tasks[role] == "" {
			return fmt.Errorf("topic mapping missing role %q", role)
		}
	}
	if t.Replies == "" {
		return fmt.Errorf("topic mapping missing reply topic")
	}
	return nil
}
