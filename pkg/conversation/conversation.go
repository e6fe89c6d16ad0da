// Package conversation implements the ConversationStore:
// an append-only, per-(tenant, agent, conversation) interaction log with
// paged reads, single-message edit/delete, and rename, backed by a SQL
// database behind one interface.
package conversation

import (
	"context"
	"time"
)

// Interaction is one entry in a conversation's history.
type Interaction struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Error     bool      `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the ConversationStore contract, scoped by the
// (tenant, agent, conversation) tuple passed to every method.
type Store interface {
	// Append adds one interaction, defaulting ts to now if zero, and
	// returns its monotonically increasing id. isError marks a failed
	// tool invocation's entry.
	Append(ctx context.Context, tenant, agent, conversation, role, message string, isError bool, ts time.Time) (int64, error)

	// List returns a page of interactions and the total count. newestFirst
	// selects ordering; limit <= 0 means no limit.
	List(ctx context.Context, tenant, agent, conversation string, limit, page int, newestFirst bool) ([]Interaction, int, error)

	// Export returns every interaction for a conversation, oldest first.
	Export(ctx context.Context, tenant, agent, conversation string) ([]Interaction, error)

	// DeleteMessage removes a single interaction by id.
	DeleteMessage(ctx context.Context, tenant, agent, conversation string, id int64) error

	// UpdateMessage replaces the text of an existing interaction, keeping
	// its id and timestamp.
	UpdateMessage(ctx context.Context, tenant, agent, conversation string, id int64, newText string) error

	// DeleteConversation removes every interaction for a conversation.
	DeleteConversation(ctx context.Context, tenant, agent, conversation string) error

	// Rename changes a conversation's name, enforcing uniqueness within
	// (tenant, agent).
	Rename(ctx context.Context, tenant, agent, conversation, newName string) error

	// Close releases the underlying database handle.
	Close() error
}
