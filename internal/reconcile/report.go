package reconcile

import (
	"fmt"
	"strings"
)

// Conflict is one resolved conflict: informational, never an error.
type Conflict struct {
	EntityType string `json:"entityType"`
	Ident      string `json:"ident"`
	Attr       string `json:"attr,omitempty"`
	Reason     string `json:"reason"`
}

func (c Conflict) String() string {
	if c.Attr != "" {
		return fmt.Sprintf("%s %s (%s): %s", c.EntityType, c.Ident, c.Attr, c.Reason)
	}
	return fmt.Sprintf("%s %s: %s", c.EntityType, c.Ident, c.Reason)
}

// Report summarizes one reconciliation pass.
type Report struct {
	// TypesProcessed lists entity types whose batches were committed,
	// in processing order.
	TypesProcessed []string `json:"typesProcessed"`

	Deleted  int `json:"deleted"`
	Upserted int `json:"upserted"`

	// Skipped counts folded records dropped without a store call:
	// deletes of records already absent upstream, and updates a merge
	// policy rejected.
	Skipped int `json:"skipped"`

	Conflicts []Conflict `json:"conflicts,omitempty"`
}

func (r *Report) addConflict(typeName, ident, attr, reason string) {
	r.Conflicts = append(r.Conflicts, Conflict{
		EntityType: typeName,
		Ident:      ident,
		Attr:       attr,
		Reason:     reason,
	})
}

// String renders the report as human-readable text.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reconciled %d type(s): %d deleted, %d upserted, %d skipped, %d conflict(s)\n",
		len(r.TypesProcessed), r.Deleted, r.Upserted, r.Skipped, len(r.Conflicts))
	for _, c := range r.Conflicts {
		fmt.Fprintf(&b, "  conflict: %s\n", c)
	}
	return b.String()
}
