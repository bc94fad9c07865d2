// Package change models mutation notifications flowing from the transactional
// store to the index, and the diagnostics produced when the two diverge.
package change

import (
	"fmt"
	"time"
)

// Operation is the kind of mutation observed in the transactional store.
type Operation string

// Mutation kinds.
const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ParseOperation accepts operation names case-insensitively as emitted by the
// outbox trigger (INSERT, UPDATE, DELETE).
func ParseOperation(s string) (Operation, error) {
	switch s {
	case "insert", "INSERT":
		return OpInsert, nil
	case "update", "UPDATE":
		return OpUpdate, nil
	case "delete", "DELETE":
		return OpDelete, nil
	}
	return "", fmt.Errorf("unknown change operation %q", s)
}

// Notification is one at-least-once delivered mutation of a listing.
type Notification struct {
	// Seq is the outbox sequence number, strictly increasing per store.
	Seq        int64
	ListingID  string
	Op         Operation
	OccurredAt time.Time
}

// DeadLetter is a notification set aside after it could not be applied.
type DeadLetter struct {
	ID           string
	Notification Notification
	Attempts     int
	LastError    string
	FailedAt     time.Time
	ReplayedAt   *time.Time
}

// DriftReport compares the searchable records of the store with the index.
type DriftReport struct {
	StoreCount     int64
	IndexCount     int64
	MissingInIndex []string
	MissingInStore []string
	// Compared is true when the id-sets were diffed, not only the counts.
	Compared  bool
	CheckedAt time.Time
}

// InSync reports whether no drift was observed.
func (r DriftReport) InSync() bool {
	return r.StoreCount == r.IndexCount && len(r.MissingInIndex) == 0 && len(r.MissingInStore) == 0
}

// Diff returns ids present only in store and only in index.
// Both inputs may be in any order; outputs follow input order.
func Diff(storeIDs, indexIDs []string) (missingInIndex, missingInStore []string) {
	inIndex := make(map[string]struct{}, len(indexIDs))
	for _, id := range indexIDs {
		inIndex[id] = struct{}{}
	}
	inStore := make(map[string]struct{}, len(storeIDs))
	for _, id := range storeIDs {
		inStore[id] = struct{}{}
		if _, ok := inIndex[id]; !ok {
			missingInIndex = append(missingInIndex, id)
		}
	}
	for _, id := range indexIDs {
		if _, ok := inStore[id]; !ok {
			missingInStore = append(missingInStore, id)
		}
	}
	return missingInIndex, missingInStore
}
