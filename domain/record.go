package domain

import "fmt"

// RecordKind discriminates the two stock-bearing collections. The two kinds
// do not share an id namespace.
type RecordKind string

const (
	RecordKindMedicine RecordKind = "medicine"
	RecordKindProduct  RecordKind = "product"
)

// RecordRef identifies one inventory record across both collections.
type RecordRef struct {
	Kind RecordKind `json:"kind"`
	ID   int64      `json:"id"`
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}
