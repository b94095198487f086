package domain

import "time"

// AnnotationAction describes how an annotation affects a position.
type AnnotationAction string

const (
	ActionOpen   AnnotationAction = "open"
	ActionAdd    AnnotationAction = "add"
	ActionReduce AnnotationAction = "reduce"
	ActionClose  AnnotationAction = "close"
)

// Valid reports whether a is one of the four known actions.
func (a AnnotationAction) Valid() bool {
	switch a {
	case ActionOpen, ActionAdd, ActionReduce, ActionClose:
		return true
	}
	return false
}

// Annotation is one immutable position-affecting record embedded in a
// historical ledger transaction. Annotations are totally ordered by
// OccurredAt with ties broken by the ledger-assigned sequence; once written
// they are never edited, only superseded by later annotations for the same
// asset.
type Annotation struct {
	Vault       VaultID
	Action      AnnotationAction
	AssetSymbol string
	AssetID     string
	Quantity    float64
	UnitPrice   float64 // price per unit at the time the action occurred
	OccurredAt  time.Time
	Sequence    uint64 // ledger slot, used to break OccurredAt ties
	SourceTxID  string
}

// TransactionRecord is the parsed view of one ledger transaction as returned
// by the ledger service: its signature, chain ordering metadata, and any
// opaque text memos attached to it. Memos that are not vaultbot annotations
// are simply ignored by the reader.
type TransactionRecord struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Memos     []string
}
