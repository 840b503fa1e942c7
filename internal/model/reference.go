package model

import "fmt"

// ReferenceKind tags which workflow row a ledger entry originated from.
type ReferenceKind string

const (
	RefDeposit      ReferenceKind = "deposit"
	RefWithdrawal   ReferenceKind = "withdrawal"
	RefTrade        ReferenceKind = "trade"
	RefDistribution ReferenceKind = "distribution"
)

// Reference is a typed pointer from a ledger entry to its originating
// workflow row. Stored as a plain (reference_type, reference_id) pair; the
// foreign key is deliberately not enforced by the database so the ledger
// schema stays independent of the workflow tables.
type Reference struct {
	Kind ReferenceKind `json:"kind" db:"reference_type"`
	ID   string        `json:"id" db:"reference_id"`
}

// DepositRef returns a reference to a deposit row.
func DepositRef(id string) Reference { return Reference{Kind: RefDeposit, ID: id} }

// WithdrawalRef returns a reference to a withdrawal row.
func WithdrawalRef(id string) Reference { return Reference{Kind: RefWithdrawal, ID: id} }

// TradeRef returns a reference to a trade row.
func TradeRef(id string) Reference { return Reference{Kind: RefTrade, ID: id} }

// DistributionRef returns a reference to a distribution round row.
func DistributionRef(id string) Reference { return Reference{Kind: RefDistribution, ID: id} }

func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// IsZero reports whether the reference points at nothing.
func (r Reference) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}
