// Package audit writes append-only audit records for admin actions.
// Records are inserted in the same transaction as the mutation they
// describe, so an action and its audit trail commit or roll back together.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/PariazaInteligent/fund-engine/internal/model"
	"github.com/PariazaInteligent/fund-engine/internal/store"
)

// Resource types recorded against audit entries.
const (
	ResourceDeposit      = "deposit"
	ResourceWithdrawal   = "withdrawal"
	ResourceTrade        = "trade"
	ResourceDistribution = "distribution"
)

// Record writes one audit row. diff is marshalled to JSON; pass nil when
// there is nothing meaningful to capture.
func Record(ctx context.Context, tx store.Tx, action, resourceType, resourceID, actor string, diff any) error {
	var payload string
	if diff != nil {
		b, err := json.Marshal(diff)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	return tx.InsertAuditRecord(ctx, &model.AuditRecord{
		ID:           uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Actor:        actor,
		Diff:         payload,
		CreatedAt:    time.Now().UTC(),
	})
}
