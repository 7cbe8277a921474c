package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atp-ledger/core/internal/ledger/aggregate"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
)

// projectIdentityEvent mirrors UserCreated/AccountCreated and their
// subsequent state-machine events into the users/accounts lookup tables,
// inside the same transaction as the event insert. This keeps those
// tables as a pure materialization of the event log, the same role
// account_balances and ledger_entries play for money movement, so
// WalletAccountID and the read endpoints have something to query without
// folding the full event stream on every request.
func projectIdentityEvent(ctx context.Context, tx querier, ev eventstore.Event) error {
	switch ev.EventType {
	case eventstore.EventUserCreated:
		var p aggregate.UserCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO users (id, username, email, display_name, is_system, is_active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, true, now(), now())`,
			ev.AggregateID, p.Username, p.Email, p.DisplayName, p.IsSystem,
		)
		return err

	case eventstore.EventUserUpdated:
		var p aggregate.UserUpdatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		for field, value := range p.ChangedFields {
			switch field {
			case "email":
				if _, err := tx.Exec(ctx, `UPDATE users SET email = $2, updated_at = now() WHERE id = $1`, ev.AggregateID, value); err != nil {
					return err
				}
			case "display_name":
				if _, err := tx.Exec(ctx, `UPDATE users SET display_name = $2, updated_at = now() WHERE id = $1`, ev.AggregateID, value); err != nil {
					return err
				}
			}
		}
		return nil

	case eventstore.EventUserDeactivated:
		_, err := tx.Exec(ctx, `UPDATE users SET is_active = false, deleted_at = now(), updated_at = now() WHERE id = $1`, ev.AggregateID)
		return err

	case eventstore.EventAccountCreated:
		var p aggregate.AccountCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, user_id, account_type, is_active, created_at) VALUES ($1, $2, $3, true, now())`,
			ev.AggregateID, p.UserID, p.AccountType,
		)
		return err

	case eventstore.EventAccountFrozen:
		_, err := tx.Exec(ctx, `UPDATE accounts SET is_active = false WHERE id = $1`, ev.AggregateID)
		return err

	case eventstore.EventAccountUnfrozen:
		_, err := tx.Exec(ctx, `UPDATE accounts SET is_active = true WHERE id = $1`, ev.AggregateID)
		return err

	case eventstore.EventMoneyCredited, eventstore.EventMoneyDebited:
		return nil // no identity-table effect; handled by the projection package

	default:
		return fmt.Errorf("postgres: unknown event type %q", ev.EventType)
	}
}
