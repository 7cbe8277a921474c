package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,50}$`)

// User is the pure state machine behind the user aggregate.
type User struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	IsActive    bool
	DeletedAt   *time.Time
	Version     int // -1 means the user does not exist yet
}

func NewUser(id string) *User {
	return &User{ID: id, Version: -1}
}

// --- event payloads -------------------------------------------------------

type UserCreatedPayload struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	IsSystem    bool   `json:"is_system"`
}

type UserUpdatedPayload struct {
	ChangedFields map[string]string `json:"changed_fields"`
}

type UserDeactivatedPayload struct {
	DeletedAt time.Time `json:"deleted_at"`
}

// --- commands --------------------------------------------------------------

// Create checks the username against usernamePattern and that email is
// non-empty, and produces a UserCreated event.
func (u *User) Create(username, email, displayName string, isSystem bool) (eventstore.Event, error) {
	if u.Version != -1 {
		return eventstore.Event{}, fmt.Errorf("user %s already exists", u.ID)
	}
	if !usernamePattern.MatchString(username) {
		return eventstore.Event{}, &ledgererr.ValidationError{Field: "username", Message: "must match ^[A-Za-z0-9_]{3,50}$"}
	}
	if email == "" {
		return eventstore.Event{}, &ledgererr.ValidationError{Field: "email", Message: "must not be empty"}
	}
	payload, err := json.Marshal(UserCreatedPayload{
		Username: username, Email: email, DisplayName: displayName, IsSystem: isSystem,
	})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventUserCreated, payload), nil
}

// Update produces a UserUpdated event carrying only the fields that
// changed.
func (u *User) Update(changed map[string]string) (eventstore.Event, error) {
	if err := u.mustBeActive(); err != nil {
		return eventstore.Event{}, err
	}
	payload, err := json.Marshal(UserUpdatedPayload{ChangedFields: changed})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventUserUpdated, payload), nil
}

// Deactivate soft-deletes the user. Terminal: no further mutating events
// are accepted afterward (reactivation is out of scope).
func (u *User) Deactivate(at time.Time) (eventstore.Event, error) {
	if err := u.mustBeActive(); err != nil {
		return eventstore.Event{}, err
	}
	payload, err := json.Marshal(UserDeactivatedPayload{DeletedAt: at})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventUserDeactivated, payload), nil
}

func (u *User) mustBeActive() error {
	if u.Version == -1 {
		return ledgererr.ErrNotFound
	}
	if !u.IsActive {
		return fmt.Errorf("user %s is deactivated", u.ID)
	}
	return nil
}

// --- apply -------------------------------------------------------------

func (u *User) Apply(ev eventstore.Event) error {
	switch ev.EventType {
	case eventstore.EventUserCreated:
		var p UserCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		u.Username = p.Username
		u.Email = p.Email
		u.DisplayName = p.DisplayName
		u.IsActive = true
	case eventstore.EventUserUpdated:
		var p UserUpdatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		for field, value := range p.ChangedFields {
			switch field {
			case "email":
				u.Email = value
			case "display_name":
				u.DisplayName = value
			}
		}
	case eventstore.EventUserDeactivated:
		var p UserDeactivatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		u.IsActive = false
		deletedAt := p.DeletedAt
		u.DeletedAt = &deletedAt
	default:
		return fmt.Errorf("user aggregate: unknown event type %q", ev.EventType)
	}
	u.Version = ev.Version
	return nil
}

// FoldUser rebuilds a User from an optional snapshot state plus the
// events recorded after it.
func FoldUser(id string, snapshotState []byte, events []eventstore.Event) (*User, error) {
	u := NewUser(id)
	if len(snapshotState) > 0 {
		if err := json.Unmarshal(snapshotState, u); err != nil {
			return nil, err
		}
	}
	for _, ev := range events {
		if err := u.Apply(ev); err != nil {
			return nil, err
		}
	}
	if u.Version == -1 {
		return nil, nil
	}
	return u, nil
}

func (u *User) SnapshotState() ([]byte, error) {
	return json.Marshal(u)
}

// LoadUser rehydrates a user from the event store the same way LoadAccount
// does for accounts.
func LoadUser(ctx context.Context, store eventstore.Store, id string) (*User, error) {
	r, err := store.Load(ctx, eventstore.AggregateUser, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return NewUser(id), nil
	}
	var snapState []byte
	if r.Snapshot != nil {
		snapState = r.Snapshot.State
	}
	u, err := FoldUser(id, snapState, r.Events)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return NewUser(id), nil
	}
	return u, nil
}
