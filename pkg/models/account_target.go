package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

// AccountTarget is the per-account configuration of one external
// integration. At most one row exists per (account_id, target_name).
type AccountTarget struct {
	bun.BaseModel `bun:"table:account_targets,alias:at"`

	ID          int       `bun:",pk,nullzero" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	AccountID   int       `bun:",nullzero" json:"account_id"`
	TargetName  string    `bun:",nullzero" json:"target_name"`
	Enabled     bool      `json:"enabled"`
	Credentials string    `bun:",nullzero" json:"-"`

	CredentialsParsed map[string]string `bun:"-" json:"-"`
}

func (at *AccountTarget) UnmarshalCredentials() error {
	at.CredentialsParsed = map[string]string{}
	if at.Credentials == "" {
		return nil
	}

	err := json.Unmarshal([]byte(at.Credentials), &at.CredentialsParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (at *AccountTarget) MarshalCredentials() error {
	if at.CredentialsParsed == nil {
		return nil
	}

	data, err := json.Marshal(at.CredentialsParsed)
	if err != nil {
		return errors.WithStack(err)
	}
	at.Credentials = string(data)

	return nil
}
