package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `bun:",nullzero" json:"name"`

	Targets []*AccountTarget `bun:"rel:has-many,join:id=account_id" json:"targets,omitempty"`
}

func (a *Account) TargetByName(name string) *AccountTarget {
	for _, target := range a.Targets {
		if target.TargetName == name {
			return target
		}
	}
	return nil
}
