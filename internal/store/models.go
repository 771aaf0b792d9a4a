package store

import (
	"database/sql"
	"time"
)

// Post is a generated text awaiting or past the approval decision
type Post struct {
	ID          string         `db:"id" json:"id"`
	Description string         `db:"description" json:"description"`
	Content     string         `db:"content" json:"content"`
	Platform    string         `db:"platform" json:"platform"`
	Model       string         `db:"model" json:"model"`
	CreatedBy   string         `db:"created_by" json:"created_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	IsApproved  sql.NullBool   `db:"is_approved" json:"-"`
	TokensUsed  int            `db:"tokens_used" json:"tokens_used,omitempty"`
	ContextIDs  sql.NullString `db:"context_ids" json:"-"`
}

// Status reports the approval state: pending, approved or denied
func (p *Post) Status() string {
	if !p.IsApproved.Valid {
		return "pending"
	}
	if p.IsApproved.Bool {
		return "approved"
	}
	return "denied"
}

// Stats tracks application-wide counters
type Stats struct {
	GeneratedTexts int       `db:"generated_texts" json:"generated_texts"`
	ApprovedTexts  int       `db:"approved_texts" json:"approved_texts"`
	DeniedTexts    int       `db:"denied_texts" json:"denied_texts"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
