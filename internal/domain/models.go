// Package domain defines the persistence models for principals and their
// contest subscriptions. The types are mapped with GORM and shared by the
// repository, service, scheduler, and notification layers.
package domain

import (
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Principal is a user who can receive contest reminders. Principals are
// keyed by their normalized email address.
//
// Fields:
//   - ID: normalized (trimmed, lower-cased) email, primary key.
//   - Name / Email / Phone: contact fields; Phone is only required for voice reminders.
//   - PasswordHash: bcrypt hash; empty for email-only subscribers created via /subscribe.
//   - Contests: the subscribed contest names. Stored in the subscriptions
//     table (GORM) or the Contests column (CSV), never as a principals column.
type Principal struct {
	ID           string    `json:"id"              gorm:"type:varchar(320);primaryKey"`
	Name         string    `json:"name"            gorm:"type:varchar(255)"`
	Email        string    `json:"email"           gorm:"type:varchar(320);not null"`
	Phone        string    `json:"phone,omitempty" gorm:"type:varchar(32)"`
	PasswordHash string    `json:"-"               gorm:"type:varchar(255)"`
	Contests     []string  `json:"contests"        gorm:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for Principal.
func (Principal) TableName() string { return "principals" }

// HasCredential reports whether the principal registered with a password.
func (p Principal) HasCredential() bool { return p.PasswordHash != "" }

// Subscribed reports whether the principal is subscribed to contest.
func (p Principal) Subscribed(contest string) bool {
	for _, c := range p.Contests {
		if c == contest {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no mutable state with p.
func (p Principal) Clone() Principal {
	out := p
	out.Contests = append([]string(nil), p.Contests...)
	if out.Contests == nil {
		out.Contests = []string{}
	}
	return out
}

// Subscription links a principal to one contest. The composite primary key
// enforces at most one row per (principal, contest) pair.
type Subscription struct {
	PrincipalID string    `json:"principal_id" gorm:"type:varchar(320);primaryKey"`
	ContestName string    `json:"contest_name" gorm:"type:varchar(255);primaryKey;index"`
	CreatedAt   time.Time `json:"created_at"`

	// Principal owns the subscription; rows go away with it.
	Principal Principal `json:"-" gorm:"foreignKey:PrincipalID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// BeforeCreate normalizes the contest name.
func (s *Subscription) BeforeCreate(*gorm.DB) error {
	s.ContestName = strings.TrimSpace(s.ContestName)
	return nil
}

// PrincipalID derives the principal key from an email address.
func PrincipalID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UniqueContests trims, drops empties and duplicates, and sorts names.
func UniqueContests(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
