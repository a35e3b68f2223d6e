package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Profile struct {
	ID string `gorm:"column:id;type:uuid;primaryKey" json:"id"`

	// Legacy columns. Read Kind instead.
	Role        string `gorm:"column:role;type:text" json:"role"`
	ProfileType string `gorm:"column:profile_type;type:text" json:"profile_type"`

	OnboardingCompleted bool `gorm:"column:onboarding_completed;not null;default:false" json:"onboarding_completed"`
	OnboardingStep      int  `gorm:"column:onboarding_step;not null;default:1" json:"onboarding_step"`

	FullName    string `gorm:"column:full_name;type:text" json:"full_name"`
	Email       string `gorm:"column:email;type:text" json:"email"`
	Phone       string `gorm:"column:phone;type:text" json:"phone"`
	CompanyName string `gorm:"column:company_name;type:text" json:"company_name"`

	ServiceStates pq.StringArray `gorm:"column:service_states;type:text[]" json:"service_states"`
	Metadata      datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`

	Kind Role `gorm:"-" json:"kind"`
}

func (Profile) TableName() string { return "profiles" }

// AfterFind resolves Kind once per load so callers never re-derive it.
func (p *Profile) AfterFind(*gorm.DB) error {
	p.Kind = ResolveRole(p.ProfileType, p.Role)
	return nil
}

// SetRole writes r into both legacy columns and Kind.
func (p *Profile) SetRole(r Role) {
	p.Role = string(r)
	p.ProfileType = string(r)
	p.Kind = r
}

// RoleLocked reports whether the role can no longer change through onboarding.
func (p *Profile) RoleLocked() bool {
	return p.OnboardingStep > 1 && p.Kind.Known()
}
