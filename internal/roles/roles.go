package roles

import "github.com/yoockh/closingdesk/internal/models"

type Category string

const (
	CategoryIndividual      Category = "individual"
	CategoryServiceProvider Category = "service_provider"
)

var serviceProviders = map[models.Role]struct{}{
	models.RoleAttorney:     {},
	models.RoleLawFirm:      {},
	models.RoleTitleCompany: {},
}

// Input is everything Resolve needs. Override is nil when no preview is active.
type Input struct {
	Real     models.Role
	Override *models.Role
}

// Resolve returns the role the UI should present. Only admins can preview
// another role; for everyone else the override is ignored.
func Resolve(in Input) models.Role {
	if in.Real != models.RoleAdmin || in.Override == nil {
		return in.Real
	}
	if !in.Override.Known() {
		return in.Real
	}
	return *in.Override
}

func CategoryOf(r models.Role) Category {
	if _, ok := serviceProviders[r]; ok {
		return CategoryServiceProvider
	}
	return CategoryIndividual
}

// View is the role summary returned to clients.
type View struct {
	Real       models.Role `json:"real"`
	Effective  models.Role `json:"effective"`
	Category   Category    `json:"category"`
	Previewing bool        `json:"previewing"`
}

func Describe(in Input) View {
	eff := Resolve(in)
	return View{
		Real:       in.Real,
		Effective:  eff,
		Category:   CategoryOf(eff),
		Previewing: eff != in.Real,
	}
}
