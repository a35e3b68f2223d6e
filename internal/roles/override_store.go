package roles

import (
	"net/http"

	"github.com/yoockh/closingdesk/internal/models"
)

const DefaultOverrideCookie = "closingdesk-preview-role"

// OverrideStore keeps the admin preview role in a browser-session cookie.
// Nothing is written server-side.
type OverrideStore struct {
	Name   string
	Secure bool
}

func NewOverrideStore(secure bool) *OverrideStore {
	return &OverrideStore{Name: DefaultOverrideCookie, Secure: secure}
}

// Get returns the stored override, or nil when absent or unparsable.
func (s *OverrideStore) Get(r *http.Request) *models.Role {
	c, err := r.Cookie(s.Name)
	if err != nil {
		return nil
	}
	role, ok := models.ParseRole(c.Value)
	if !ok {
		return nil
	}
	return &role
}

// Set stores role. A nil role or admin clears the override instead.
func (s *OverrideStore) Set(w http.ResponseWriter, role *models.Role) {
	if role == nil || *role == models.RoleAdmin || !role.Known() {
		s.Clear(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.Name,
		Value:    string(*role),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *OverrideStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
