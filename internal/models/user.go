package models

// Identity is the authenticated user as the identity provider sees it.
type Identity struct {
	ID      string `json:"id"` // uuid, "sub"
	Email   string `json:"email"`
	Role    string `json:"role"`               // provider role, "authenticated" / "anon"
	AppRole string `json:"app_role,omitempty"` // app_metadata.role
}
