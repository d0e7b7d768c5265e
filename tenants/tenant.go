package tenants

// Tenant represents a company the user may operate under. Field tags match
// the identity service's wire shape.
type Tenant struct {
	ID       string `json:"company_id"`
	Name     string `json:"name"`
	Document string `json:"document,omitempty"`
	Type     string `json:"company_type,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Enabled  bool   `json:"enabled"`
}
