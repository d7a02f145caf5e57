package auth

// Template names an access rule applied to an operation.
type Template string

// Permission templates.
const (
	// TemplateLocal admits loopback callers only.
	TemplateLocal Template = "local"

	// TemplateToken admits callers presenting a validated session token.
	TemplateToken Template = "token"

	// TemplateNormal admits the core identity while single-user, a selected
	// user while multiuser, or any validated token.
	TemplateNormal Template = "normal"

	// TemplateAny admits everyone.
	TemplateAny Template = "any"
)

// Access describes the caller of an operation.
type Access struct {
	Local     bool     // source address is loopback
	Identity  Identity // resolved identity; Type is token only after validation
	Multiuser bool
}

// Permit reports whether the caller satisfies the template.
// Unknown templates deny.
func Permit(t Template, a Access) bool {
	switch t {
	case TemplateAny:
		return true
	case TemplateLocal:
		return a.Local
	case TemplateToken:
		return a.Identity.Type == IdentityToken
	case TemplateNormal:
		switch a.Identity.Type {
		case IdentityToken:
			return true
		case IdentityCore:
			return !a.Multiuser
		case IdentityUser:
			return a.Multiuser
		}
		return false
	default:
		return false
	}
}

