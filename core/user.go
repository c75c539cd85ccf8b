package core

type (
	// User is the identity minted by the external OAuth/OIDC provider.
	// Subject is the opaque stable identifier used everywhere else in the
	// system (ownership, collaborator lists, session identity).
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatarUrl"`
		Name      string `json:"name"`
	}
)
