package domain

// Principal is the caller identity handed to the core by the session layer.
// The core never authenticates; it only reads these two facts.
type Principal struct {
	UserID    string
	Anonymous bool
}

// AnonymousPrincipal is the identity of an unauthenticated caller.
var AnonymousPrincipal = Principal{Anonymous: true}

// UserPrincipal returns an authenticated principal.
func UserPrincipal(userID string) Principal {
	return Principal{UserID: userID}
}
