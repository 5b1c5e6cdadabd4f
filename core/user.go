package core

type (
	// User is the identity a save space belongs to. Subject is the stable
	// user id that keys every remote row.
	User struct {
		Subject   string `json:"subject"`
		Login     string `json:"login"`
		Email     string `json:"email,omitempty"`
		AvatarURL string `json:"avatarUrl,omitempty"`
		Name      string `json:"name,omitempty"`
	}

	// Authenticator reports who, if anyone, is signed in.
	Authenticator interface {
		IsAuthenticated() bool
		// UserID returns "" when no user is available.
		UserID() string
	}

	// Connectivity reports whether the remote service is reachable.
	Connectivity interface {
		IsOnline() bool
	}
)
