package domain

// TokenPair is the result of a login or refresh. Refresh is empty when the
// backend did not rotate the refresh token.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// LoginResult is the body of a successful POST /auth/login/.
type LoginResult struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user"`
}

// Session is a point-in-time view of a visitor's authentication state.
// IsAuthenticated is true iff both an access token and a user are present.
type Session struct {
	AccessToken     string `json:"-"`
	RefreshToken    string `json:"-"`
	User            *User  `json:"user"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsLoading       bool   `json:"is_loading"`
}
