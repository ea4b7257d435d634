package models

// AuthTokens is what register/auth/refresh hand back to the client.
type AuthTokens struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	Roles        []string `json:"roles"`
}
