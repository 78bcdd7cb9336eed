package request

// SignUpRequest is the request body for creating an account
type SignUpRequest struct {
	Name      string `json:"name"`
	Password  string `json:"password"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// RenameRequest is the request body for changing the display name
type RenameRequest struct {
	Name string `json:"name"`
}
