package entity

// User is an identity that can request, approve or be notified
type User struct {
	ID         string `json:"id"`
	OrgID      string `json:"org_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	LarkOpenID string `json:"lark_open_id,omitempty"`
	Role       string `json:"role"`
	Active     bool   `json:"active"`
}

// Organization owns payment requests and names its administrators
type Organization struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	AdminUserIDs []string `json:"admin_user_ids"`
}
