package model

// User is the authenticated portal user as returned by the backend's
// current-user endpoint.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	OtherNames  string `json:"other_names,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Language    string `json:"language,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
	Rights      []int  `json:"rights"`
}

// RightSet returns the user's rights as a set.
func (u *User) RightSet() RightSet {
	if u == nil {
		return RightSet{}
	}
	return NewRightSet(u.Rights...)
}
