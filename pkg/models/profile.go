package models

// ProviderProfile is the directory entry a requester opens a thread
// against. OwnerUserID may be empty while the profile has no linked user
// account yet; threads cannot be opened against such profiles.
type ProviderProfile struct {
	ID               string `json:"id"`
	OwnerUserID      string `json:"owner_user_id,omitempty"`
	DisplayName      string `json:"display_name"`
	Active           bool   `json:"active"`
	MessagingEnabled bool   `json:"messaging_enabled"`
	CreatedTS        int64  `json:"created_ts"`
}
