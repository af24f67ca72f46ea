package profile

import (
	"strings"
	"time"
)

// Profile represents a known individual keyed by their RFID badge UID.
type Profile struct {
	ID        string    `json:"id"`
	RFIDUID   string    `json:"rfid_uid"`
	Name      *string   `json:"name,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	Embedding []float32 `json:"-"`
	// FaceEnrolled mirrors whether a reference embedding is stored.
	FaceEnrolled bool      `json:"face_enrolled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Enrolled reports whether a reference embedding has been stored.
func (p *Profile) Enrolled() bool {
	return p != nil && len(p.Embedding) > 0
}

// DisplayName returns the name when set, otherwise the badge UID.
func (p *Profile) DisplayName() string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return p.RFIDUID
}

// NormalizeUID canonicalizes a badge UID: trimmed and upper-cased.
// Scans and check-ins for " abc123 " and "ABC123" resolve identically.
func NormalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}
