package attendance

import "time"

// Check-in methods recorded in the audit trail.
const (
	MethodFaceVerified = "rfid+face"
	MethodFaceFailed   = "rfid+face_failed"
)

// Record is one append-only audit entry for a check-in attempt. Records are
// never updated or deleted by the system.
type Record struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profile_id"`
	Method     string    `json:"method"`
	Confidence *float64  `json:"confidence,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
