package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"faceattend/internal/facerec"
	"faceattend/internal/imgproc"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
)

// Validation failures of the check-in procedure. None of these write an
// attendance record.
var (
	ErrProfileNotFound = errors.New("user not found")
	ErrNotEnrolled     = errors.New("no stored embedding for user")
	ErrBadBase64       = errors.New("invalid base64")
	ErrBadImage        = errors.New("invalid image")
)

// Outcome is the terminal result of a check-in that reached face detection.
// All three outcomes are persisted to the audit trail.
type Outcome string

const (
	OutcomeMatch   Outcome = "match"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeNoFace  Outcome = "no_face"
)

// CheckinResult carries the verdict of a completed check-in attempt.
// Confidence is nil when no live face was detected.
type CheckinResult struct {
	Outcome    Outcome
	Profile    *profile.Profile
	Confidence *float64
}

// ProfileStore resolves badge UIDs to profiles.
type ProfileStore interface {
	GetByUID(ctx context.Context, uid string) (*profile.Profile, error)
}

// RecordStore appends audit records.
type RecordStore interface {
	Insert(ctx context.Context, rec Record) (Record, error)
}

// Service implements the scan and check-in procedures: pair a badge scan with
// a face capture, compare the live embedding against the enrolled one, and
// log the attempt.
type Service struct {
	profiles  ProfileStore
	records   RecordStore
	provider  facerec.Provider
	tolerance float64
	timeout   time.Duration
}

// NewService creates the check-in service. tolerance <= 0 falls back to the
// provider default; timeout <= 0 disables the face call deadline.
func NewService(profiles ProfileStore, records RecordStore, provider facerec.Provider, tolerance float64, timeout time.Duration) *Service {
	if tolerance <= 0 {
		tolerance = facerec.DefaultTolerance
	}
	return &Service{
		profiles:  profiles,
		records:   records,
		provider:  provider,
		tolerance: tolerance,
		timeout:   timeout,
	}
}

// Scan checks whether a badge UID is known. Purely a presence check; no
// state is mutated.
func (s *Service) Scan(ctx context.Context, rawUID string) (*profile.Profile, error) {
	prof, err := s.profiles.GetByUID(ctx, profile.NormalizeUID(rawUID))
	if err != nil {
		return nil, fmt.Errorf("lookup profile: %w", err)
	}
	if prof == nil {
		return nil, ErrProfileNotFound
	}
	return prof, nil
}

// CheckIn runs the full decision procedure for a badge UID and captured image.
//
// Failures before face detection (unknown UID, missing enrollment, undecodable
// payload) return a sentinel error and write nothing. Once detection runs,
// every attempt writes exactly one attendance record: no face and mismatch as
// MethodFaceFailed, a match as MethodFaceVerified.
func (s *Service) CheckIn(ctx context.Context, rawUID, imageB64 string) (CheckinResult, error) {
	prof, err := s.Scan(ctx, rawUID)
	if err != nil {
		return CheckinResult{}, err
	}
	if !prof.Enrolled() {
		return CheckinResult{}, ErrNotEnrolled
	}

	imageBytes, err := imgproc.DecodeBase64(imageB64)
	if err != nil {
		return CheckinResult{}, ErrBadBase64
	}
	normalized, err := imgproc.NormalizeRGB(imageBytes)
	if err != nil {
		return CheckinResult{}, ErrBadImage
	}

	encodings, err := s.detect(ctx, normalized)
	if err != nil {
		return CheckinResult{}, fmt.Errorf("face detection: %w", err)
	}

	if len(encodings) == 0 {
		if err := s.record(ctx, prof.ID, MethodFaceFailed, nil); err != nil {
			return CheckinResult{}, err
		}
		metrics.CheckinsTotal.WithLabelValues(string(OutcomeNoFace)).Inc()
		return CheckinResult{Outcome: OutcomeNoFace, Profile: prof}, nil
	}

	// Only the first detected face is considered; multi-face captures are
	// not disambiguated.
	live := encodings[0]
	dist := facerec.Distance(prof.Embedding, live)
	matched := facerec.Match(prof.Embedding, live, s.tolerance)
	confidence := facerec.Confidence(dist)

	outcome := OutcomeNoMatch
	method := MethodFaceFailed
	if matched {
		outcome = OutcomeMatch
		method = MethodFaceVerified
	}
	if err := s.record(ctx, prof.ID, method, &confidence); err != nil {
		return CheckinResult{}, err
	}
	metrics.CheckinsTotal.WithLabelValues(string(outcome)).Inc()

	log.WithFields(log.Fields{
		"rfid_uid":   prof.RFIDUID,
		"outcome":    outcome,
		"distance":   dist,
		"confidence": confidence,
	}).Info("check-in processed")

	return CheckinResult{Outcome: outcome, Profile: prof, Confidence: &confidence}, nil
}

// detect calls the face service under the configured deadline.
func (s *Service) detect(ctx context.Context, imageJPEG []byte) ([][]float32, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	encodings, err := s.provider.Encodings(ctx, imageJPEG)
	metrics.FaceServiceDuration.Observe(time.Since(start).Seconds())
	return encodings, err
}

func (s *Service) record(ctx context.Context, profileID, method string, confidence *float64) error {
	_, err := s.records.Insert(ctx, Record{
		ProfileID:  profileID,
		Method:     method,
		Confidence: confidence,
	})
	if err != nil {
		return fmt.Errorf("write attendance record: %w", err)
	}
	return nil
}
