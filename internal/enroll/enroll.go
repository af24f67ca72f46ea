// Package enroll populates a profile's reference embedding from its reference
// photo. Enrollment is an explicit step invoked by the profile workflow and
// reports a typed result; it never fails profile creation.
package enroll

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"faceattend/internal/facerec"
	"faceattend/internal/imgproc"
	"faceattend/internal/metrics"
	"faceattend/internal/profile"
)

// Status classifies an enrollment attempt.
type Status string

const (
	// StatusEnrolled means the first detected embedding was persisted.
	StatusEnrolled Status = "enrolled"
	// StatusAlreadyEnrolled means an embedding exists; nothing was changed,
	// regardless of the image supplied.
	StatusAlreadyEnrolled Status = "already_enrolled"
	// StatusNoFace means the image decoded but contained no detectable face.
	StatusNoFace Status = "no_face"
	// StatusBadImage means the image could not be decoded.
	StatusBadImage Status = "bad_image"
)

// Result is the typed outcome of an enrollment attempt.
type Result struct {
	Status        Status `json:"status"`
	FacesDetected int    `json:"faces_detected"`
}

// EmbeddingWriter persists a reference embedding once. The write must be a
// no-op returning false when an embedding already exists.
type EmbeddingWriter interface {
	SetEmbedding(ctx context.Context, profileID string, embedding []float32) (bool, error)
}

// Service runs enrollment attempts.
type Service struct {
	store    EmbeddingWriter
	provider facerec.Provider
	timeout  time.Duration
}

// NewService creates an enrollment service.
func NewService(store EmbeddingWriter, provider facerec.Provider, timeout time.Duration) *Service {
	return &Service{store: store, provider: provider, timeout: timeout}
}

// Enroll derives and stores the reference embedding for prof from imageData.
// Idempotent: a profile that already has an embedding is left untouched. Image
// problems are reported as typed results, not errors; only provider or store
// failures return an error.
func (s *Service) Enroll(ctx context.Context, prof *profile.Profile, imageData []byte) (Result, error) {
	if prof.Enrolled() {
		return s.done(prof, Result{Status: StatusAlreadyEnrolled}), nil
	}

	normalized, err := imgproc.NormalizeRGB(imageData)
	if err != nil {
		return s.done(prof, Result{Status: StatusBadImage}), nil
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	encodings, err := s.provider.Encodings(ctx, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("face encoding: %w", err)
	}
	if len(encodings) == 0 {
		return s.done(prof, Result{Status: StatusNoFace}), nil
	}

	// First detected face only, as with check-ins.
	written, err := s.store.SetEmbedding(ctx, prof.ID, encodings[0])
	if err != nil {
		return Result{}, fmt.Errorf("persist embedding: %w", err)
	}
	if !written {
		// concurrent enrollment won the race
		return s.done(prof, Result{Status: StatusAlreadyEnrolled, FacesDetected: len(encodings)}), nil
	}

	prof.Embedding = encodings[0]
	prof.FaceEnrolled = true
	return s.done(prof, Result{Status: StatusEnrolled, FacesDetected: len(encodings)}), nil
}

func (s *Service) done(prof *profile.Profile, res Result) Result {
	metrics.EnrollmentsTotal.WithLabelValues(string(res.Status)).Inc()
	log.WithFields(log.Fields{
		"rfid_uid": prof.RFIDUID,
		"status":   res.Status,
		"faces":    res.FacesDetected,
	}).Info("enrollment attempt")
	return res
}
