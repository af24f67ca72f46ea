package attendance

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"
	"testing"

	"faceattend/internal/profile"
)

// fakeProfileStore is an in-memory ProfileStore with error injection.
type fakeProfileStore struct {
	profiles map[string]*profile.Profile
	getErr   error
}

func newFakeProfileStore(profs ...*profile.Profile) *fakeProfileStore {
	s := &fakeProfileStore{profiles: make(map[string]*profile.Profile)}
	for _, p := range profs {
		s.profiles[p.RFIDUID] = p
	}
	return s
}

func (s *fakeProfileStore) GetByUID(_ context.Context, uid string) (*profile.Profile, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.profiles[profile.NormalizeUID(uid)], nil
}

// fakeRecordStore captures inserted records.
type fakeRecordStore struct {
	mu        sync.Mutex
	records   []Record
	insertErr error
}

func (s *fakeRecordStore) Insert(_ context.Context, rec Record) (Record, error) {
	if s.insertErr != nil {
		return Record{}, s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.ID = "rec-1"
	s.records = append(s.records, rec)
	return rec, nil
}

// fakeProvider returns canned encodings.
type fakeProvider struct {
	encodings [][]float32
	err       error
}

func (p *fakeProvider) Encodings(context.Context, []byte) ([][]float32, error) {
	return p.encodings, p.err
}

func validImageB64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func enrolledProfile(name string, embedding []float32) *profile.Profile {
	return &profile.Profile{
		ID:        "prof-1",
		RFIDUID:   "AB12",
		Name:      &name,
		Embedding: embedding,
	}
}

func TestScanNormalizesUID(t *testing.T) {
	profiles := newFakeProfileStore(enrolledProfile("Ada", []float32{0, 0, 0}))
	svc := NewService(profiles, &fakeRecordStore{}, &fakeProvider{}, 0, 0)

	for _, uid := range []string{"AB12", "ab12", " Ab12 "} {
		prof, err := svc.Scan(context.Background(), uid)
		if err != nil {
			t.Fatalf("Scan(%q) error: %v", uid, err)
		}
		if prof.RFIDUID != "AB12" {
			t.Errorf("Scan(%q) resolved %q, want AB12", uid, prof.RFIDUID)
		}
	}
}

func TestScanUnknownUID(t *testing.T) {
	svc := NewService(newFakeProfileStore(), &fakeRecordStore{}, &fakeProvider{}, 0, 0)
	if _, err := svc.Scan(context.Background(), "NOPE"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("Scan unknown uid error = %v, want ErrProfileNotFound", err)
	}
}

func TestCheckInValidationFailuresWriteNothing(t *testing.T) {
	stored := []float32{0, 0, 0}

	tests := []struct {
		name    string
		prof    *profile.Profile
		uid     string
		image   string
		wantErr error
	}{
		{"unknown uid", enrolledProfile("Ada", stored), "ZZ99", "irrelevant", ErrProfileNotFound},
		{"not enrolled", enrolledProfile("Ada", nil), "AB12", "irrelevant", ErrNotEnrolled},
		{"bad base64", enrolledProfile("Ada", stored), "AB12", "!!!bad!!!", ErrBadBase64},
		{"bad image", enrolledProfile("Ada", stored), "AB12", base64.StdEncoding.EncodeToString([]byte("not an image")), ErrBadImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecordStore{}
			svc := NewService(newFakeProfileStore(tt.prof), records, &fakeProvider{}, 0, 0)

			_, err := svc.CheckIn(context.Background(), tt.uid, tt.image)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckIn() error = %v, want %v", err, tt.wantErr)
			}
			if len(records.records) != 0 {
				t.Errorf("validation failure wrote %d records, want 0", len(records.records))
			}
		})
	}
}

func TestCheckInNoFaceDetectedIsRecorded(t *testing.T) {
	records := &fakeRecordStore{}
	svc := NewService(
		newFakeProfileStore(enrolledProfile("Ada", []float32{0, 0, 0})),
		records,
		&fakeProvider{encodings: [][]float32{}},
		0, 0,
	)

	res, err := svc.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeNoFace {
		t.Errorf("outcome = %v, want %v", res.Outcome, OutcomeNoFace)
	}
	if res.Confidence != nil {
		t.Errorf("confidence = %v, want nil when no face detected", *res.Confidence)
	}
	if len(records.records) != 1 {
		t.Fatalf("wrote %d records, want exactly 1", len(records.records))
	}
	rec := records.records[0]
	if rec.Method != MethodFaceFailed {
		t.Errorf("method = %q, want %q", rec.Method, MethodFaceFailed)
	}
	if rec.Confidence != nil {
		t.Errorf("record confidence = %v, want nil", *rec.Confidence)
	}
}

func TestCheckInPerfectMatch(t *testing.T) {
	stored := []float32{0.1, 0.2, 0.3}
	records := &fakeRecordStore{}
	svc := NewService(
		newFakeProfileStore(enrolledProfile("Ada", stored)),
		records,
		&fakeProvider{encodings: [][]float32{stored}},
		0, 0,
	)

	res, err := svc.CheckIn(context.Background(), " ab12 ", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeMatch {
		t.Fatalf("outcome = %v, want %v", res.Outcome, OutcomeMatch)
	}
	if res.Confidence == nil || math.Abs(*res.Confidence-1.0) > 0.0001 {
		t.Errorf("confidence = %v, want 1.0 for zero distance", res.Confidence)
	}
	if len(records.records) != 1 || records.records[0].Method != MethodFaceVerified {
		t.Errorf("records = %+v, want one %q record", records.records, MethodFaceVerified)
	}
}

func TestCheckInMismatchIsRecordedWithConfidence(t *testing.T) {
	records := &fakeRecordStore{}
	svc := NewService(
		newFakeProfileStore(enrolledProfile("Ada", []float32{0, 0, 0})),
		records,
		&fakeProvider{encodings: [][]float32{{2, 0, 0}}}, // distance 2.0, far beyond tolerance
		0, 0,
	)

	res, err := svc.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeNoMatch {
		t.Fatalf("outcome = %v, want %v", res.Outcome, OutcomeNoMatch)
	}
	if res.Confidence == nil || *res.Confidence != 0.0 {
		t.Errorf("confidence = %v, want 0.0 clamped", res.Confidence)
	}
	if len(records.records) != 1 || records.records[0].Method != MethodFaceFailed {
		t.Errorf("records = %+v, want one %q record", records.records, MethodFaceFailed)
	}
	if records.records[0].Confidence == nil {
		t.Error("mismatch record must carry the confidence value")
	}
}

func TestCheckInUsesFirstDetectedFaceOnly(t *testing.T) {
	stored := []float32{0, 0, 0}
	records := &fakeRecordStore{}
	// First face mismatches, second would match; only the first counts.
	svc := NewService(
		newFakeProfileStore(enrolledProfile("Ada", stored)),
		records,
		&fakeProvider{encodings: [][]float32{{5, 0, 0}, stored}},
		0, 0,
	)

	res, err := svc.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeNoMatch {
		t.Errorf("outcome = %v, want %v (second face must be ignored)", res.Outcome, OutcomeNoMatch)
	}
}

func TestCheckInProviderFailure(t *testing.T) {
	records := &fakeRecordStore{}
	svc := NewService(
		newFakeProfileStore(enrolledProfile("Ada", []float32{0, 0, 0})),
		records,
		&fakeProvider{err: errors.New("connection refused")},
		0, 0,
	)

	_, err := svc.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrNotEnrolled) ||
		errors.Is(err, ErrBadBase64) || errors.Is(err, ErrBadImage) {
		t.Fatalf("provider failure must not map to a validation error, got %v", err)
	}
	if len(records.records) != 0 {
		t.Errorf("provider failure wrote %d records, want 0", len(records.records))
	}
}

func TestCheckInCustomTolerance(t *testing.T) {
	stored := []float32{0, 0, 0}
	live := [][]float32{{0.5, 0, 0}} // distance 0.5

	strict := NewService(
		newFakeProfileStore(enrolledProfile("Ada", stored)),
		&fakeRecordStore{}, &fakeProvider{encodings: live}, 0.4, 0,
	)
	res, err := strict.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeNoMatch {
		t.Errorf("tolerance 0.4 with distance 0.5: outcome = %v, want no match", res.Outcome)
	}

	relaxed := NewService(
		newFakeProfileStore(enrolledProfile("Ada", stored)),
		&fakeRecordStore{}, &fakeProvider{encodings: live}, 0.6, 0,
	)
	res, err = relaxed.CheckIn(context.Background(), "AB12", validImageB64(t))
	if err != nil {
		t.Fatalf("CheckIn() error: %v", err)
	}
	if res.Outcome != OutcomeMatch {
		t.Errorf("tolerance 0.6 with distance 0.5: outcome = %v, want match", res.Outcome)
	}
}
