package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"faceattend/internal/attendance"
	"faceattend/internal/cloudinary"
	"faceattend/internal/enroll"
	"faceattend/internal/profile"
)

// ProfileStore is the profile persistence surface the handlers need.
type ProfileStore interface {
	Create(ctx context.Context, p *profile.Profile) error
	GetByUID(ctx context.Context, uid string) (*profile.Profile, error)
	List(ctx context.Context) ([]profile.Profile, error)
	Delete(ctx context.Context, uid string) (bool, error)
	SetImageURL(ctx context.Context, id, imageURL string) error
}

// RecordStore lists audit records.
type RecordStore interface {
	List(ctx context.Context, profileID string, limit, offset int) ([]attendance.Record, error)
}

// Handler wires HTTP requests to the attendance and enrollment services.
type Handler struct {
	checkins *attendance.Service
	enroll   *enroll.Service
	profiles ProfileStore
	records  RecordStore
	cloud    *cloudinary.Client // nil when Cloudinary not configured
}

// New creates the handler set.
func New(checkins *attendance.Service, enrollSvc *enroll.Service, profiles ProfileStore, records RecordStore, cloud *cloudinary.Client) *Handler {
	return &Handler{
		checkins: checkins,
		enroll:   enrollSvc,
		profiles: profiles,
		records:  records,
		cloud:    cloud,
	}
}

// ---------- Device endpoints ----------

// Scan confirms a badge UID is known before the device captures an image.
// Purely a presence check; nothing is written.
func (h *Handler) Scan(c *gin.Context) {
	var req struct {
		RFIDUID string `json:"rfid_uid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RFIDUID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rfid_uid required"})
		return
	}

	_, err := h.checkins.Scan(c.Request.Context(), req.RFIDUID)
	switch {
	case errors.Is(err, attendance.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "fail", "message": "UID not found"})
	case err != nil:
		log.Errorf("scan failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "UID exists", "action": "capture_required"})
	}
}

// CheckIn pairs the badge scan with the captured face image and records the outcome.
func (h *Handler) CheckIn(c *gin.Context) {
	var req struct {
		RFIDUID     string `json:"rfid_uid"`
		ImageBase64 string `json:"image_base64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.RFIDUID) == "" || req.ImageBase64 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rfid_uid and image_base64 required"})
		return
	}

	res, err := h.checkins.CheckIn(c.Request.Context(), req.RFIDUID, req.ImageBase64)
	switch {
	case errors.Is(err, attendance.ErrProfileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "fail", "message": "user not found"})
		return
	case errors.Is(err, attendance.ErrNotEnrolled):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "no stored embedding for user"})
		return
	case errors.Is(err, attendance.ErrBadBase64):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "invalid base64"})
		return
	case errors.Is(err, attendance.ErrBadImage):
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "invalid image"})
		return
	case err != nil:
		log.Errorf("checkin failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkin failed"})
		return
	}

	switch res.Outcome {
	case attendance.OutcomeNoFace:
		c.JSON(http.StatusBadRequest, gin.H{"status": "fail", "message": "no face detected"})
	case attendance.OutcomeNoMatch:
		c.JSON(http.StatusOK, gin.H{
			"status":     "fail",
			"message":    "face did not match",
			"confidence": *res.Confidence,
		})
	default:
		c.JSON(http.StatusOK, gin.H{
			"status":     "success",
			"message":    "attendance recorded",
			"user":       res.Profile.DisplayName(),
			"confidence": *res.Confidence,
		})
	}
}

// ---------- Profile administration ----------

// CreateProfile registers a profile from a multipart form (rfid_uid, name,
// optional photo). When a photo is supplied it is uploaded to the media store
// and enrollment runs immediately; an enrollment failure never fails creation.
func (h *Handler) CreateProfile(c *gin.Context) {
	var req struct {
		RFIDUID string `form:"rfid_uid" binding:"required"`
		Name    string `form:"name"`
	}
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rfid_uid required"})
		return
	}

	p := &profile.Profile{RFIDUID: req.RFIDUID}
	if req.Name != "" {
		p.Name = &req.Name
	}

	photo, filename, ok := h.readPhoto(c)
	if !ok {
		return
	}

	if err := h.profiles.Create(c.Request.Context(), p); err != nil {
		if errors.Is(err, profile.ErrDuplicateUID) {
			c.JSON(http.StatusConflict, gin.H{"error": "rfid_uid already registered"})
			return
		}
		log.Errorf("create profile failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create profile failed"})
		return
	}

	var enrollment *enroll.Result
	if photo != nil {
		h.storeReferenceImage(c.Request.Context(), p, photo, filename)
		res, err := h.enroll.Enroll(c.Request.Context(), p, photo)
		if err != nil {
			log.Errorf("enrollment failed for %s: %v", p.RFIDUID, err)
		} else {
			enrollment = &res
		}
	}

	c.JSON(http.StatusCreated, gin.H{"profile": p, "enrollment": enrollment})
}

// EnrollProfile runs enrollment for an existing profile with a fresh photo.
// A no-op while an embedding exists.
func (h *Handler) EnrollProfile(c *gin.Context) {
	prof, ok := h.lookup(c)
	if !ok {
		return
	}

	photo, filename, ok := h.readPhoto(c)
	if !ok {
		return
	}
	if photo == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file required"})
		return
	}

	if !prof.Enrolled() {
		h.storeReferenceImage(c.Request.Context(), prof, photo, filename)
	}
	res, err := h.enroll.Enroll(c.Request.Context(), prof, photo)
	if err != nil {
		log.Errorf("enrollment failed for %s: %v", prof.RFIDUID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "enrollment failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": prof, "enrollment": res})
}

func (h *Handler) ListProfiles(c *gin.Context) {
	profiles, err := h.profiles.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *Handler) GetProfile(c *gin.Context) {
	prof, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, prof)
}

func (h *Handler) DeleteProfile(c *gin.Context) {
	deleted, err := h.profiles.Delete(c.Request.Context(), c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAttendance returns audit records, optionally scoped to one badge UID.
func (h *Handler) ListAttendance(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	profileID := ""
	if uid := c.Query("rfid_uid"); uid != "" {
		prof, err := h.profiles.GetByUID(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if prof == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
			return
		}
		profileID = prof.ID
	}

	records, err := h.records.List(c.Request.Context(), profileID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// ---------- helpers ----------

// lookup resolves the :uid param to a profile, writing the 404 itself.
func (h *Handler) lookup(c *gin.Context) (*profile.Profile, bool) {
	prof, err := h.profiles.GetByUID(c.Request.Context(), c.Param("uid"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if prof == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return nil, false
	}
	return prof, true
}

// readPhoto reads the optional "photo" multipart file. Returns ok=false only
// when reading an attached file failed (response already written).
func (h *Handler) readPhoto(c *gin.Context) (data []byte, filename string, ok bool) {
	file, header, err := c.Request.FormFile("photo")
	if err != nil {
		return nil, "", true // no photo attached
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read photo"})
		return nil, "", false
	}
	return data, header.Filename, true
}

// storeReferenceImage uploads the photo to the media store and records its URL.
// Best effort: a media-store outage does not block profile workflows.
func (h *Handler) storeReferenceImage(ctx context.Context, p *profile.Profile, photo []byte, filename string) {
	if h.cloud == nil {
		return
	}
	result, err := h.cloud.Upload(photo, filename)
	if err != nil {
		log.Errorf("reference image upload failed for %s: %v", p.RFIDUID, err)
		return
	}
	p.ImageURL = result.SecureURL
	if err := h.profiles.SetImageURL(ctx, p.ID, result.SecureURL); err != nil {
		log.Errorf("store image url failed for %s: %v", p.RFIDUID, err)
	}
}
