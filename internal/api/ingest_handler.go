package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/vitalspan/metrics-cache/internal/models"
	"github.com/vitalspan/metrics-cache/internal/storage"
	"github.com/vitalspan/metrics-cache/pkg/logger"
)

// EventPublisher announces created documents; *pubsub.EventPublisher satisfies it
type EventPublisher interface {
	Publish(ctx context.Context, collection, userID, documentID string) (*models.DocumentEvent, error)
}

// IngestHandler writes raw data and announces it to the invalidators
type IngestHandler struct {
	store     storage.RawDataWriter
	publisher EventPublisher
	now       func() time.Time
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(store storage.RawDataWriter, publisher EventPublisher) *IngestHandler {
	return &IngestHandler{
		store:     store,
		publisher: publisher,
		now:       time.Now,
	}
}

// CreateUser handles POST /api/v1/users
func (h *IngestHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := ValidateStruct(&user); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	user.CreatedAt = h.now().UTC()

	created, err := h.store.CreateUser(r.Context(), &user)
	if err != nil {
		logger.WithContext(r.Context()).Error("Failed to create user", logger.ErrorField(err), logger.String("user_id", user.ID))
		respondWithError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	if !created {
		respondWithJSON(w, http.StatusOK, user)
		return
	}

	h.announce(r.Context(), models.CollectionUsers, user.ID, user.ID)
	respondWithJSON(w, http.StatusCreated, user)
}

// CreateReading handles POST /api/v1/users/{userId}/readings
func (h *IngestHandler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var reading models.WearableReading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	reading.UserID = mux.Vars(r)["userId"]
	if err := ValidateStruct(&reading); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := reading.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	reading.ID = uuid.New().String()
	reading.RecordedAt = reading.RecordedAt.UTC()
	reading.CreatedAt = h.now().UTC()

	if err := h.store.InsertWearableReading(r.Context(), &reading); err != nil {
		logger.WithContext(r.Context()).Error("Failed to insert wearable reading", logger.ErrorField(err), logger.String("user_id", reading.UserID))
		respondWithError(w, http.StatusInternalServerError, "Failed to store reading")
		return
	}

	h.announce(r.Context(), models.CollectionWearable, reading.UserID, reading.ID)
	respondWithJSON(w, http.StatusCreated, reading)
}

// CreateAssessment handles POST /api/v1/users/{userId}/assessments
func (h *IngestHandler) CreateAssessment(w http.ResponseWriter, r *http.Request) {
	var assessment models.Assessment
	if err := json.NewDecoder(r.Body).Decode(&assessment); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	assessment.UserID = mux.Vars(r)["userId"]
	if err := ValidateStruct(&assessment); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	assessment.ID = uuid.New().String()
	assessment.CreatedAt = h.now().UTC()

	if err := h.store.InsertAssessment(r.Context(), &assessment); err != nil {
		logger.WithContext(r.Context()).Error("Failed to insert assessment", logger.ErrorField(err), logger.String("user_id", assessment.UserID))
		respondWithError(w, http.StatusInternalServerError, "Failed to store assessment")
		return
	}

	h.announce(r.Context(), models.CollectionAssessments, assessment.UserID, assessment.ID)
	respondWithJSON(w, http.StatusCreated, assessment)
}

// announce publishes the document event. The write already succeeded, so a
// failure is only logged.
func (h *IngestHandler) announce(ctx context.Context, collection, userID, documentID string) {
	if h.publisher == nil {
		return
	}
	if _, err := h.publisher.Publish(context.WithoutCancel(ctx), collection, userID, documentID); err != nil {
		logger.WithContext(ctx).Error("Failed to publish document event",
			logger.ErrorField(err),
			logger.String("collection", collection),
			logger.String("user_id", userID),
			logger.String("document_id", documentID),
		)
	}
}
