package jobs

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"jobboard/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	j, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": j})
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	var createdBy string
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		createdBy = p.User.ID
	}

	j, err := h.store.Create(r.Context(), input, createdBy)
	if err != nil {
		sentry.CaptureException(err)
		writeMessage(w, http.StatusInternalServerError, "Server Error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"data": j})
}

func (h *Handler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	j, err := h.store.Update(r.Context(), id, input)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": j})
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Job not found.")
		return
	}
	sentry.CaptureException(err)
	writeMessage(w, http.StatusInternalServerError, "Server Error")
}

func jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeMessage(w, http.StatusNotFound, "Job not found.")
		return "", false
	}
	return id, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (JobInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input JobInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeInvalid(w, map[string][]string{"body": {"The request body must be valid JSON."}})
		return JobInput{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Company = strings.TrimSpace(input.Company)
	input.Location = strings.TrimSpace(input.Location)
	input.Description = strings.TrimSpace(input.Description)

	err := validation.ValidateStruct(&input,
		validation.Field(&input.Title, validation.Required, validation.RuneLength(1, 150)),
		validation.Field(&input.Company, validation.Required, validation.RuneLength(1, 150)),
		validation.Field(&input.Location, validation.RuneLength(0, 150)),
		validation.Field(&input.Description, validation.RuneLength(0, 5000)),
	)
	if err != nil {
		fields := map[string][]string{}
		var errs validation.Errors
		if errors.As(err, &errs) {
			for field, fieldErr := range errs {
				fields[field] = append(fields[field], fieldErr.Error())
			}
		} else {
			fields["body"] = []string{err.Error()}
		}
		writeInvalid(w, fields)
		return JobInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeInvalid(w http.ResponseWriter, fields map[string][]string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": "The given data was invalid.",
		"errors":  fields,
	})
}
