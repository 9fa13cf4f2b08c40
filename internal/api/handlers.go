package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"closetstudio.app/virtual-closet/internal/core"
	"closetstudio.app/virtual-closet/internal/store"
)

const (
	maxImageBytes = 10 << 20
	// room for the multipart boundaries and headers around the image part
	multipartOverhead = 1 << 20
)

var errImageTooLarge = fmt.Errorf("image is larger than %d MiB", maxImageBytes>>20)

type APIHandler struct {
	closet *core.ClosetService
	log    zerolog.Logger
}

func NewAPIHandler(cs *core.ClosetService, log zerolog.Logger) *APIHandler {
	return &APIHandler{closet: cs, log: log.With().Str("component", "api").Logger()}
}

type errorResponse struct {
	Error      string            `json:"error"`
	Violations []store.Violation `json:"violations,omitempty"`
	Outfit     *store.Outfit     `json:"outfit,omitempty"`
	Have       int               `json:"have,omitempty"`
	Need       int               `json:"need,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error kind to a status. Collaborator failures are
// reported generically; the detail only goes to the log.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		insufficient *core.InsufficientWardrobeError
		parseErr     *core.GenerationParseError
		violation    *core.ConstraintViolationError
	)
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, errImageTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrGenerationInFlight):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrVersionConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "the data changed, please retry"})
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: err.Error(), Have: insufficient.Have, Need: insufficient.Need})
	case errors.Is(err, core.ErrNotConfigured), errors.Is(err, core.ErrInsufficientHistory):
		writeJSON(w, http.StatusPreconditionFailed, errorResponse{Error: err.Error()})
	case errors.As(err, &violation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Violations: violation.Violations, Outfit: violation.Outfit})
	case errors.As(err, &parseErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "the stylist returned an unusable answer, please try again"})
	case errors.Is(err, core.ErrGenerationFailed):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("generation service failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "generation service unavailable"})
	case errors.Is(err, core.ErrForecastFailed):
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("forecast service failed")
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "weather service unavailable"})
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrInvalidInput, err)
	}
	return nil
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Items

func (h *APIHandler) ListItemsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := core.ParseItemFilter(q.Get("type"), q.Get("color"), q.Get("silhouette"), q.Get("season"), q.Get("shoeType"), q.Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.closet.Items(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *APIHandler) GetItemHandler(w http.ResponseWriter, r *http.Request) {
	item, err := h.closet.Item(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *APIHandler) CreateItemHandler(w http.ResponseWriter, r *http.Request) {
	var req store.ClothingItem
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.closet.AddItem(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *APIHandler) UpdateItemHandler(w http.ResponseWriter, r *http.Request) {
	var req store.ClothingItem
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	item, err := h.closet.UpdateItem(r.Context(), chi.URLParam(r, "itemID"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *APIHandler) DeleteItemHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.DeleteItem(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Images

// readImage accepts a multipart "image" field or a raw image body. Bodies
// over the limit fail with errImageTooLarge rather than being cut short.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/") {
		if r.ContentLength > maxImageBytes+multipartOverhead {
			return nil, "", errImageTooLarge
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+multipartOverhead)
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			if bodyTooLarge(err) {
				return nil, "", errImageTooLarge
			}
			return nil, "", fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", fmt.Errorf("%w: missing image field", core.ErrInvalidInput)
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
		if err != nil {
			return nil, "", err
		}
		if len(data) > maxImageBytes {
			return nil, "", errImageTooLarge
		}
		return data, header.Header.Get("Content-Type"), nil
	}

	if r.ContentLength > maxImageBytes {
		return nil, "", errImageTooLarge
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		if bodyTooLarge(err) {
			return nil, "", errImageTooLarge
		}
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", core.ErrInvalidInput)
	}
	return data, ct, nil
}

func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (h *APIHandler) UploadImageHandler(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := readImage(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	analyze, _ := strconv.ParseBool(r.URL.Query().Get("analyze"))
	upload, err := h.closet.UploadImage(r.Context(), data, mimeType, analyze)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}

func (h *APIHandler) AnalyzeImageHandler(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := readImage(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	sug, err := h.closet.AnalyzeImage(r.Context(), data, mimeType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if sug == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

// Outfits

func (h *APIHandler) GenerateOutfitHandler(w http.ResponseWriter, r *http.Request) {
	// An empty body asks for a casual outfit with no weather.
	var req core.OutfitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", core.ErrInvalidInput, err))
		return
	}
	outfit, err := h.closet.GenerateOutfit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outfit)
}

func (h *APIHandler) GetPendingOutfitHandler(w http.ResponseWriter, r *http.Request) {
	outfit, err := h.closet.PendingOutfit(chi.URLParam(r, "outfitID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outfit)
}

type VoteRequest struct {
	Liked *bool `json:"liked"`
}

func (h *APIHandler) VoteOutfitHandler(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Liked == nil {
		h.writeError(w, r, fmt.Errorf("%w: liked is required", core.ErrInvalidInput))
		return
	}
	outfit, err := h.closet.Vote(r.Context(), chi.URLParam(r, "outfitID"), *req.Liked)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outfit)
}

func (h *APIHandler) ListOutfitsHandler(w http.ResponseWriter, r *http.Request) {
	outfits, err := h.closet.Outfits(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outfits)
}

func (h *APIHandler) DeleteOutfitHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.DeleteOutfit(r.Context(), chi.URLParam(r, "outfitID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ValidateOutfitRequest struct {
	ItemIDs []string            `json:"itemIds"`
	Weather core.WeatherContext `json:"weather"`
}

type ValidateOutfitResponse struct {
	Valid      bool              `json:"valid"`
	Violations []store.Violation `json:"violations"`
}

func (h *APIHandler) ValidateOutfitHandler(w http.ResponseWriter, r *http.Request) {
	var req ValidateOutfitRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	violations, err := h.closet.CheckOutfit(r.Context(), req.ItemIDs, req.Weather)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateOutfitResponse{Valid: len(violations) == 0, Violations: violations})
}

// Preferences

func (h *APIHandler) GetPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.closet.Preferences(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *APIHandler) PreferenceSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := h.closet.PreferenceSummary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *APIHandler) StyleInsightsHandler(w http.ResponseWriter, r *http.Request) {
	text, err := h.closet.StyleInsights(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"insights": text})
}

func (h *APIHandler) ClearPreferencesHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.ClearPreferences(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events

func (h *APIHandler) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, err := h.closet.Events(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *APIHandler) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	var req store.CalendarEvent
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	event, err := h.closet.AddEvent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *APIHandler) DeleteEventHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.DeleteEvent(r.Context(), chi.URLParam(r, "eventID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Weather and planning

func (h *APIHandler) ForecastHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.closet.Forecast(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *APIHandler) CurrentWeatherHandler(w http.ResponseWriter, r *http.Request) {
	cw, err := h.closet.CurrentWeather(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cw)
}

func (h *APIHandler) WeeklyPlanHandler(w http.ResponseWriter, r *http.Request) {
	plan, err := h.closet.WeeklyPlan(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// Vision boards

func (h *APIHandler) ListVisionBoardsHandler(w http.ResponseWriter, r *http.Request) {
	boards, err := h.closet.VisionBoards(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

type CreateVisionBoardRequest struct {
	Name string `json:"name"`
}

func (h *APIHandler) CreateVisionBoardHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateVisionBoardRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	board, err := h.closet.CreateVisionBoard(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, board)
}

func (h *APIHandler) DeleteVisionBoardHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.DeleteVisionBoard(r.Context(), chi.URLParam(r, "boardID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings and data

func (h *APIHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.closet.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *APIHandler) SaveSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var req store.Settings
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	settings, err := h.closet.SaveSettings(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	docs, err := h.closet.Export(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="virtual-closet-backup.json"`)
	writeJSON(w, http.StatusOK, docs)
}

func (h *APIHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	var docs map[string]json.RawMessage
	if err := decodeBody(r, &docs); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.closet.Import(r.Context(), docs); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ClearDataHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.closet.Clear(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
