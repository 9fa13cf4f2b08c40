package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// accessLog writes one structured line per request.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(apiHandler.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", apiHandler.ListItemsHandler)
			r.Post("/", apiHandler.CreateItemHandler)
			r.Get("/{itemID}", apiHandler.GetItemHandler)
			r.Put("/{itemID}", apiHandler.UpdateItemHandler)
			r.Delete("/{itemID}", apiHandler.DeleteItemHandler)
		})

		r.Post("/images", apiHandler.UploadImageHandler)
		r.Post("/images/analyze", apiHandler.AnalyzeImageHandler)

		r.Route("/outfits", func(r chi.Router) {
			r.Get("/", apiHandler.ListOutfitsHandler)
			r.Post("/generate", apiHandler.GenerateOutfitHandler)
			r.Post("/validate", apiHandler.ValidateOutfitHandler)
			r.Get("/pending/{outfitID}", apiHandler.GetPendingOutfitHandler)
			r.Post("/{outfitID}/vote", apiHandler.VoteOutfitHandler)
			r.Delete("/{outfitID}", apiHandler.DeleteOutfitHandler)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", apiHandler.GetPreferencesHandler)
			r.Delete("/", apiHandler.ClearPreferencesHandler)
			r.Get("/summary", apiHandler.PreferenceSummaryHandler)
			r.Get("/insights", apiHandler.StyleInsightsHandler)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", apiHandler.ListEventsHandler)
			r.Post("/", apiHandler.CreateEventHandler)
			r.Delete("/{eventID}", apiHandler.DeleteEventHandler)
		})

		r.Get("/weather/forecast", apiHandler.ForecastHandler)
		r.Get("/weather/current", apiHandler.CurrentWeatherHandler)
		r.Post("/plans/weekly", apiHandler.WeeklyPlanHandler)

		r.Route("/vision-boards", func(r chi.Router) {
			r.Get("/", apiHandler.ListVisionBoardsHandler)
			r.Post("/", apiHandler.CreateVisionBoardHandler)
			r.Delete("/{boardID}", apiHandler.DeleteVisionBoardHandler)
		})

		r.Get("/settings", apiHandler.GetSettingsHandler)
		r.Put("/settings", apiHandler.SaveSettingsHandler)

		r.Get("/export", apiHandler.ExportHandler)
		r.Post("/import", apiHandler.ImportHandler)
		r.Delete("/data", apiHandler.ClearDataHandler)
	})

	return r
}
