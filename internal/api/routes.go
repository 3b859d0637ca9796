package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(r *mux.Router, h *Handler) {
	sub := r.PathPrefix("/api/v1").Subrouter()

	sub.HandleFunc("/devices", h.CreateDevice).Methods(http.MethodPost)
	sub.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id}", h.GetDevice).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id}", h.DeleteDevice).Methods(http.MethodDelete)

	sub.HandleFunc("/devices/{id}/data", h.IngestData).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id}/data/raw", h.IngestRaw).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{id}/data", h.RangeData).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id}/data/latest", h.LatestData).Methods(http.MethodGet)
	sub.HandleFunc("/devices/{id}/data/stats", h.StatsData).Methods(http.MethodGet)

	sub.HandleFunc("/devices/{id}/retention", h.SetRetention).Methods(http.MethodPut)
	sub.HandleFunc("/devices/{id}/retention", h.RemoveRetention).Methods(http.MethodDelete)

	sub.HandleFunc("/maintenance/reclaim", h.Reclaim).Methods(http.MethodPost)
}
