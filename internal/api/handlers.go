package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"energo/internal/ingest"
	"energo/internal/models"
	"energo/internal/query"
	"energo/internal/regdecode"
	"energo/internal/repo"
	"energo/internal/tstore"
)

// Handler — HTTP-поверхность ядра: реестр устройств, приём показаний,
// чтение рядов, обслуживание.
type Handler struct {
	devices *repo.DeviceStore
	coord   *ingest.Coordinator
	query   *query.Service
	tsm     *tstore.Manager
}

func New(devices *repo.DeviceStore, coord *ingest.Coordinator, qs *query.Service, tsm *tstore.Manager) *Handler {
	return &Handler{devices: devices, coord: coord, query: qs, tsm: tsm}
}

// writeError переводит ошибки ядра в HTTP-классы: валидация
// и декодирование — 400, нет объекта — 404, доступ — 403, коллизия —
// 409, всё остальное — 500 (детали в логах, не в ответе).
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, query.ErrNoData):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, ingest.ErrPermission):
		models.WriteProblem(w, http.StatusForbidden, "Forbidden", err.Error(), nil)
	case errors.Is(err, repo.ErrExists), errors.Is(err, repo.ErrNameCollision):
		models.WriteProblem(w, http.StatusConflict, "Conflict", err.Error(), nil)
	case errors.Is(err, repo.ErrBadRegisterMap),
		errors.Is(err, ingest.ErrEmptyReading),
		errors.Is(err, ingest.ErrUnknownField),
		errors.Is(err, regdecode.ErrWordCount),
		errors.Is(err, regdecode.ErrUnknownType),
		errors.Is(err, regdecode.ErrNotNumeric):
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusInternalServerError, "Storage Error",
			"operation failed, see server logs", nil)
	}
}

// -------- Реестр устройств --------

type createDeviceRequest struct {
	DeviceID        string                   `json:"device_id"`
	Name            string                   `json:"name"`
	Type            string                   `json:"type"`
	Address         string                   `json:"address"`
	RegisterMap     []models.RegisterMapping `json:"register_map"`
	IncludeInTotals bool                     `json:"include_in_totals"`
}

// POST /api/v1/devices
func (h *Handler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", "bad json body", nil)
		return
	}
	d, err := h.devices.Create(r.Context(), repo.CreateInput{
		DeviceID:        req.DeviceID,
		Name:            req.Name,
		Type:            req.Type,
		Address:         req.Address,
		RegisterMap:     req.RegisterMap,
		IncludeInTotals: req.IncludeInTotals,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, d)
}

// GET /api/v1/devices
func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.devices.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, devices)
}

// GET /api/v1/devices/{id}
func (h *Handler) GetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.devices.GetByDeviceID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, d)
}

// DELETE /api/v1/devices/{id}
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.devices.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// -------- Приём показаний --------

// POST /api/v1/devices/{id}/data
// Тело: { "timestamp"?: ISO-8601, "<колонка>": число, ... }
func (h *Handler) IngestData(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", "bad json body", nil)
		return
	}
	reading, err := readingFromBody(body)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", err.Error(), nil)
		return
	}
	res, err := h.coord.Ingest(r.Context(), mux.Vars(r)["id"], *reading)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, res)
}

// POST /api/v1/devices/{id}/data/raw
// Тело: { "registers": { "<параметр>": [слова uint16...] } } —
// декодирование по регистровой карте устройства, дальше обычный путь.
func (h *Handler) IngestRaw(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Registers map[string][]uint16 `json:"registers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", "bad json body", nil)
		return
	}
	if len(body.Registers) == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", "registers are required", nil)
		return
	}
	res, err := h.coord.IngestRaw(r.Context(), mux.Vars(r)["id"], body.Registers)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, res)
}

func readingFromBody(body map[string]any) (*ingest.Reading, error) {
	r := ingest.Reading{Fields: make(map[string]float64, len(body))}
	for k, v := range body {
		if k == "timestamp" {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("timestamp must be an ISO-8601 string")
			}
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp %q: %v", s, err)
			}
			r.Timestamp = &ts
			continue
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("field %q must be a number", k)
		}
		r.Fields[k] = f
	}
	return &r, nil
}

// -------- Чтение рядов --------

// GET /api/v1/devices/{id}/data?startTime&endTime&limit&offset
func (h *Handler) RangeData(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := h.devices.GetByDeviceID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	opts, err := rangeOptsFromQuery(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", err.Error(), nil)
		return
	}
	rows, err := h.query.Range(r.Context(), deviceID, *opts)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"count":     len(rows),
		"data":      rows,
	})
}

// GET /api/v1/devices/{id}/data/latest
func (h *Handler) LatestData(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := h.devices.GetByDeviceID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	row, err := h.query.Latest(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, row)
}

// GET /api/v1/devices/{id}/data/stats?startTime&endTime
func (h *Handler) StatsData(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := h.devices.GetByDeviceID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	start, end, err := timeBoundsFromQuery(r)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", err.Error(), nil)
		return
	}
	st, err := h.query.Stats(r.Context(), deviceID, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, st)
}

func rangeOptsFromQuery(r *http.Request) (*query.RangeOpts, error) {
	start, end, err := timeBoundsFromQuery(r)
	if err != nil {
		return nil, err
	}
	opts := query.RangeOpts{Start: start, End: end}
	q := r.URL.Query()
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad limit %q", s)
		}
		opts.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad offset %q", s)
		}
		opts.Offset = n
	}
	return &opts, nil
}

func timeBoundsFromQuery(r *http.Request) (start, end *time.Time, err error) {
	q := r.URL.Query()
	if s := q.Get("startTime"); s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return nil, nil, fmt.Errorf("bad startTime %q: %v", s, perr)
		}
		start = &t
	}
	if s := q.Get("endTime"); s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return nil, nil, fmt.Errorf("bad endTime %q: %v", s, perr)
		}
		end = &t
	}
	return start, end, nil
}

// -------- Политики и обслуживание --------

// PUT /api/v1/devices/{id}/retention  { "days": 30 }
func (h *Handler) SetRetention(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := h.devices.GetByDeviceID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Days <= 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Validation Error", "days must be a positive integer", nil)
		return
	}
	// смена периода = снять и поставить заново (add с if_not_exists
	// не перепишет существующую задачу)
	if err := h.tsm.RemoveRetention(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.tsm.SetRetention(r.Context(), deviceID, body.Days); err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]int{"days": body.Days})
}

// DELETE /api/v1/devices/{id}/retention
func (h *Handler) RemoveRetention(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	if _, err := h.devices.GetByDeviceID(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	if err := h.tsm.RemoveRetention(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/maintenance/reclaim — ручной запуск обхода сирот.
func (h *Handler) Reclaim(w http.ResponseWriter, r *http.Request) {
	ids, err := h.devices.LiveIDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dropped, err := h.tsm.ReclaimOrphans(r.Context(), ids)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}
