package www

import (
	"encoding/json"
	"net/http"
	"strconv"

	"fieldgate/config"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func queryInt(r *http.Request, name string, def int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// --- Auth ---

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := db.GetAdminUser(req.Username)
	if err != nil || !checkPassword(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.sessions.setUser(w, r, user.Username)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiSetupRequired(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	exists, err := db.AdminUserExists()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]bool{"setup_required": !exists})
}

func (h *Handlers) apiSetup(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	exists, err := db.AdminUserExists()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if exists {
		writeError(w, http.StatusConflict, "already set up")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "username required and password must be at least 8 characters")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := db.CreateAdminUser(req.Username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sessions.setUser(w, r, req.Username)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiChangePassword(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	username, _ := h.sessions.getUser(r)
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := db.UpdateAdminPassword(username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Status and queue ---

func (h *Handlers) apiStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Status())
}

func (h *Handlers) apiQueue(w http.ResponseWriter, r *http.Request) {
	q := h.engine.Queue()
	depth, err := q.Depth()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	lines, err := q.Peek(queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"depth": depth,
		"bytes": q.Size(),
		"lines": lines,
	})
}

// --- History ---

func (h *Handlers) apiNodeHistory(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	rows, err := db.ListNodeHistory(queryInt(r, "addr", 0), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, rows)
}

func (h *Handlers) apiStatusHistory(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	rows, err := db.ListStatusHistory(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, rows)
}

func (h *Handlers) apiSyncLog(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	rows, err := db.ListSyncLog(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, rows)
}

func (h *Handlers) apiDrainLog(w http.ResponseWriter, r *http.Request) {
	db := h.engine.DB()
	if db == nil {
		writeError(w, http.StatusServiceUnavailable, "history store unavailable")
		return
	}
	rows, err := db.ListDrainLog(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, rows)
}

// --- Config ---

func (h *Handlers) apiGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.engine.AppConfig()
	cfg.Lock()
	defer cfg.Unlock()
	nodes := make([]int, len(cfg.Nodes))
	for i, a := range cfg.Nodes {
		nodes[i] = int(a)
	}
	writeJSON(w, map[string]interface{}{
		"serial_number":         cfg.SerialNumber,
		"radio_address":         cfg.RadioAddress,
		"project_tag":           cfg.ProjectTag,
		"nodes":                 nodes,
		"measure_interval_min":  cfg.MeasureIntervalMin,
		"upload_interval_hours": cfg.UploadIntervalHours,
		"upload_minute_offset":  cfg.UploadMinuteOffset,
		"time_sync_hour":        cfg.TimeSyncHour,
		"receiver_only":         cfg.ReceiverOnly,
		"battery_cutoff_volts":  cfg.BatteryCutoffVolts,
	})
}

func (h *Handlers) apiUpdateRoster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nodes []int `json:"nodes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	nodes := make([]byte, 0, len(req.Nodes))
	for _, n := range req.Nodes {
		if n <= 0 || n > 255 {
			writeError(w, http.StatusBadRequest, "node addresses must be 1-255")
			return
		}
		nodes = append(nodes, byte(n))
	}
	cfg := h.engine.AppConfig()
	cfg.Lock()
	err := cfg.SetNodes(nodes)
	cfg.Unlock()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := cfg.Save(h.engine.ConfigPath()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) apiUpdateIntervals(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MeasureIntervalMin  *int `json:"measure_interval_min"`
		UploadIntervalHours *int `json:"upload_interval_hours"`
		UploadMinuteOffset  *int `json:"upload_minute_offset"`
		TimeSyncHour        *int `json:"time_sync_hour"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := h.engine.AppConfig()
	cfg.Lock()
	old := config.Config{
		MeasureIntervalMin:  cfg.MeasureIntervalMin,
		UploadIntervalHours: cfg.UploadIntervalHours,
		UploadMinuteOffset:  cfg.UploadMinuteOffset,
		TimeSyncHour:        cfg.TimeSyncHour,
	}
	if req.MeasureIntervalMin != nil {
		cfg.MeasureIntervalMin = *req.MeasureIntervalMin
	}
	if req.UploadIntervalHours != nil {
		cfg.UploadIntervalHours = *req.UploadIntervalHours
	}
	if req.UploadMinuteOffset != nil {
		cfg.UploadMinuteOffset = *req.UploadMinuteOffset
	}
	if req.TimeSyncHour != nil {
		cfg.TimeSyncHour = *req.TimeSyncHour
	}
	if err := cfg.Validate(); err != nil {
		cfg.MeasureIntervalMin = old.MeasureIntervalMin
		cfg.UploadIntervalHours = old.UploadIntervalHours
		cfg.UploadMinuteOffset = old.UploadMinuteOffset
		cfg.TimeSyncHour = old.TimeSyncHour
		cfg.Unlock()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.Unlock()

	if err := cfg.Save(h.engine.ConfigPath()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Manual triggers ---

func (h *Handlers) apiTriggerAcquisition(w http.ResponseWriter, r *http.Request) {
	if !h.engine.TriggerAcquisition() {
		writeError(w, http.StatusConflict, "scheduler busy")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}

func (h *Handlers) apiTriggerDrain(w http.ResponseWriter, r *http.Request) {
	if !h.engine.TriggerDrain() {
		writeError(w, http.StatusConflict, "scheduler busy")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
}
