package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codesync/codesync/internal/db"
	"github.com/codesync/codesync/internal/language"
	"github.com/codesync/codesync/internal/room"
	"github.com/codesync/codesync/internal/runner"
	"github.com/codesync/codesync/internal/workspace"
)

type API struct {
	coord    *room.Coordinator
	store    *workspace.Store
	runner   *runner.Runner
	database *db.Database
	logger   *zap.Logger
}

func New(coord *room.Coordinator, store *workspace.Store, run *runner.Runner, database *db.Database, logger *zap.Logger) *API {
	return &API{
		coord:    coord,
		store:    store,
		runner:   run,
		database: database,
		logger:   logger,
	}
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Client went away mid-encode; nothing left to do.
		return
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// storeError maps workspace sentinel errors onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrDenied):
		errorResponse(w, http.StatusForbidden, "Path not allowed")
	case errors.Is(err, workspace.ErrTooLarge):
		errorResponse(w, http.StatusRequestEntityTooLarge, "File too large")
	case errors.Is(err, workspace.ErrConflict):
		errorResponse(w, http.StatusConflict, "Target already exists")
	case errors.Is(err, workspace.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "File not found")
	default:
		errorResponse(w, http.StatusInternalServerError, "Operation failed")
	}
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":    a.coord.RoomCount(),
		"active_sessions": a.coord.SessionCount(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		if dbStats, err := a.database.Stats(); err == nil {
			stats["settings_count"] = dbStats["settings_count"]
			stats["snippet_count"] = dbStats["snippet_count"]
		}
	}

	jsonResponse(w, http.StatusOK, stats)
}

// File handlers

// FilesRouter serves /api/files/{room} (listing) and
// /api/files/{room}/{path} (content).
func (a *API) FilesRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/files/")
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	roomID, filePath, hasFile := strings.Cut(rest, "/")
	if !hasFile {
		files, err := a.store.List(roomID)
		if err != nil {
			storeError(w, err)
			return
		}
		jsonResponse(w, http.StatusOK, files)
		return
	}

	content, err := a.store.Read(roomID, filePath)
	if err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"content": content})
}

type fileRequest struct {
	RoomID   string `json:"room_id"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Dirname  string `json:"dirname"`
	OldName  string `json:"old_name"`
	NewName  string `json:"new_name"`
}

func (a *API) decodeFileRequest(w http.ResponseWriter, r *http.Request) (fileRequest, bool) {
	var req fileRequest
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.RoomID == "" {
		errorResponse(w, http.StatusBadRequest, "room_id is required")
		return req, false
	}
	return req, true
}

func (a *API) SaveFileHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := a.store.Write(req.RoomID, req.Filename, req.Content); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) CreateFileHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeFileRequest(w, r)
	if !ok {
		return
	}

	content := req.Content
	if content == "" && req.Language != "" {
		content = language.Template(req.Language)
	}

	if err := a.store.Create(req.RoomID, req.Filename, content); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]bool{"success": true})
}

func (a *API) CreateDirHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := a.store.Mkdir(req.RoomID, req.Dirname); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]bool{"success": true})
}

func (a *API) DeleteFileHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := a.store.Delete(req.RoomID, req.Filename); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) RenameFileHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeFileRequest(w, r)
	if !ok {
		return
	}
	if err := a.store.Rename(req.RoomID, req.OldName, req.NewName); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// Execution handler

func (a *API) RunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req runner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Language == "" {
		req.Language = "python"
	}

	result := a.runner.Run(context.Background(), req)
	jsonResponse(w, http.StatusOK, result)
}

// Language handler

type languageResponse struct {
	Name       string `json:"name"`
	Extension  string `json:"extension"`
	EditorMode string `json:"ace_mode"`
	Executable bool   `json:"executable"`
}

func (a *API) LanguagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	profiles := language.All()
	response := make([]languageResponse, len(profiles))
	for i, p := range profiles {
		response[i] = languageResponse{
			Name:       p.Name,
			Extension:  p.Extension,
			EditorMode: p.EditorMode,
			Executable: p.Executable(),
		}
	}
	jsonResponse(w, http.StatusOK, response)
}

// Settings handlers

// SettingsRouter serves GET and POST on /api/settings/{room}.
func (a *API) SettingsRouter(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/settings/"), "/")
	if roomID == "" {
		errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := a.database.GetSettings(roomID)
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		jsonResponse(w, http.StatusOK, settings)

	case http.MethodPost:
		var settings db.Settings
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if err := a.database.SaveSettings(roomID, settings); err != nil {
			errorResponse(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
		jsonResponse(w, http.StatusOK, map[string]bool{"success": true})

	default:
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// Snippet handler

func (a *API) SnippetsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	lang := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/snippets/"), "/")
	if lang == "" {
		errorResponse(w, http.StatusBadRequest, "Language is required")
		return
	}

	snippets, err := a.database.GetSnippets(lang)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "Failed to load snippets")
		return
	}
	jsonResponse(w, http.StatusOK, snippets)
}
