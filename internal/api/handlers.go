package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"ragchat/internal/core"
	"ragchat/internal/store"
)

const defaultMaxUploadBytes = 32 << 20

type APIHandler struct {
	chatService    *core.ChatService
	maxUploadBytes int64
}

func NewAPIHandler(cs *core.ChatService, maxUploadBytes int64) *APIHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &APIHandler{chatService: cs, maxUploadBytes: maxUploadBytes}
}

type projectDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type chatDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type messageDTO struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type RespondRequest struct {
	Message string   `json:"message"`
	FileIDs []string `json:"fileIds,omitempty"`
}

type RespondResponse struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) ListProjectsHandler(w http.ResponseWriter, r *http.Request) {
	projects := h.chatService.GetProjects()
	out := make([]projectDTO, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectDTO{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats := h.chatService.GetChats()
	out := make([]chatDTO, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatDTO{ID: c.ID, Title: c.Title, UpdatedAt: c.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	writeJSON(w, http.StatusOK, map[string]any{"messages": toMessageDTOs(h.chatService.GetChatMessages(chatID))})
}

func toMessageDTOs(msgs []store.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{ID: m.ID, Author: m.Author, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return out
}

func (h *APIHandler) UploadFilesHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	uploads := make([]core.Upload, 0, len(headers))
	for _, fh := range headers {
		uploads = append(uploads, core.Upload{
			Filename: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	fileIDs, err := h.chatService.StoreFiles(r.Context(), chatID, uploads)
	if err != nil {
		slog.Error("store files failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadRequest, "failed to read uploaded files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fileIds": fileIDs})
}

func (h *APIHandler) DownloadFileHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	fileID := chi.URLParam(r, "fileID")

	content, ok := h.chatService.GetFile(chatID, fileID)
	if !ok {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(content); err != nil {
		slog.Warn("write file response", "chat_id", chatID, "file_id", fileID, "error", err)
	}
}

func (h *APIHandler) RespondHandler(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message content cannot be empty")
		return
	}

	reply, err := h.chatService.GenerateResponse(r.Context(), chatID, req.Message, req.FileIDs)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrGenerationUnavailable):
			slog.Error("generation failed", "chat_id", chatID, "error", err)
			writeError(w, http.StatusBadGateway, "generation backend unavailable")
		default:
			slog.Error("respond failed", "chat_id", chatID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to generate response")
		}
		return
	}
	writeJSON(w, http.StatusOK, RespondResponse{ID: reply.ID, Content: reply.Content, CreatedAt: reply.CreatedAt})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
