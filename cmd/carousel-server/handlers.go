package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/tiktok-carousel-service/internal/config"
	"github.com/fpang/tiktok-carousel-service/internal/credentials"
	"github.com/fpang/tiktok-carousel-service/internal/filehandler"
	"github.com/fpang/tiktok-carousel-service/internal/jobs"
	"github.com/fpang/tiktok-carousel-service/internal/orchestrator"
	"github.com/fpang/tiktok-carousel-service/internal/tiktok"
)

// maxMultipartMemory bounds the in-memory portion of a multipart parse;
// larger parts spill to disk.
const maxMultipartMemory = 32 << 20

type server struct {
	cfg      *config.Config
	store    *credentials.Store
	registry *jobs.Registry
	orch     *orchestrator.Orchestrator
	api      *tiktok.Client
}

// postRequestBody is the JSON form of POST /api/posts. Multipart requests
// carry the same fields as form values plus "images" file parts.
type postRequestBody struct {
	Caption      string   `json:"caption"`
	Hashtags     []string `json:"hashtags"`
	Draft        bool     `json:"draft"`
	AccountID    string   `json:"accountId"`
	Async        bool     `json:"async"`
	ImagesBase64 []string `json:"imagesBase64"`
	ImageURLs    []string `json:"imageUrls"`
}

// POST /api/posts
func (s *server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	req, err := s.decodePostRequest(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := validateAccountID(req.AccountID); err != nil {
		filehandler.Cleanup(filePaths(req.Files))
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.store.HasCredentials(req.AccountID) {
		filehandler.Cleanup(filePaths(req.Files))
		httpError(w, http.StatusUnauthorized, fmt.Sprintf("account %s is not authorized", req.AccountID))
		return
	}

	result, err := s.orch.CreateCarousel(r.Context(), req)
	if err != nil {
		httpError(w, statusForError(err), err.Error())
		return
	}

	if req.Async {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"success":    true,
			"jobId":      result.JobID,
			"mediaCount": result.MediaCount,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"postId":     result.PostID,
		"shareUrl":   result.ShareURL,
		"mediaCount": result.MediaCount,
		"draft":      result.Draft,
	})
}

// decodePostRequest parses either a JSON body or a multipart form into an
// orchestration request. Multipart file parts are staged to temp files that
// the orchestrator owns from here on.
func (s *server) decodePostRequest(r *http.Request) (*orchestrator.Request, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			return nil, fmt.Errorf("invalid multipart form: %v", err)
		}
		files, err := stageMultipartImages(r)
		if err != nil {
			return nil, err
		}
		return &orchestrator.Request{
			Files:     files,
			Caption:   r.FormValue("caption"),
			Hashtags:  splitHashtags(r.Form["hashtags"]),
			Draft:     r.FormValue("draft") == "true",
			AccountID: r.FormValue("accountId"),
			Async:     r.FormValue("async") == "true",
		}, nil
	}

	var body postRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %v", err)
	}
	return &orchestrator.Request{
		ImagesBase64: body.ImagesBase64,
		ImageURLs:    body.ImageURLs,
		Caption:      body.Caption,
		Hashtags:     body.Hashtags,
		Draft:        body.Draft,
		AccountID:    body.AccountID,
		Async:        body.Async,
	}, nil
}

// stageMultipartImages copies every "images" part to a temp file. Any
// failure removes the files staged so far.
func stageMultipartImages(r *http.Request) ([]*filehandler.UploadedFile, error) {
	parts := r.MultipartForm.File["images"]
	files := make([]*filehandler.UploadedFile, 0, len(parts))

	cleanup := func() { filehandler.Cleanup(filePaths(files)) }

	for i, part := range parts {
		name := filepath.Base(part.Filename)
		if err := validateFilename(name); err != nil {
			cleanup()
			return nil, fmt.Errorf("image %d: %v", i, err)
		}
		mimeType, ok := filehandler.MIMEFromExtension(name)
		if !ok {
			mimeType = part.Header.Get("Content-Type")
		}
		if err := validateContentType(mimeType); err != nil {
			cleanup()
			return nil, fmt.Errorf("image %d: %v", i, err)
		}

		src, err := part.Open()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("image %d: open upload: %v", i, err)
		}

		path := filepath.Join(os.TempDir(), "carousel-"+uuid.NewString()+strings.ToLower(filepath.Ext(name)))
		dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			src.Close()
			cleanup()
			return nil, fmt.Errorf("image %d: stage upload: %v", i, err)
		}
		size, err := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			os.Remove(path)
			cleanup()
			return nil, fmt.Errorf("image %d: stage upload: %v", i, err)
		}

		files = append(files, &filehandler.UploadedFile{
			Path:     path,
			Filename: name,
			MimeType: mimeType,
			Size:     size,
		})
	}
	return files, nil
}

// splitHashtags accepts both repeated form fields and one comma-separated
// value.
func splitHashtags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

// GET /api/jobs
func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list := s.registry.List()
	out := make([]jobResponse, len(list))
	for i, j := range list {
		out[i] = toJobResponse(j)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": out, "count": len(out)})
}

// handleJobRoutes dispatches GET /api/jobs/{id} and POST /api/jobs/{id}/cancel.
func (s *server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		httpError(w, http.StatusBadRequest, "job id is required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetJob(w, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancelJob(w, id)
	default:
		httpError(w, http.StatusNotFound, "not found")
	}
}

// jobResponse is the wire form of a job. Progress is a pointer so that the
// NaN produced by a zero-image job serializes as null instead of breaking
// the encoder.
type jobResponse struct {
	JobID     string       `json:"jobId"`
	Status    jobs.Status  `json:"status"`
	Progress  *float64     `json:"progress"`
	Details   jobs.Details `json:"details"`
	CreatedAt string       `json:"createdAt"`
	UpdatedAt string       `json:"updatedAt"`
}

func toJobResponse(j *jobs.Job) jobResponse {
	resp := jobResponse{
		JobID:     j.ID,
		Status:    j.Status,
		Details:   j.Details,
		CreatedAt: j.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		UpdatedAt: j.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if !math.IsNaN(j.Progress) {
		p := j.Progress
		resp.Progress = &p
	}
	return resp
}

func (s *server) handleGetJob(w http.ResponseWriter, id string) {
	job := s.registry.GetJob(id)
	if job == nil {
		httpError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	respondJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *server) handleCancelJob(w http.ResponseWriter, id string) {
	err := s.orch.CancelJob(id)
	switch {
	case errors.Is(err, orchestrator.ErrJobNotFound):
		httpError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
	case err != nil:
		httpError(w, http.StatusConflict, err.Error())
	default:
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "jobId": id, "status": jobs.StatusFailed})
	}
}

// GET /api/accounts
//
// Lists configured account IDs. ?creatorInfo=true additionally queries
// TikTok for each account's posting constraints; per-account query failures
// are reported inline rather than failing the whole listing.
func (s *server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	withInfo := r.URL.Query().Get("creatorInfo") == "true"

	type accountEntry struct {
		AccountID   string              `json:"accountId"`
		Authorized  bool                `json:"authorized"`
		CreatorInfo *tiktok.CreatorInfo `json:"creatorInfo,omitempty"`
		Error       string              `json:"error,omitempty"`
	}

	ids := s.store.AccountIDs()
	out := make([]accountEntry, len(ids))
	for i, id := range ids {
		entry := accountEntry{AccountID: id, Authorized: true}
		if withInfo {
			token, err := s.store.GetValidAccessToken(r.Context(), id)
			if err == nil {
				var info *tiktok.CreatorInfo
				info, err = s.api.QueryCreatorInfo(r.Context(), token)
				entry.CreatorInfo = info
			}
			if err != nil {
				log.Warn().Err(err).Str("account", id).Msg("Creator info query failed")
				entry.Error = err.Error()
			}
		}
		out[i] = entry
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": out, "count": len(out)})
}

// GET /healthz
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusForError maps orchestration failures onto HTTP statuses. Request
// shape problems are 400s, credential problems 401s, the unimplemented URL
// source 501, and anything else is treated as an upstream failure.
func statusForError(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrURLSourceNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, credentials.ErrNotAuthorized):
		return http.StatusUnauthorized
	}
	msg := err.Error()
	for _, prefix := range []string{"no images provided", "more than one image source", "invalid post content", "decode base64 image", "a post requires between"} {
		if strings.HasPrefix(msg, prefix) {
			return http.StatusBadRequest
		}
	}
	return http.StatusBadGateway
}

func filePaths(files []*filehandler.UploadedFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}
