package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"agencyline/internal/config"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/engine/auth"
	"agencyline/internal/storage"
)

const (
	uploadField     = "attachments"
	uploadMaxMemory = 8 << 20
)

// registerUploads mounts the multipart upload endpoint under basePath and the
// public file server for stored references.
func registerUploads(r chi.Router, basePath string, e engine.Engine, store *storage.Disk) {
	r.Post(path.Join(basePath, "uploads"), uploadHandler(e, store))
	r.Get("/"+storage.RefPrefix+"*", func(w http.ResponseWriter, req *http.Request) {
		p, err := store.Path(storage.RefPrefix + chi.URLParam(req, "*"))
		if err != nil {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, p)
	})
}

func uploadHandler(e engine.Engine, store *storage.Disk) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		if err := auth.Require(actor, auth.PermWorkLogCreate); err != nil {
			respondStatusError(w, handleError(ctx, err))
			return
		}
		maxFiles := config.Default().WorkLogs.MaxAttachments
		if e.Config != nil {
			maxFiles = e.Config.WorkLogs.MaxAttachments
		}
		req.Body = http.MaxBytesReader(w, req.Body, int64(maxFiles+1)*store.MaxBytes+uploadMaxMemory)
		if err := req.ParseMultipartForm(uploadMaxMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondStatusError(w, newAPIError(http.StatusRequestEntityTooLarge, "too_large", "upload too large", nil))
				return
			}
			respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "multipart form required", nil))
			return
		}
		defer req.MultipartForm.RemoveAll()
		files := req.MultipartForm.File[uploadField]
		if len(files) == 0 {
			respondStatusError(w, handleError(ctx, domain.Invalid(uploadField, "at least one file is required")))
			return
		}
		if len(files) > maxFiles {
			respondStatusError(w, handleError(ctx, domain.Invalid(uploadField, "at most %d files allowed", maxFiles)))
			return
		}
		refs := make([]string, 0, len(files))
		for _, fh := range files {
			ref, err := saveUpload(ctx, store, fh)
			if err != nil {
				for _, saved := range refs {
					_ = store.Remove(ctx, saved)
				}
				respondStatusError(w, handleError(ctx, err))
				return
			}
			refs = append(refs, ref)
		}
		loggerFrom(ctx).InfoContext(ctx, "attachments uploaded", "user_id", actor.ID, "count", len(refs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(UploadResponse{Files: refs})
	}
}

func saveUpload(ctx context.Context, store *storage.Disk, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	return store.Save(ctx, uploadField, fh.Filename, f)
}
