package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/signer"
	"github.com/bleepstore/bleepdrive/internal/storage"
)

// ErrorBody is the JSON error envelope returned by /files routes.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// PutBody is returned after a successful upload.
type PutBody struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// writeError writes err as JSON with the status of its kind.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := ErrorBody{Code: string(drverr.KindOf(err)), Message: err.Error()}
	var de *drverr.Error
	if errors.As(err, &de) {
		body.Path = de.Path
	}
	if status == 0 {
		status = drverr.HTTPStatus(err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	json.NewEncoder(w).Encode(body)
}

// fileTarget resolves the disk and location of a /files request and checks
// its signature. Only public disks skip the check. It writes the error
// response and returns false on failure.
func (s *Server) fileTarget(w http.ResponseWriter, r *http.Request) (storage.Storage, string, bool) {
	diskName := chi.URLParam(r, "disk")
	location := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(location); err == nil {
			location = unescaped
		}
	}
	if location == "" {
		writeError(w, r, http.StatusNotFound, drverr.FileNotFound("", "", errors.New("empty location")))
		return nil, "", false
	}

	disk, err := s.drive.Disk(diskName)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err)
		return nil, "", false
	}

	if s.cfg.Drive.Disks[diskName].Public {
		return disk, location, true
	}
	v, ok := disk.(storage.SignedURLVerifier)
	if !ok {
		writeError(w, r, 0, drverr.PermissionMissing(r.Method, location, "NotPublic", errors.New("disk is not public")))
		return nil, "", false
	}
	if err := v.VerifySignedURL(r.Method, location, r.URL.Query()); err != nil {
		if drverr.KindOf(err) == drverr.KindMethodNotSupported {
			err = drverr.PermissionMissing(r.Method, location, "NotPublic", errors.New("disk is neither signed nor public"))
		}
		writeError(w, r, 0, err)
		return nil, "", false
	}
	return disk, location, true
}

// setFileHeaders sets the entity headers of a file response. A signed URL
// can pin Content-Type and Content-Disposition.
func setFileHeaders(w http.ResponseWriter, r *http.Request, location string, st *storage.StatResponse) {
	q := r.URL.Query()
	ct := q.Get(signer.ParamContentType)
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(location))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	if cd := q.Get(signer.ParamContentDisposition); cd != "" {
		w.Header().Set("Content-Disposition", cd)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size, 10))
	if !st.Modified.IsZero() {
		w.Header().Set("Last-Modified", st.Modified.UTC().Format(http.TimeFormat))
	}
}

func (s *Server) headFile(w http.ResponseWriter, r *http.Request) {
	disk, location, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	st, err := disk.GetStat(r.Context(), location)
	if err != nil {
		writeError(w, r, 0, err)
		return
	}
	setFileHeaders(w, r, location, st)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	disk, location, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	st, err := disk.GetStat(ctx, location)
	if err != nil {
		writeError(w, r, 0, err)
		return
	}
	body, err := disk.GetStream(ctx, location)
	if err != nil {
		writeError(w, r, 0, err)
		return
	}
	defer body.Close()

	setFileHeaders(w, r, location, st)
	w.WriteHeader(http.StatusOK)
	// Headers are gone once streaming starts; a failed copy can only be logged.
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("streaming file failed", "disk", chi.URLParam(r, "disk"), "path", location, "error", err)
	}
}

func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.Writable {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, http.StatusMethodNotAllowed, drverr.MethodNotSupported("put", "gateway"))
		return
	}
	disk, location, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	contentType := r.Header.Get("Content-Type")
	if signed := r.URL.Query().Get(signer.ParamContentType); signed != "" && signed != contentType {
		writeError(w, r, 0, drverr.InvalidSignature(location, "content type does not match signed value"))
		return
	}

	opts := &storage.PutOptions{ContentType: contentType, ContentLength: r.ContentLength, CacheControl: r.Header.Get("Cache-Control")}
	if _, err := disk.Put(r.Context(), location, r.Body, opts); err != nil {
		writeError(w, r, 0, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(PutBody{Path: location, URL: disk.GetURL(location)})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.Writable {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, http.StatusMethodNotAllowed, drverr.MethodNotSupported("delete", "gateway"))
		return
	}
	disk, location, ok := s.fileTarget(w, r)
	if !ok {
		return
	}
	if _, err := disk.Delete(r.Context(), location, nil); err != nil {
		writeError(w, r, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
