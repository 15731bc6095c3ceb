package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ratlocker/ratlocker/internal/store"
)

// multipartField is the form field name clients upload files under.
const multipartField = "files"

// handleFiles serves the public file listing.
//
//	GET /files -> [{"name":..., "addedBy":..., "downloads": N}, ...]
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	files, err := s.files.ListFiles()
	if err != nil {
		log.Error().Err(err).Msg("failed to list files")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(files)
}

// handleUpload accepts a multipart upload of one or more files. The upload key
// has already been consumed by withUploadKey. Parts are processed in order and
// the request aborts on the first failing part; files stored before the
// failure stay stored.
//
//	POST /upload (Upload-Key: <token>, multipart field "files")
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner, _ := r.Context().Value(ownerKey).(string)

	// The per-file limit alone does not bound the request: non-matching
	// parts get drained too. Cap the whole body at the worst legitimate
	// upload plus room for multipart framing.
	if limit := s.cfg.MaxFileSize.Bytes(); limit > 0 {
		maxBody := limit*int64(s.cfg.MaxFilesPerUpload) + 64<<10
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.jsonError(w, "expected multipart form data", http.StatusBadRequest)
		return
	}

	var stored []string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isBodyTooLarge(err) {
				s.uploadError(w, "request body too large", http.StatusRequestEntityTooLarge, "too_large")
				return
			}
			s.uploadError(w, "malformed multipart body", http.StatusBadRequest, "multipart")
			return
		}

		if part.FormName() != multipartField || part.FileName() == "" {
			if err := part.Close(); err != nil {
				if isBodyTooLarge(err) {
					s.uploadError(w, "request body too large", http.StatusRequestEntityTooLarge, "too_large")
					return
				}
				s.uploadError(w, "malformed multipart body", http.StatusBadRequest, "multipart")
				return
			}
			continue
		}

		if len(stored) >= s.cfg.MaxFilesPerUpload {
			_ = part.Close()
			s.uploadError(w, fmt.Sprintf("too many files, limit is %d per upload", s.cfg.MaxFilesPerUpload), http.StatusBadRequest, "too_many_files")
			return
		}

		name := filepath.Base(part.FileName())
		cr := &countingReader{r: part}
		rec, err := s.files.AddFile(name, owner, cr)
		_ = part.Close()
		if err != nil {
			switch {
			case errors.Is(err, store.ErrFileExists):
				s.uploadError(w, fmt.Sprintf("file %q already exists", name), http.StatusConflict, "conflict")
			case errors.Is(err, store.ErrSizeExceeded):
				s.uploadError(w, fmt.Sprintf("file %q exceeds the size limit", name), http.StatusRequestEntityTooLarge, "too_large")
			case isBodyTooLarge(err):
				s.uploadError(w, "request body too large", http.StatusRequestEntityTooLarge, "too_large")
			default:
				log.Error().Err(err).Str("file", name).Msg("upload failed")
				s.uploadError(w, "failed to store file", http.StatusInternalServerError, "storage")
			}
			return
		}

		stored = append(stored, rec.Name)
		if s.metrics != nil {
			s.metrics.UploadsTotal.Inc()
			s.metrics.UploadBytes.Add(float64(cr.n))
			s.metrics.FilesRegistered.Set(float64(s.files.Count()))
		}
		log.Info().Str("file", rec.Name).Str("owner", owner).Msg("file uploaded")
	}

	if len(stored) == 0 {
		s.uploadError(w, "no files in request", http.StatusBadRequest, "empty")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"message": "files uploaded",
		"files":   stored,
	})
}

// isBodyTooLarge reports whether err came from the MaxBytesReader cap.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// uploadError writes an error response and bumps the failure counter. The
// key use spent by the middleware is not refunded, so make the cost visible.
func (s *Server) uploadError(w http.ResponseWriter, msg string, code int, reason string) {
	if s.metrics != nil {
		s.metrics.UploadErrors.WithLabelValues(reason).Inc()
	}
	log.Warn().Str("reason", reason).Int("status", code).Msg("upload failed after key use was spent")
	s.jsonError(w, msg, code)
}

// handleDownload records a download event and streams the file's bytes.
// The event is appended before the stream starts, so an aborted transfer
// still counts as a download.
//
//	GET /download?file=<name>
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.cfg.DownloadIsPublic() && !s.requireReadKey(w, r) {
		return
	}

	name := r.URL.Query().Get("file")

	ev := store.DownloadEvent{
		IP:        clientIP(r),
		Timestamp: time.Now().UTC(),
		UserAgent: r.UserAgent(),
	}
	if err := s.files.RecordDownload(name, ev); err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			s.jsonError(w, "file not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("file", name).Msg("failed to record download")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	f, rec, err := s.files.OpenFile(name)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			s.jsonError(w, "file not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("file", name).Msg("failed to open file")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = f.Close() }()

	ctype := mime.TypeByExtension(filepath.Ext(rec.Name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))

	n, err := io.Copy(w, f)
	if err != nil {
		// Headers are gone; all we can do is log the broken transfer.
		log.Warn().Err(err).Str("file", rec.Name).Int64("bytes", n).Msg("download aborted")
	}
	if s.metrics != nil {
		s.metrics.DownloadsTotal.Inc()
		s.metrics.DownloadBytes.Add(float64(n))
	}
	log.Info().Str("file", rec.Name).Str("ip", ev.IP).Int64("bytes", n).Msg("file downloaded")
}

// fileDetails is the /info response: the full metadata record plus a
// ready-to-use download link.
type fileDetails struct {
	Name         string                `json:"name"`
	AddedBy      string                `json:"addedBy"`
	Downloads    []store.DownloadEvent `json:"downloads"`
	DownloadLink string                `json:"downloadLink"`
}

// handleInfo serves the full metadata record for one file. Requires a valid
// key but does not consume a use.
//
//	GET /info?file=<name>&key=<token>
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.requireReadKey(w, r) {
		return
	}

	name := r.URL.Query().Get("file")
	rec, err := s.files.GetFile(name)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			s.jsonError(w, "file not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("file", name).Msg("failed to read record")
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	link := fmt.Sprintf("%s://%s/download?file=%s", scheme, r.Host, url.QueryEscape(rec.Name))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fileDetails{
		Name:         rec.Name,
		AddedBy:      rec.AddedBy,
		Downloads:    rec.Downloads,
		DownloadLink: link,
	})
}

// countingReader counts bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// clientIP extracts the remote IP without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
