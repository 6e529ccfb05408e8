package media

import (
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/mediastore/service/internal/response"
)

// multipartSlack is headroom on top of the payload cap for multipart
// boundaries and part headers when bounding the request body.
const multipartSlack = 64 << 10

// UploadResult is returned by a successful upload. The application database
// is expected to store URL and nothing else.
type UploadResult struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// ImageInfo is one entry in a listing.
type ImageInfo struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// ListResult is returned by the listing endpoint.
type ListResult struct {
	Count  int         `json:"count"`
	Images []ImageInfo `json:"images"`
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	Detail string `json:"detail"`
}

// Handler holds HTTP handlers for the media endpoints.
type Handler struct {
	store    Store
	baseURL  string
	maxBytes int64
}

// NewHandler creates a media Handler. baseURL is the configured public base;
// generated URLs never derive from the incoming request, so they stay stable
// behind proxies.
func NewHandler(store Store, baseURL string, maxBytes int64) *Handler {
	return &Handler{
		store:    store,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}
}

// Upload godoc
//
//	@Summary		Upload an image
//	@Description	Stores a single multipart file and returns its stable public URL.
//	@Tags			media
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"image file"
//	@Success		200	{object}	response.Envelope{data=UploadResult}
//	@Failure		400	{object}	response.Envelope
//	@Failure		413	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	// Transport-level backstop; the store enforces the exact bound while
	// streaming.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.PayloadTooLarge(w, "payload exceeds maximum upload size")
			return
		}
		response.BadRequest(w, "field 'file' is required")
		return
	}
	defer file.Close()

	obj, err := h.store.Put(r.Context(), file, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		h.storeError(w, err)
		return
	}

	response.OK(w, UploadResult{
		URL:      h.urlFor(obj),
		Filename: obj.Filename(),
	})
}

// Serve godoc
//
//	@Summary		Retrieve an image
//	@Description	Streams the stored object identified by its generated filename.
//	@Tags			media
//	@Produce		octet-stream
//	@Param			filename	path	string	true	"object filename ({id}{ext})"
//	@Success		200	{file}		binary
//	@Failure		404	{object}	response.Envelope
//	@Router			/media/{filename} [get]
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	id, ext := splitName(chi.URLParam(r, "filename"))

	rc, obj, err := h.store.Get(r.Context(), id, ext)
	if err != nil {
		h.storeError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; nothing to send but a log line.
		logrus.WithError(err).WithField("object", obj.Filename()).Warn("aborted while streaming object")
	}
}

// List godoc
//
//	@Summary		List stored images
//	@Tags			media
//	@Produce		json
//	@Success		200	{object}	response.Envelope{data=ListResult}
//	@Failure		500	{object}	response.Envelope
//	@Router			/media [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	objects, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, err)
		return
	}

	images := make([]ImageInfo, 0, len(objects))
	for _, obj := range objects {
		images = append(images, ImageInfo{
			Filename: obj.Filename(),
			URL:      h.urlFor(obj),
		})
	}
	response.OK(w, ListResult{Count: len(images), Images: images})
}

// Delete godoc
//
//	@Summary		Delete an image
//	@Tags			media
//	@Produce		json
//	@Param			filename	path	string	true	"object filename ({id}{ext})"
//	@Success		200	{object}	response.Envelope{data=DeleteResult}
//	@Failure		404	{object}	response.Envelope
//	@Failure		500	{object}	response.Envelope
//	@Router			/media/{filename} [delete]
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	id, ext := splitName(name)

	if err := h.store.Delete(r.Context(), id, ext); err != nil {
		h.storeError(w, err)
		return
	}
	response.OK(w, DeleteResult{Detail: "deleted " + name})
}

// storeError maps the store's error taxonomy onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(w, "object not found")
	case errors.Is(err, ErrTooLarge):
		response.PayloadTooLarge(w, "payload exceeds maximum upload size")
	case errors.Is(err, ErrInvalidInput):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrStorageFull):
		logrus.WithError(err).Error("storage medium full")
		response.InternalError(w)
	default:
		logrus.WithError(err).Error("store operation failed")
		response.InternalError(w)
	}
}

func (h *Handler) urlFor(obj *Object) string {
	return h.baseURL + "/media/" + obj.Filename()
}

// splitName splits a public filename into id and extension. Validation
// happens in the store, which rejects malformed pairs as not found.
func splitName(name string) (id, ext string) {
	ext = path.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}
