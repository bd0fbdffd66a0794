package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"motion-extractor/internal/database"
	"motion-extractor/internal/logging"
	"motion-extractor/internal/media"
	"motion-extractor/internal/mediatypes"
	"motion-extractor/internal/pipeline"
	"motion-extractor/internal/runs"

	"github.com/gorilla/mux"
)

// multipart parts beyond this are spilled to temp files by net/http
const maxMemoryForm = 32 << 20

const defaultHistoryLimit = 50

// outputWriteTimeout bounds an output download so a stalled client cannot
// hold the connection forever. The server itself has no write timeout.
const outputWriteTimeout = 10 * time.Minute

var errNotVideo = errors.New("upload is not a video")

// upload is a validated video from a multipart request.
type upload struct {
	name string
	data []byte
}

// readUpload reads the "file" part, accepting only video/* content.
func (h *Handlers) readUpload(w http.ResponseWriter, r *http.Request) (upload, int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(maxMemoryForm); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return upload{}, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds %d MB", h.maxUpload>>20)
		}
		return upload{}, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, http.StatusBadRequest, fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	contentType := mediatypes.Resolve(header.Header.Get("Content-Type"), header.Filename)
	if !mediatypes.IsVideo(contentType) {
		return upload{}, http.StatusUnsupportedMediaType,
			fmt.Errorf("%w: %q has type %q", errNotVideo, header.Filename, contentType)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return upload{}, http.StatusBadRequest, fmt.Errorf("upload %q is empty", header.Filename)
	}

	return upload{name: filepath.Base(header.Filename), data: data}, http.StatusOK, nil
}

// runConfig overlays the optional form fields on the configured defaults.
func (h *Handlers) runConfig(r *http.Request) (pipeline.Config, error) {
	cfg := h.defaults

	if v := r.FormValue("frameOffset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("frameOffset %q is not an integer: %w", v, media.ErrInvalidConfig)
		}
		cfg.FrameOffset = offset
	}
	if v := r.FormValue("brightness"); v != "" {
		brightness, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("brightness %q is not a number: %w", v, media.ErrInvalidConfig)
		}
		cfg.Brightness = brightness
	}

	return cfg, cfg.Validate()
}

// Inspect reports the track information of an uploaded video.
func (h *Handlers) Inspect(w http.ResponseWriter, r *http.Request) {
	up, status, err := h.readUpload(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), status)
		return
	}

	info, err := h.runs.Inspect(r.Context(), up.name, up.data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusOK, struct {
		media.TrackInfo
		TotalFrames int `json:"totalFrames"`
	}{info, info.TotalFrames()})
}

// StartRunResponse is returned by StartRun.
type StartRunResponse struct {
	ID string `json:"id"`
}

// StartRun validates the upload and configuration and starts a background
// run. It answers 202 with the run ID.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	up, status, err := h.readUpload(w, r)
	if err != nil {
		writeJSONError(w, err.Error(), status)
		return
	}

	cfg, err := h.runConfig(r)
	if err != nil {
		writeError(w, err)
		return
	}

	id, err := h.runs.Start(r.Context(), up.name, up.data, cfg)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/runs/"+id)
	writeJSONStatus(w, http.StatusAccepted, StartRunResponse{ID: id})
}

// ListRuns returns recent runs, from the history when one is configured.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSONError(w, fmt.Sprintf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = n
	}

	if h.history == nil {
		list := h.runs.List()
		if len(list) > limit {
			list = list[:limit]
		}
		writeJSONStatus(w, http.StatusOK, list)
		return
	}

	records, err := h.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	// Live progress for runs the manager still holds.
	list := make([]runs.Status, 0, len(records))
	for _, rec := range records {
		if st, err := h.runs.Status(rec.ID); err == nil {
			list = append(list, st)
			continue
		}
		list = append(list, statusFromRecord(rec))
	}
	writeJSONStatus(w, http.StatusOK, list)
}

// GetRun returns the phase and progress of one run. Runs evicted from
// memory are answered from the history.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	st, err := h.runs.Status(id)
	if errors.Is(err, runs.ErrNotFound) && h.history != nil {
		rec, herr := h.history.GetRun(r.Context(), id)
		if herr == nil {
			writeJSONStatus(w, http.StatusOK, statusFromRecord(*rec))
			return
		}
		if !errors.Is(herr, database.ErrRunNotFound) {
			logging.Warn("history lookup for %s failed: %v", id, herr)
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusOK, st)
}

// CancelRun stops a run.
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.runs.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

// GetOutput serves the encoded video of a completed run. It answers 409
// until the run has completed.
func (h *Handlers) GetOutput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	out, err := h.runs.Output(id)
	if err != nil {
		writeError(w, err)
		return
	}

	st, _ := h.runs.Status(id)
	modTime := time.Now()
	if st.FinishedAt != nil {
		modTime = *st.FinishedAt
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(outputWriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		logging.Debug("could not set write deadline for %s: %v", id, err)
	}

	w.Header().Set("Content-Type", out.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", outputFilename(st.SourceName, out.MIMEType)))
	w.Header().Set("X-Frame-Rate", strconv.FormatFloat(out.FrameRate, 'f', -1, 64))
	// Composed frames; the container may repeat some to keep a constant rate.
	w.Header().Set("X-Frame-Count", strconv.Itoa(out.Frames))
	http.ServeContent(w, r, "", modTime, bytes.NewReader(out.Bytes))
}

func outputFilename(source, mimeType string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." {
		base = "output"
	}
	return base + "-motion" + mediatypes.OutputExtension(mimeType)
}

func statusFromRecord(rec database.RunRecord) runs.Status {
	st := runs.Status{
		ID:          rec.ID,
		SourceName:  rec.SourceName,
		FrameOffset: rec.FrameOffset,
		Brightness:  rec.Brightness,
		Phase:       pipeline.Phase(rec.Phase),
		Frames:      rec.Frames,
		Skipped:     rec.Skipped,
		Info: media.TrackInfo{
			Width:     uint(rec.Width),
			Height:    uint(rec.Height),
			FrameRate: rec.FrameRate,
		},
		Error:       rec.Error,
		MIMEType:    rec.MIMEType,
		OutputBytes: int(rec.OutputBytes),
		CreatedAt:   rec.CreatedAt,
		FinishedAt:  rec.FinishedAt,
	}
	if st.Phase == pipeline.PhaseCompleted {
		st.Progress = 100
	}
	return st
}
