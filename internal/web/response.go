package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/auth"
)

// formResult is the answer to every form POST. Exactly one field is set.
type formResult struct {
	Navigate    string           `json:"navigate,omitempty"`
	FieldErrors auth.FieldErrors `json:"field_errors,omitempty"`
	Alert       string           `json:"alert,omitempty"`
}

const maxFormBytes = 64 << 10

func respondNavigate(w http.ResponseWriter, path string) {
	respondJSON(w, http.StatusOK, formResult{Navigate: path})
}

func respondFieldErrors(w http.ResponseWriter, fe auth.FieldErrors) {
	respondJSON(w, http.StatusUnprocessableEntity, formResult{FieldErrors: fe})
}

func respondAlert(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, formResult{Alert: message})
}

// respondActionError turns a store action error into an alert.
func respondActionError(w http.ResponseWriter, err error) {
	if ae, ok := auth.AsError(err); ok {
		status := http.StatusBadRequest
		switch ae.Kind {
		case auth.KindTransport:
			status = http.StatusBadGateway
		case auth.KindNotAuthenticated:
			status = http.StatusUnauthorized
		}
		respondAlert(w, status, ae.Message)
		return
	}
	if errors.Is(err, tokutei.ErrSuperseded) {
		respondAlert(w, http.StatusConflict, msgSuperseded)
		return
	}
	if errors.Is(err, tokutei.ErrStoreClosed) {
		respondAlert(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}
	respondAlert(w, http.StatusInternalServerError, msgUnexpected)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeForm fills dst from a JSON body or from url-encoded form values,
// using dst's json tags for both.
func decodeForm(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			return fmt.Errorf("decode json form: %w", err)
		}
		return nil
	}

	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("parse form: %w", err)
	}
	values := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// safeRedirect accepts only local absolute paths.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}
