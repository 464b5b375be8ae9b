package web

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/tokutei-learning/tokutei/auth"
	"github.com/tokutei-learning/tokutei/middleware"
)

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	store, ok := s.checkedStore(w, r)
	if !ok {
		return
	}
	s.render(w, http.StatusOK, "home", map[string]any{
		"Title": "ホーム",
		"State": store.State(),
	})
}

func (s *Server) handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusForbidden, "unauthorized", map[string]any{
		"Title": "アクセス権限がありません",
		"State": store.State(),
	})
}

// guardedPage renders name with the state the guard admitted the request with.
func (s *Server) guardedPage(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := middleware.StateFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		s.render(w, http.StatusOK, name, map[string]any{
			"Title": title,
			"State": st,
		})
	}
}

func (s *Server) handleStudy(w http.ResponseWriter, r *http.Request) {
	s.guardedPage("study", "学習")(w, r)
}

func (s *Server) handlePractice(w http.ResponseWriter, r *http.Request) {
	s.guardedPage("practice", "練習問題")(w, r)
}

func (s *Server) handleTeacher(w http.ResponseWriter, r *http.Request) {
	s.guardedPage("teacher", "講師ダッシュボード")(w, r)
}

func (s *Server) handleProfilePage(w http.ResponseWriter, r *http.Request) {
	s.guardedPage("profile", "プロフィール")(w, r)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	store, ok := s.formStore(w, r)
	if !ok {
		return
	}
	var form auth.ProfileForm
	if err := decodeForm(w, r, &form); err != nil {
		respondAlert(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if fe := auth.Validate(form); fe != nil {
		respondFieldErrors(w, fe)
		return
	}
	if err := store.UpdateProfile(r.Context(), form.Update()); err != nil {
		respondActionError(w, err)
		return
	}
	respondNavigate(w, "/profile")
}

type healthResponse struct {
	Status    string `json:"status"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Stores    int    `json:"stores"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Stores:    s.engine.Len(),
	}
	status := http.StatusOK
	if err := s.engine.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
