package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
	"github.com/Clark-Hu/institution-ratings/internal/ratings"
)

type institutionCreateRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Email string `json:"email"`
}

type institutionCreateResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	MailError string `json:"mail_error,omitempty"`
	NewID     int64  `json:"newId"`
}

type institutionResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type scoresResponse struct {
	VoteCount      int64              `json:"voteCount"`
	AverageScore   *float64           `json:"averageScore"`
	DetailedScores map[string]float64 `json:"detailedScores"`
}

func toInstitutionResponse(inst domain.Institution) institutionResponse {
	return institutionResponse{
		ID:        inst.ID,
		Name:      inst.Name,
		Type:      inst.Type,
		Email:     inst.Email,
		CreatedAt: inst.CreatedAt,
	}
}

func toScoresResponse(sc domain.Scores) scoresResponse {
	detailed := sc.DetailedScores
	if detailed == nil {
		detailed = map[string]float64{}
	}
	return scoresResponse{
		VoteCount:      sc.VoteCount,
		AverageScore:   sc.AverageScore,
		DetailedScores: detailed,
	}
}

func (s *Server) handleRegisterInstitution(w http.ResponseWriter, r *http.Request) {
	var req institutionCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.metrics.registration("invalid")
		s.respondError(w, http.StatusBadRequest, "Please fill in all fields correctly.")
		return
	}

	res, err := s.svc.Register(r.Context(), ratings.RegisterInput{
		Name:  req.Name,
		Type:  req.Type,
		Email: req.Email,
	})
	if err != nil {
		var vErr *ratings.ValidationError
		if errors.As(err, &vErr) {
			s.metrics.registration("invalid")
			s.respondError(w, http.StatusBadRequest, vErr.Message)
			return
		}
		s.metrics.registration("error")
		s.respondError(w, http.StatusInternalServerError, "Unable to register the institution.")
		return
	}

	s.metrics.registration("created")
	s.metrics.notification("registration", res.Notification.Delivered)

	resp := institutionCreateResponse{
		Status:  statusSuccess,
		Message: "Institution added and notification sent.",
		NewID:   res.Institution.ID,
	}
	if !res.Notification.Delivered {
		resp.Status = statusSuccessWithMailError
		resp.Message = "Institution added, but the notification could not be sent."
		resp.MailError = res.Notification.Reason
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetInstitution(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Institution not found.")
		return
	}
	inst, err := s.svc.Institution(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toInstitutionResponse(inst))
}

func (s *Server) handleGetScores(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		s.respondError(w, http.StatusNotFound, "Institution not found.")
		return
	}
	if _, err := s.svc.Institution(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	scores, err := s.svc.Scores(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, toScoresResponse(scores))
}

// respondServiceError maps ratings errors onto status codes.
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	var vErr *ratings.ValidationError
	switch {
	case errors.As(err, &vErr):
		s.respondError(w, http.StatusBadRequest, vErr.Message)
	case errors.Is(err, ratings.ErrInstitutionNotFound):
		s.respondError(w, http.StatusNotFound, "Institution not found.")
	case errors.Is(err, ratings.ErrGuardRejected):
		s.respondError(w, http.StatusForbidden, s.limitMessage())
	case errors.Is(err, ratings.ErrLedgerWriteFailed):
		s.respondError(w, http.StatusInternalServerError, "Your vote could not be recorded.")
	default:
		s.respondError(w, http.StatusInternalServerError, "Service temporarily unavailable.")
	}
}
