package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Clark-Hu/institution-ratings/internal/ratings"
)

type voteRequest struct {
	InstitutionID int64          `json:"institution_id"`
	Ratings       map[string]int `json:"ratings"`
	Comment       *string        `json:"comment"`
}

type voteResponse struct {
	Status    string         `json:"status"`
	Scores    scoresResponse `json:"scores"`
	MailError string         `json:"mail_error,omitempty"`
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.metrics.vote("invalid")
		s.respondError(w, http.StatusBadRequest, "Invalid data.")
		return
	}

	res, err := s.svc.SubmitVote(r.Context(), ratings.VoteInput{
		InstitutionID: req.InstitutionID,
		Ratings:       req.Ratings,
		Comment:       req.Comment,
		ClientAddress: clientAddress(r),
	})
	if err != nil {
		s.metrics.vote(voteOutcome(err))
		s.respondServiceError(w, err)
		return
	}

	s.metrics.vote("accepted")
	s.metrics.notification("vote", res.Notification.Delivered)

	resp := voteResponse{
		Status: statusSuccess,
		Scores: toScoresResponse(res.Scores),
	}
	if !res.Notification.Delivered {
		resp.MailError = res.Notification.Reason
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) limitMessage() string {
	return fmt.Sprintf("You have reached the limit of %d allowed reviews.", s.svc.MaxVotesPerClient())
}

func voteOutcome(err error) string {
	var vErr *ratings.ValidationError
	switch {
	case errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, ratings.ErrGuardRejected):
		return "rejected"
	case errors.Is(err, ratings.ErrInstitutionNotFound):
		return "not_found"
	default:
		return "error"
	}
}
