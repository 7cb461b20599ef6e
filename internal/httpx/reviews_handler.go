package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/agrimarket/internal/apperr"
	"github.com/ariefcatur/agrimarket/internal/reviews"
)

type eligibilityResponse struct {
	Eligible bool           `json:"eligible"`
	Reason   reviews.Reason `json:"reason,omitempty"`
}

type productReviewsResponse struct {
	Reviews []reviews.Review `json:"reviews"`
	Summary reviews.Summary  `json:"summary"`
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	err := h.Reviews.CheckEligibility(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "productID"), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, eligibilityResponse{Eligible: true})
	case errors.Is(err, apperr.ErrNotEligible):
		writeJSON(w, http.StatusOK, eligibilityResponse{Reason: reviews.ReasonOf(err)})
	default:
		writeError(w, h.logger(), err)
	}
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	var in reviews.Submission
	if err := decode(r, &in); err != nil {
		writeError(w, h.logger(), err)
		return
	}
	rv, err := h.Reviews.SubmitReview(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		if reason := reviews.ReasonOf(err); reason != "" {
			writeJSON(w, apperr.HTTPStatus(err), errorBody{
				Error: err.Error(), Code: string(apperr.KindOf(err)), Reason: string(reason),
			})
			return
		}
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *Handler) productReviews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	list, err := h.Reviews.ListForProduct(r.Context(), id)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	sum, err := h.Reviews.Summary(r.Context(), id)
	if err != nil {
		writeError(w, h.logger(), err)
		return
	}
	writeJSON(w, http.StatusOK, productReviewsResponse{Reviews: list, Summary: sum})
}
