// Package reviews implements agent ratings and review feedback.
package reviews

import (
	"context"
	stderrors "errors"
	"math"
	"strings"

	"github.com/agenthub/marketplace/internal/domain/review"
	"github.com/agenthub/marketplace/internal/errors"
	"github.com/agenthub/marketplace/internal/logging"
	"github.com/agenthub/marketplace/internal/metrics"
	"github.com/agenthub/marketplace/internal/storage"
)

const maxCommentLength = 4096

// Service manages reviews and keeps agent ratings in sync.
type Service struct {
	store  storage.Store
	logger *logging.Logger
}

func New(store storage.Store, logger *logging.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateInput is a new review submission.
type CreateInput struct {
	Rating  int
	Comment string
}

// Create adds a review. Authors cannot review their own agents and a
// user may review an agent only once.
func (s *Service) Create(ctx context.Context, agentSlug, userID string, in CreateInput) (review.Review, error) {
	if err := validateInput(in); err != nil {
		return review.Review{}, err
	}
	a, err := s.store.GetAgentBySlug(ctx, agentSlug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return review.Review{}, errors.NotFound("agent", agentSlug)
		}
		return review.Review{}, errors.Internal("load agent", err)
	}
	if a.AuthorID == userID {
		return review.Review{}, errors.InvalidInput("authors cannot review their own agents")
	}
	if _, err := s.store.GetReviewByAgentUser(ctx, a.ID, userID); err == nil {
		return review.Review{}, errors.Conflict("agent already reviewed")
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return review.Review{}, errors.Internal("check existing review", err)
	}

	r, err := s.store.CreateReview(ctx, review.Review{
		AgentID: a.ID,
		UserID:  userID,
		Rating:  in.Rating,
		Comment: strings.TrimSpace(in.Comment),
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			return review.Review{}, errors.Conflict("agent already reviewed")
		}
		return review.Review{}, errors.Internal("create review", err)
	}

	s.recomputeRating(ctx, a.ID)
	metrics.RecordReview(in.Rating)
	return r, nil
}

// Listing is a page of reviews plus the agent's rating summary.
type Listing struct {
	Reviews       []review.Review `json:"reviews"`
	AverageRating float64         `json:"average_rating"`
	Count         int64           `json:"count"`
}

// List returns reviews for an agent ordered by the given sort, with the
// average rating over all of the agent's reviews.
func (s *Service) List(ctx context.Context, agentSlug, sort string, limit, offset int) (Listing, error) {
	if sort == "" {
		sort = review.SortRecent
	}
	if !review.ValidSort(sort) {
		return Listing{}, errors.InvalidInput("unknown sort key " + sort)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	a, err := s.store.GetAgentBySlug(ctx, agentSlug)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return Listing{}, errors.NotFound("agent", agentSlug)
		}
		return Listing{}, errors.Internal("load agent", err)
	}
	out, err := s.store.ListReviews(ctx, a.ID, sort, limit, offset)
	if err != nil {
		return Listing{}, errors.Internal("list reviews", err)
	}
	avg, count, err := s.store.AverageRating(ctx, a.ID)
	if err != nil {
		return Listing{}, errors.Internal("compute average rating", err)
	}
	return Listing{
		Reviews:       out,
		AverageRating: math.Round(avg*100) / 100,
		Count:         count,
	}, nil
}

// Update edits a review. Only the review's author may update.
func (s *Service) Update(ctx context.Context, reviewID, userID string, in CreateInput) (review.Review, error) {
	if err := validateInput(in); err != nil {
		return review.Review{}, err
	}
	r, err := s.byID(ctx, reviewID)
	if err != nil {
		return review.Review{}, err
	}
	if r.UserID != userID {
		return review.Review{}, errors.Forbidden("only the review author may update it")
	}

	r.Rating = in.Rating
	r.Comment = strings.TrimSpace(in.Comment)
	updated, err := s.store.UpdateReview(ctx, r)
	if err != nil {
		return review.Review{}, errors.Internal("update review", err)
	}
	s.recomputeRating(ctx, r.AgentID)
	return updated, nil
}

// Delete removes a review. The review's author or an admin may delete.
func (s *Service) Delete(ctx context.Context, reviewID, userID string, admin bool) error {
	r, err := s.byID(ctx, reviewID)
	if err != nil {
		return err
	}
	if r.UserID != userID && !admin {
		return errors.Forbidden("only the review author may delete it")
	}
	if err := s.store.DeleteReview(ctx, reviewID); err != nil {
		return errors.Internal("delete review", err)
	}
	s.recomputeRating(ctx, r.AgentID)
	return nil
}

// MarkHelpful bumps a review's helpful counter. Voting on your own
// review is ignored.
func (s *Service) MarkHelpful(ctx context.Context, reviewID, userID string) (review.Review, error) {
	r, err := s.byID(ctx, reviewID)
	if err != nil {
		return review.Review{}, err
	}
	if r.UserID == userID {
		return r, nil
	}
	if err := s.store.IncrementHelpful(ctx, reviewID); err != nil {
		return review.Review{}, errors.Internal("mark helpful", err)
	}
	return s.byID(ctx, reviewID)
}

func (s *Service) byID(ctx context.Context, reviewID string) (review.Review, error) {
	r, err := s.store.GetReview(ctx, reviewID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return review.Review{}, errors.NotFound("review", reviewID)
		}
		return review.Review{}, errors.Internal("load review", err)
	}
	return r, nil
}

// recomputeRating refreshes the denormalized agent rating. Failures
// here are logged, the review write already succeeded.
func (s *Service) recomputeRating(ctx context.Context, agentID string) {
	avg, _, err := s.store.AverageRating(ctx, agentID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to compute average rating")
		return
	}
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to load agent for rating update")
		return
	}
	a.Rating = math.Round(avg*100) / 100
	if _, err := s.store.UpdateAgent(ctx, a); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to store agent rating")
	}
}

func validateInput(in CreateInput) error {
	if !review.ValidRating(in.Rating) {
		return errors.InvalidInput("rating must be between 1 and 5")
	}
	if len(in.Comment) > maxCommentLength {
		return errors.InvalidInput("comment is too long")
	}
	return nil
}
