// Package ratings holds the submission guard, ballot recording, score
// aggregation and institution registration flows.
package ratings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
	"github.com/Clark-Hu/institution-ratings/internal/repository"
)

// DefaultMaxVotesPerClient is the number of full votes one address may cast.
const DefaultMaxVotesPerClient = 3

// InstitutionStore persists institutions.
type InstitutionStore interface {
	Create(ctx context.Context, params repository.InstitutionCreateParams) (domain.Institution, error)
	GetByID(ctx context.Context, id int64) (domain.Institution, error)
}

// Ledger is the append-only store of criterion ratings.
type Ledger interface {
	CountByClient(ctx context.Context, addr string) (int64, error)
	InsertBallot(ctx context.Context, params repository.BallotInsertParams) (string, error)
	Aggregate(ctx context.Context, institutionID int64) (domain.RatingAggregate, error)
}

// Notifier delivers registration and vote notifications.
type Notifier interface {
	InstitutionRegistered(ctx context.Context, inst domain.Institution) error
	VoteRecorded(ctx context.Context, receipt domain.VoteReceipt) error
}

// Options configures a Service.
type Options struct {
	Criteria          domain.CriteriaSet
	MaxVotesPerClient int
	// StrictLimit re-checks the client limit inside the write transaction.
	StrictLimit bool
	Logger      *log.Logger
}

// Service wires the rating flows over their collaborators.
type Service struct {
	institutions InstitutionStore
	ledger       Ledger
	notifier     Notifier
	criteria     domain.CriteriaSet
	maxVotes     int
	strict       bool
	validate     *validator.Validate
	logger       *log.Logger
}

// DeliveryResult is the outcome of a notification attempt. A failed delivery
// never fails the operation that triggered it.
type DeliveryResult struct {
	Delivered bool
	Reason    string
}

// RegisterInput is the raw registration request.
type RegisterInput struct {
	Name  string `validate:"required"`
	Type  string `validate:"required"`
	Email string `validate:"required,email"`
}

// RegisterResult is returned on a successful registration.
type RegisterResult struct {
	Institution  domain.Institution
	Notification DeliveryResult
}

// VoteInput is the raw vote request.
type VoteInput struct {
	InstitutionID int64          `validate:"gt=0"`
	Ratings       map[string]int `validate:"required,dive,min=1,max=5"`
	Comment       *string
	ClientAddress string `validate:"required"`
}

// VoteResult is returned on a successful vote.
type VoteResult struct {
	BallotID     string
	Scores       domain.Scores
	Notification DeliveryResult
}

// New constructs a Service.
func New(institutions InstitutionStore, ledger Ledger, notifier Notifier, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if len(opts.Criteria) == 0 {
		opts.Criteria = domain.DefaultCriteria
	}
	if opts.MaxVotesPerClient <= 0 {
		opts.MaxVotesPerClient = DefaultMaxVotesPerClient
	}
	return &Service{
		institutions: institutions,
		ledger:       ledger,
		notifier:     notifier,
		criteria:     opts.Criteria,
		maxVotes:     opts.MaxVotesPerClient,
		strict:       opts.StrictLimit,
		validate:     validator.New(),
		logger:       opts.Logger,
	}
}

// MaxVotesPerClient returns how many full votes one address may cast.
func (s *Service) MaxVotesPerClient() int {
	return s.maxVotes
}

// Criteria returns the configured criteria set.
func (s *Service) Criteria() domain.CriteriaSet {
	return s.criteria
}

// RowLimit is the number of rating rows one client address may hold.
func (s *Service) RowLimit() int64 {
	return int64(s.maxVotes * s.criteria.Len())
}

// CanSubmit reports whether addr may cast another vote. Storage failures are
// returned as errors and must be treated as a refusal.
func (s *Service) CanSubmit(ctx context.Context, addr string) (bool, error) {
	n, err := s.ledger.CountByClient(ctx, addr)
	if err != nil {
		s.logger.Printf("ratings: count rows for %q: %v", addr, err)
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return n < s.RowLimit(), nil
}

// Register validates and stores a new institution, then notifies.
func (s *Service) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Type = strings.TrimSpace(in.Type)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return RegisterResult{}, s.validationError(err)
	}

	inst, err := s.institutions.Create(ctx, repository.InstitutionCreateParams{
		Name:  in.Name,
		Type:  in.Type,
		Email: in.Email,
	})
	if err != nil {
		s.logger.Printf("ratings: create institution %q: %v", in.Name, err)
		return RegisterResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	result := RegisterResult{Institution: inst, Notification: DeliveryResult{Delivered: true}}
	if err := s.notifier.InstitutionRegistered(ctx, inst); err != nil {
		s.logger.Printf("ratings: notify registration of institution %d: %v", inst.ID, err)
		result.Notification = DeliveryResult{Reason: err.Error()}
	}
	return result, nil
}

// Institution returns a registered institution.
func (s *Service) Institution(ctx context.Context, id int64) (domain.Institution, error) {
	inst, err := s.institutions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Institution{}, ErrInstitutionNotFound
		}
		s.logger.Printf("ratings: get institution %d: %v", id, err)
		return domain.Institution{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return inst, nil
}

// Scores computes the current aggregate for an institution.
func (s *Service) Scores(ctx context.Context, institutionID int64) (domain.Scores, error) {
	agg, err := s.ledger.Aggregate(ctx, institutionID)
	if err != nil {
		s.logger.Printf("ratings: aggregate institution %d: %v", institutionID, err)
		return domain.Scores{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return agg.Scores(s.criteria.Len()), nil
}

// SubmitVote runs the guard, records the ballot atomically, recomputes the
// scores and notifies the institution.
func (s *Service) SubmitVote(ctx context.Context, in VoteInput) (VoteResult, error) {
	in.ClientAddress = strings.TrimSpace(in.ClientAddress)
	if err := s.validate.Struct(in); err != nil {
		return VoteResult{}, s.validationError(err)
	}
	if err := s.checkCriteria(in.Ratings); err != nil {
		return VoteResult{}, err
	}
	comment := NormalizeComment(in.Comment)

	allowed, err := s.CanSubmit(ctx, in.ClientAddress)
	if err != nil {
		return VoteResult{}, err
	}
	if !allowed {
		return VoteResult{}, ErrGuardRejected
	}

	inst, err := s.Institution(ctx, in.InstitutionID)
	if err != nil {
		return VoteResult{}, err
	}

	ballot := domain.Ballot{
		InstitutionID: inst.ID,
		Ratings:       in.Ratings,
		Comment:       comment,
		ClientAddress: in.ClientAddress,
	}
	ordered := ballot.Ordered(s.criteria)

	params := repository.BallotInsertParams{
		InstitutionID: ballot.InstitutionID,
		ClientAddress: ballot.ClientAddress,
		Comment:       ballot.Comment,
		Ratings:       ordered,
	}
	if s.strict {
		params.RowLimit = s.RowLimit()
	}
	ballotID, err := s.ledger.InsertBallot(ctx, params)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrLimitReached):
			return VoteResult{}, ErrGuardRejected
		case errors.Is(err, repository.ErrNotFound):
			return VoteResult{}, ErrInstitutionNotFound
		}
		s.logger.Printf("ratings: record ballot for institution %d: %v", inst.ID, err)
		return VoteResult{}, ErrLedgerWriteFailed
	}

	scores, err := s.Scores(ctx, inst.ID)
	if err != nil {
		return VoteResult{}, err
	}

	result := VoteResult{BallotID: ballotID, Scores: scores, Notification: DeliveryResult{Delivered: true}}
	if strings.TrimSpace(inst.Email) == "" {
		result.Notification = DeliveryResult{Reason: "institution has no contact email"}
		return result, nil
	}
	receipt := domain.VoteReceipt{
		Institution: inst,
		Scores:      scores,
		Ratings:     ordered,
		Comment:     comment,
	}
	if err := s.notifier.VoteRecorded(ctx, receipt); err != nil {
		s.logger.Printf("ratings: notify vote on institution %d: %v", inst.ID, err)
		result.Notification = DeliveryResult{Reason: err.Error()}
	}
	return result, nil
}

// NormalizeComment trims a comment; empty or whitespace-only becomes nil.
func NormalizeComment(comment *string) *string {
	if comment == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comment)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *Service) checkCriteria(ratings map[string]int) error {
	var unknown, missing []string
	for key := range ratings {
		if !s.criteria.Has(key) {
			unknown = append(unknown, key)
		}
	}
	for _, key := range s.criteria.Keys() {
		if _, ok := ratings[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return invalid("unknown criteria: " + strings.Join(unknown, ", "))
	}
	if len(missing) > 0 {
		return invalid("missing ratings for: " + strings.Join(missing, ", "))
	}
	return nil
}

var fieldNames = map[string]string{
	"InstitutionID": "institution_id",
	"ClientAddress": "client address",
}

func (s *Service) validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalid("invalid input")
	}
	fe := fieldErrs[0]
	field, ok := fieldNames[fe.StructField()]
	if !ok {
		field = strings.ToLower(fe.StructField())
	}
	switch fe.Tag() {
	case "required":
		return invalid(field + " is required")
	case "email":
		return invalid(field + " must be a valid email address")
	case "min", "max":
		return invalid(fmt.Sprintf("ratings must be integers between %d and %d", domain.MinRating, domain.MaxRating))
	case "gt":
		return invalid(field + " must be a positive identifier")
	default:
		return invalid(field + " is invalid")
	}
}
