package ratings

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/Clark-Hu/institution-ratings/internal/domain"
	"github.com/Clark-Hu/institution-ratings/internal/repository"
)

type fakeInstitutions struct {
	mu      sync.Mutex
	items   map[int64]domain.Institution
	nextID  int64
	creates int
	err     error
}

func newFakeInstitutions() *fakeInstitutions {
	return &fakeInstitutions{items: make(map[int64]domain.Institution)}
}

func (f *fakeInstitutions) Create(ctx context.Context, params repository.InstitutionCreateParams) (domain.Institution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.err != nil {
		return domain.Institution{}, f.err
	}
	f.nextID++
	inst := domain.Institution{ID: f.nextID, Name: params.Name, Type: params.Type, Email: params.Email}
	f.items[inst.ID] = inst
	return inst, nil
}

func (f *fakeInstitutions) GetByID(ctx context.Context, id int64) (domain.Institution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Institution{}, f.err
	}
	inst, ok := f.items[id]
	if !ok {
		return domain.Institution{}, repository.ErrNotFound
	}
	return inst, nil
}

// fakeLedger keeps rows in memory. failAfter > 0 makes InsertBallot fail after
// staging that many rows, discarding the staged rows like a rollback would.
type fakeLedger struct {
	mu        sync.Mutex
	rows      []domain.Rating
	countErr  error
	insertErr error
	failAfter int
	lastLimit int64
}

func (f *fakeLedger) CountByClient(ctx context.Context, addr string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, row := range f.rows {
		if row.ClientAddress == addr {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) InsertBallot(ctx context.Context, params repository.BallotInsertParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLimit = params.RowLimit
	if f.insertErr != nil {
		return "", f.insertErr
	}
	staged := make([]domain.Rating, 0, len(params.Ratings))
	for i, r := range params.Ratings {
		if f.failAfter > 0 && i == f.failAfter {
			return "", errors.New("connection reset")
		}
		row := domain.Rating{
			BallotID:      "ballot-1",
			InstitutionID: params.InstitutionID,
			CriterionKey:  r.Key,
			Value:         r.Value,
			ClientAddress: params.ClientAddress,
		}
		if i == 0 {
			row.Comment = params.Comment
		}
		staged = append(staged, row)
	}
	f.rows = append(f.rows, staged...)
	return "ballot-1", nil
}

func (f *fakeLedger) Aggregate(ctx context.Context, institutionID int64) (domain.RatingAggregate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	agg := domain.RatingAggregate{CriteriaMean: make(map[string]float64)}
	var total float64
	sums := make(map[string]float64)
	counts := make(map[string]float64)
	for _, row := range f.rows {
		if row.InstitutionID != institutionID {
			continue
		}
		agg.RowCount++
		total += float64(row.Value)
		sums[row.CriterionKey] += float64(row.Value)
		counts[row.CriterionKey]++
	}
	if agg.RowCount > 0 {
		mean := total / float64(agg.RowCount)
		agg.Mean = &mean
	}
	for key, sum := range sums {
		agg.CriteriaMean[key] = sum / counts[key]
	}
	return agg, nil
}

func (f *fakeLedger) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeLedger) seed(addr string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.rows = append(f.rows, domain.Rating{InstitutionID: 999, CriterionKey: "reputation", Value: 3, ClientAddress: addr})
	}
}

type fakeNotifier struct {
	mu            sync.Mutex
	err           error
	registrations []domain.Institution
	receipts      []domain.VoteReceipt
}

func (f *fakeNotifier) InstitutionRegistered(ctx context.Context, inst domain.Institution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations = append(f.registrations, inst)
	return f.err
}

func (f *fakeNotifier) VoteRecorded(ctx context.Context, receipt domain.VoteReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, receipt)
	return f.err
}

type fixture struct {
	svc          *Service
	institutions *fakeInstitutions
	ledger       *fakeLedger
	notifier     *fakeNotifier
	inst         domain.Institution
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		institutions: newFakeInstitutions(),
		ledger:       &fakeLedger{},
		notifier:     &fakeNotifier{},
	}
	opts.Logger = log.New(io.Discard, "", 0)
	f.svc = New(f.institutions, f.ledger, f.notifier, opts)
	inst, err := f.institutions.Create(context.Background(), repository.InstitutionCreateParams{
		Name: "Université Test", Type: "University", Email: "uni@example.org",
	})
	if err != nil {
		t.Fatalf("seed institution: %v", err)
	}
	f.inst = inst
	return f
}

func ratingsOf(values ...int) map[string]int {
	out := make(map[string]int, len(values))
	for i, key := range domain.DefaultCriteria.Keys() {
		out[key] = values[i]
	}
	return out
}

func strPtr(s string) *string { return &s }

func TestSubmitVote_AllFives(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(5, 5, 5, 5, 5),
		ClientAddress: "192.0.2.1",
	})
	if err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if got := f.ledger.rowCount(); got != domain.DefaultCriteria.Len() {
		t.Fatalf("rows = %d, want %d", got, domain.DefaultCriteria.Len())
	}
	if res.Scores.VoteCount != 1 {
		t.Fatalf("VoteCount = %d, want 1", res.Scores.VoteCount)
	}
	if res.Scores.AverageScore == nil || *res.Scores.AverageScore != 100 {
		t.Fatalf("AverageScore = %v, want 100", res.Scores.AverageScore)
	}
	for _, key := range domain.DefaultCriteria.Keys() {
		if res.Scores.DetailedScores[key] != 5 {
			t.Fatalf("DetailedScores[%s] = %v, want 5", key, res.Scores.DetailedScores[key])
		}
	}
	if !res.Notification.Delivered {
		t.Fatalf("expected notification delivered, got %+v", res.Notification)
	}
}

func TestSubmitVote_OneToFive(t *testing.T) {
	f := newFixture(t, Options{})

	res, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(1, 2, 3, 4, 5),
		ClientAddress: "192.0.2.2",
	})
	if err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if res.Scores.AverageScore == nil || *res.Scores.AverageScore != 60 {
		t.Fatalf("AverageScore = %v, want 60", res.Scores.AverageScore)
	}
	want := map[string]float64{
		"reputation": 1, "training_offer": 2, "governance": 3, "societal_impact": 4, "student_experience": 5,
	}
	if !reflect.DeepEqual(res.Scores.DetailedScores, want) {
		t.Fatalf("DetailedScores = %v, want %v", res.Scores.DetailedScores, want)
	}
	if res.Scores.VoteCount != 1 {
		t.Fatalf("VoteCount = %d, want 1", res.Scores.VoteCount)
	}
}

func TestCanSubmit_Boundary(t *testing.T) {
	f := newFixture(t, Options{})
	limit := int(f.svc.RowLimit())
	if limit != 15 {
		t.Fatalf("RowLimit = %d, want 15", limit)
	}

	f.ledger.seed("at-limit", limit)
	f.ledger.seed("below-limit", limit-1)

	if ok, err := f.svc.CanSubmit(context.Background(), "at-limit"); err != nil || ok {
		t.Fatalf("CanSubmit(at-limit) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := f.svc.CanSubmit(context.Background(), "below-limit"); err != nil || !ok {
		t.Fatalf("CanSubmit(below-limit) = %v, %v; want true, nil", ok, err)
	}
}

func TestSubmitVote_GuardRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.seed("203.0.113.9", 15)
	before := f.ledger.rowCount()

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(4, 4, 4, 4, 4),
		ClientAddress: "203.0.113.9",
	})
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected, got %v", err)
	}
	if f.ledger.rowCount() != before {
		t.Fatalf("rows changed after rejected vote")
	}
	if len(f.notifier.receipts) != 0 {
		t.Fatalf("unexpected notification for rejected vote")
	}
}

func TestSubmitVote_GuardStorageUnavailable(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.countErr = errors.New("dial tcp: connection refused")

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(4, 4, 4, 4, 4),
		ClientAddress: "198.51.100.1",
	})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if f.ledger.rowCount() != 0 {
		t.Fatalf("vote written despite guard failure")
	}
}

func TestSubmitVote_LedgerFailureLeavesNoRows(t *testing.T) {
	f := newFixture(t, Options{})
	f.ledger.failAfter = 3

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(4, 4, 4, 4, 4),
		ClientAddress: "198.51.100.2",
	})
	if !errors.Is(err, ErrLedgerWriteFailed) {
		t.Fatalf("expected ErrLedgerWriteFailed, got %v", err)
	}
	if strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("storage detail leaked to caller: %v", err)
	}
	if f.ledger.rowCount() != 0 {
		t.Fatalf("rows = %d after failed ballot, want 0", f.ledger.rowCount())
	}
}

func TestSubmitVote_UnknownInstitution(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: 404,
		Ratings:       ratingsOf(4, 4, 4, 4, 4),
		ClientAddress: "198.51.100.3",
	})
	if !errors.Is(err, ErrInstitutionNotFound) {
		t.Fatalf("expected ErrInstitutionNotFound, got %v", err)
	}
	if f.ledger.rowCount() != 0 {
		t.Fatalf("rows written for unknown institution")
	}
}

func TestSubmitVote_CommentPlacement(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(3, 4, 5, 4, 3),
		Comment:       strPtr("  Excellent encadrement  "),
		ClientAddress: "198.51.100.4",
	})
	if err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	withComment := 0
	for i, row := range f.ledger.rows {
		if row.Comment != nil {
			withComment++
			if i != 0 || *row.Comment != "Excellent encadrement" {
				t.Fatalf("row %d comment = %q", i, *row.Comment)
			}
		}
	}
	if withComment != 1 {
		t.Fatalf("rows with comment = %d, want 1", withComment)
	}
	if f.ledger.rows[0].CriterionKey != "reputation" {
		t.Fatalf("first row key = %s, want reputation", f.ledger.rows[0].CriterionKey)
	}

	if len(f.notifier.receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(f.notifier.receipts))
	}
	receipt := f.notifier.receipts[0]
	if receipt.Comment == nil || *receipt.Comment != "Excellent encadrement" {
		t.Fatalf("receipt comment = %v", receipt.Comment)
	}
	if len(receipt.Ratings) != domain.DefaultCriteria.Len() {
		t.Fatalf("receipt ratings = %d", len(receipt.Ratings))
	}
}

func TestSubmitVote_BlankCommentIsAbsent(t *testing.T) {
	f := newFixture(t, Options{})

	if _, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(3, 3, 3, 3, 3),
		Comment:       strPtr(" \n\t "),
		ClientAddress: "198.51.100.5",
	}); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	for i, row := range f.ledger.rows {
		if row.Comment != nil {
			t.Fatalf("row %d has comment %q, want none", i, *row.Comment)
		}
	}
}

func TestSubmitVote_NotificationFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = errors.New("smtp: 535 authentication failed")

	res, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(2, 2, 2, 2, 2),
		ClientAddress: "198.51.100.6",
	})
	if err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	if res.Notification.Delivered {
		t.Fatalf("expected failed delivery")
	}
	if !strings.Contains(res.Notification.Reason, "535") {
		t.Fatalf("Reason = %q", res.Notification.Reason)
	}
	if f.ledger.rowCount() != domain.DefaultCriteria.Len() {
		t.Fatalf("vote not kept after notification failure")
	}
}

func TestSubmitVote_Validation(t *testing.T) {
	tests := []struct {
		name    string
		input   func(id int64) VoteInput
		wantMsg string
	}{
		{
			name: "value above range",
			input: func(id int64) VoteInput {
				return VoteInput{InstitutionID: id, Ratings: ratingsOf(5, 5, 6, 5, 5), ClientAddress: "a"}
			},
			wantMsg: "between 1 and 5",
		},
		{
			name: "value below range",
			input: func(id int64) VoteInput {
				return VoteInput{InstitutionID: id, Ratings: ratingsOf(0, 5, 5, 5, 5), ClientAddress: "a"}
			},
			wantMsg: "between 1 and 5",
		},
		{
			name: "unknown criterion",
			input: func(id int64) VoteInput {
				r := ratingsOf(5, 5, 5, 5, 5)
				r["parking"] = 3
				return VoteInput{InstitutionID: id, Ratings: r, ClientAddress: "a"}
			},
			wantMsg: "unknown criteria: parking",
		},
		{
			name: "missing criterion",
			input: func(id int64) VoteInput {
				r := ratingsOf(5, 5, 5, 5, 5)
				delete(r, "governance")
				return VoteInput{InstitutionID: id, Ratings: r, ClientAddress: "a"}
			},
			wantMsg: "missing ratings for: governance",
		},
		{
			name: "no ratings",
			input: func(id int64) VoteInput {
				return VoteInput{InstitutionID: id, ClientAddress: "a"}
			},
			wantMsg: "ratings is required",
		},
		{
			name: "missing client address",
			input: func(id int64) VoteInput {
				return VoteInput{InstitutionID: id, Ratings: ratingsOf(5, 5, 5, 5, 5), ClientAddress: "  "}
			},
			wantMsg: "client address is required",
		},
		{
			name: "missing institution",
			input: func(id int64) VoteInput {
				return VoteInput{Ratings: ratingsOf(5, 5, 5, 5, 5), ClientAddress: "a"}
			},
			wantMsg: "institution_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			_, err := f.svc.SubmitVote(context.Background(), tt.input(f.inst.ID))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(vErr.Message, tt.wantMsg) {
				t.Fatalf("message = %q, want contains %q", vErr.Message, tt.wantMsg)
			}
			if f.ledger.rowCount() != 0 {
				t.Fatalf("rows written for invalid vote")
			}
		})
	}
}

func TestSubmitVote_StrictLimit(t *testing.T) {
	f := newFixture(t, Options{StrictLimit: true, MaxVotesPerClient: 2})
	f.ledger.insertErr = repository.ErrLimitReached

	_, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(5, 5, 5, 5, 5),
		ClientAddress: "198.51.100.7",
	})
	if !errors.Is(err, ErrGuardRejected) {
		t.Fatalf("expected ErrGuardRejected, got %v", err)
	}
	if f.ledger.lastLimit != 10 {
		t.Fatalf("RowLimit passed to ledger = %d, want 10", f.ledger.lastLimit)
	}
}

func TestScores_NoDataAndStable(t *testing.T) {
	f := newFixture(t, Options{})

	empty, err := f.svc.Scores(context.Background(), f.inst.ID)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if empty.AverageScore != nil || empty.VoteCount != 0 || len(empty.DetailedScores) != 0 {
		t.Fatalf("Scores on empty institution = %+v", empty)
	}

	if _, err := f.svc.SubmitVote(context.Background(), VoteInput{
		InstitutionID: f.inst.ID,
		Ratings:       ratingsOf(1, 3, 5, 3, 1),
		ClientAddress: "198.51.100.8",
	}); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}
	first, _ := f.svc.Scores(context.Background(), f.inst.ID)
	second, _ := f.svc.Scores(context.Background(), f.inst.ID)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Scores not stable: %+v vs %+v", first, second)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Options{})
	createsBefore := f.institutions.creates

	res, err := f.svc.Register(context.Background(), RegisterInput{
		Name: "  École Supérieure ", Type: "Grande école", Email: "contact@ecole.example",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Institution.ID == 0 || res.Institution.Name != "École Supérieure" {
		t.Fatalf("Register institution = %+v", res.Institution)
	}
	if !res.Notification.Delivered {
		t.Fatalf("expected delivered notification")
	}
	if f.institutions.creates != createsBefore+1 {
		t.Fatalf("creates = %d", f.institutions.creates)
	}

	got, err := f.svc.Institution(context.Background(), res.Institution.ID)
	if err != nil || got.Email != "contact@ecole.example" {
		t.Fatalf("Institution = %+v, %v", got, err)
	}
}

func TestRegister_ValidationBeforeWrite(t *testing.T) {
	tests := []struct {
		name    string
		input   RegisterInput
		wantMsg string
	}{
		{name: "invalid email", input: RegisterInput{Name: "A", Type: "B", Email: "not-an-email"}, wantMsg: "valid email"},
		{name: "blank name", input: RegisterInput{Name: "   ", Type: "B", Email: "a@b.example"}, wantMsg: "name is required"},
		{name: "missing type", input: RegisterInput{Name: "A", Email: "a@b.example"}, wantMsg: "type is required"},
		{name: "missing email", input: RegisterInput{Name: "A", Type: "B"}, wantMsg: "email is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			createsBefore := f.institutions.creates
			_, err := f.svc.Register(context.Background(), tt.input)
			var vErr *ValidationError
			if !errors.As(err, &vErr) || !strings.Contains(vErr.Message, tt.wantMsg) {
				t.Fatalf("Register error = %v, want ValidationError containing %q", err, tt.wantMsg)
			}
			if f.institutions.creates != createsBefore {
				t.Fatalf("Create called for invalid input")
			}
		})
	}
}

func TestRegister_NotificationFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.err = errors.New("dial tcp mail.example:465: i/o timeout")

	res, err := f.svc.Register(context.Background(), RegisterInput{Name: "A", Type: "B", Email: "a@b.example"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Notification.Delivered || !strings.Contains(res.Notification.Reason, "timeout") {
		t.Fatalf("Notification = %+v", res.Notification)
	}
	if res.Institution.ID == 0 {
		t.Fatalf("institution not created")
	}
}

func TestRegister_StorageFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.institutions.err = errors.New("pool closed")

	_, err := f.svc.Register(context.Background(), RegisterInput{Name: "A", Type: "B", Email: "a@b.example"})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if len(f.notifier.registrations) != 0 {
		t.Fatalf("notified despite storage failure")
	}
}

func TestInstitution_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.Institution(context.Background(), 12345); !errors.Is(err, ErrInstitutionNotFound) {
		t.Fatalf("expected ErrInstitutionNotFound, got %v", err)
	}
}
