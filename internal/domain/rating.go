package domain

import (
	"sort"
	"time"
)

// MinRating and MaxRating bound a single criterion rating.
const (
	MinRating = 1
	MaxRating = 5
)

// scoreScale maps the 1..5 row scale onto the 0..100 display scale.
const scoreScale = 20

// Rating is one stored row: a single criterion of a single vote.
type Rating struct {
	ID            int64
	BallotID      string
	InstitutionID int64
	CriterionKey  string
	Value         int
	Comment       *string
	ClientAddress string
	CreatedAt     time.Time
}

// CriterionRating is one entry of a ballot.
type CriterionRating struct {
	Key   string
	Value int
}

// Ballot is a full vote as submitted by one client.
type Ballot struct {
	InstitutionID int64
	Ratings       map[string]int
	Comment       *string
	ClientAddress string
}

// Ordered returns the ballot entries with keys of the set first, in set order,
// followed by any other keys sorted alphabetically.
func (b Ballot) Ordered(criteria CriteriaSet) []CriterionRating {
	out := make([]CriterionRating, 0, len(b.Ratings))
	seen := make(map[string]struct{}, len(b.Ratings))
	for _, criterion := range criteria {
		if value, ok := b.Ratings[criterion.Key]; ok {
			out = append(out, CriterionRating{Key: criterion.Key, Value: value})
			seen[criterion.Key] = struct{}{}
		}
	}
	extra := make([]string, 0)
	for key := range b.Ratings {
		if _, ok := seen[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		out = append(out, CriterionRating{Key: key, Value: b.Ratings[key]})
	}
	return out
}

// RatingAggregate is the raw statistic read from storage for one institution.
type RatingAggregate struct {
	RowCount     int64
	Mean         *float64
	CriteriaMean map[string]float64
}

// Scores is the derived aggregate shown to callers.
type Scores struct {
	VoteCount      int64
	AverageScore   *float64
	DetailedScores map[string]float64
}

// Scores derives vote count and scaled averages. A vote is assumed to write
// criteriaCount rows, so partial ballots truncate the count.
func (a RatingAggregate) Scores(criteriaCount int) Scores {
	scores := Scores{DetailedScores: make(map[string]float64, len(a.CriteriaMean))}
	if criteriaCount > 0 {
		scores.VoteCount = a.RowCount / int64(criteriaCount)
	}
	if a.Mean != nil && a.RowCount > 0 {
		avg := *a.Mean * scoreScale
		scores.AverageScore = &avg
	}
	for key, mean := range a.CriteriaMean {
		scores.DetailedScores[key] = mean
	}
	return scores
}

// VoteReceipt is what the notifier needs after a vote was recorded.
type VoteReceipt struct {
	Institution Institution
	Scores      Scores
	Ratings     []CriterionRating
	Comment     *string
}
