// Package ensemble combines the votes of several strategies into one
// decision.
package ensemble

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Voter is one named strategy taking part in the ensemble
type Voter struct {
	Name string
	Fn   backtest.StrategyFunc
}

// Ballot is the outcome of one voter
type Ballot struct {
	Voter string        `json:"voter"`
	Vote  backtest.Vote `json:"vote,omitempty"`
	Err   error         `json:"-"`
}

// Abstained reports whether the voter produced no usable vote
func (b Ballot) Abstained() bool {
	return b.Err != nil
}

// Tally is the full outcome of polling every voter on one series
type Tally struct {
	Ballots []Ballot              `json:"ballots"`
	Counts  map[backtest.Vote]int `json:"counts"`
}

// Abstentions returns the names of voters that did not vote
func (t Tally) Abstentions() []string {
	var names []string
	for _, b := range t.Ballots {
		if b.Abstained() {
			names = append(names, b.Voter)
		}
	}
	return names
}

// Majority returns the category with the highest count. Among tied
// categories the one whose count reached the maximum first in evaluation
// order wins. With no votes the result is Hold.
func (t Tally) Majority() backtest.Vote {
	maxCount := 0
	for _, c := range t.Counts {
		if c > maxCount {
			maxCount = c
		}
	}
	if maxCount == 0 {
		return backtest.VoteHold
	}

	running := make(map[backtest.Vote]int, len(backtest.Votes))
	for _, b := range t.Ballots {
		if b.Abstained() {
			continue
		}
		running[b.Vote]++
		if running[b.Vote] == maxCount {
			return b.Vote
		}
	}
	return backtest.VoteHold
}

// Aggregator polls a fixed, ordered set of voters
type Aggregator struct {
	voters []Voter
}

// New creates an aggregator over voters in evaluation order
func New(voters ...Voter) *Aggregator {
	return &Aggregator{voters: append([]Voter(nil), voters...)}
}

// Voters returns the configured voters in evaluation order
func (a *Aggregator) Voters() []Voter {
	return append([]Voter(nil), a.voters...)
}

// Tally polls every voter on series. A voter that errors, panics or returns
// an unknown category abstains.
func (a *Aggregator) Tally(series backtest.Series) Tally {
	tally := Tally{
		Ballots: make([]Ballot, 0, len(a.voters)),
		Counts:  make(map[backtest.Vote]int, len(backtest.Votes)),
	}

	for _, voter := range a.voters {
		ballot := Ballot{Voter: voter.Name}
		ballot.Vote, ballot.Err = poll(voter, series)

		if ballot.Abstained() {
			metrics.EnsembleVotes.WithLabelValues(metrics.ResultAbstention).Inc()
			log.Debug().
				Err(ballot.Err).
				Str("voter", voter.Name).
				Str("symbol", series.Symbol()).
				Msg("Voter abstained")
		} else {
			tally.Counts[ballot.Vote]++
			metrics.EnsembleVotes.WithLabelValues(string(ballot.Vote)).Inc()
		}
		tally.Ballots = append(tally.Ballots, ballot)
	}

	return tally
}

func poll(voter Voter, series backtest.Series) (vote backtest.Vote, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("voter %s panicked: %v", voter.Name, r)
		}
	}()

	if voter.Fn == nil {
		return "", fmt.Errorf("voter %s has no strategy", voter.Name)
	}
	vote, err = voter.Fn(series)
	if err != nil {
		return "", err
	}
	if !vote.Valid() {
		return "", fmt.Errorf("voter %s returned unknown vote %q", voter.Name, vote)
	}
	return vote, nil
}

// Predict returns the majority vote over every voter
func (a *Aggregator) Predict(series backtest.Series) backtest.Vote {
	return a.Tally(series).Majority()
}

// WeightedPredict sums weights per category and returns the category with
// the largest total, ties broken in Buy, Sell, Hold order. weights must hold
// one entry per voter in evaluation order; otherwise it falls back to
// Predict. If every voter abstains the result is Hold.
func (a *Aggregator) WeightedPredict(series backtest.Series, weights []float64) backtest.Vote {
	if len(weights) != len(a.voters) {
		log.Warn().
			Int("weights", len(weights)).
			Int("voters", len(a.voters)).
			Msg("Weight count does not match voters, using unweighted vote")
		return a.Predict(series)
	}

	tally := a.Tally(series)

	sums := make(map[backtest.Vote]float64, len(backtest.Votes))
	voted := false
	for i, b := range tally.Ballots {
		if b.Abstained() {
			continue
		}
		sums[b.Vote] += weights[i]
		voted = true
	}
	if !voted {
		return backtest.VoteHold
	}

	best := backtest.Votes[0]
	for _, category := range backtest.Votes[1:] {
		if sums[category] > sums[best] {
			best = category
		}
	}
	return best
}

// Strategy exposes the majority vote as a strategy function so the ensemble
// itself can be backtested
func (a *Aggregator) Strategy() backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		return a.Predict(series), nil
	}
}
