package game

import (
	"math"
	"sort"
)

// BasePoints is awarded for every correct answer before the time bonus.
const BasePoints = 10

// Score grades a submission. A correct answer earns BasePoints plus half of the
// remaining seconds, rounded down, with the remaining time capped at the question's
// timeout. Wrong answers earn nothing, so a score never decreases.
func Score(q Question, selectedOption int, timeRemaining float64) (correct bool, delta int) {
	if selectedOption != q.CorrectAnswerIndex {
		return false, 0
	}
	return true, BasePoints + int(math.Floor(clampRemaining(timeRemaining, q.TimeoutSeconds)/2))
}

// clampRemaining bounds a client-reported remaining time to [0, timeout] seconds.
func clampRemaining(t float64, timeout int) float64 {
	limit := math.Max(float64(timeout), 0)
	switch {
	case math.IsNaN(t) || t < 0:
		return 0
	case t > limit:
		return limit
	}
	return t
}

// ComputeLeaderboard orders users by score, highest first. Equal scores keep join
// order and ranks are strictly positional.
func ComputeLeaderboard(users []User) Leaderboard {
	sorted := make([]User, len(users))
	copy(sorted, users)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	lb := make(Leaderboard, 0, len(sorted))
	for i, u := range sorted {
		lb = append(lb, LeaderboardEntry{Username: u.Username, Score: u.Score, Rank: i + 1})
	}
	return lb
}
