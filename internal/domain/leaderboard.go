package domain

import (
	"sort"
	"time"
)

// Leaderboard is a durable running total of scores across sessions, keyed by player name.
type Leaderboard struct {
	ID        string                       `json:"id"`
	Name      string                       `json:"name"`
	Course    string                       `json:"course"`
	Year      int                          `json:"year"`
	CreatedAt time.Time                    `json:"createdAt"`
	Players   map[string]LeaderboardPlayer `json:"players"`
}

// LeaderboardPlayer is one row of a durable leaderboard.
type LeaderboardPlayer struct {
	DisplayName  string    `json:"displayName"`
	TotalScore   int       `json:"totalScore"`
	QuizzesTaken int       `json:"quizzesTaken"`
	LastPlayed   time.Time `json:"lastPlayed"`
}

// MergeEntry is one player's final result from a finished session.
type MergeEntry struct {
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// LeaderboardKey is the merge key of a display name.
func LeaderboardKey(name string) string {
	return NormalizeName(name)
}

// Apply folds entries into the leaderboard players in place.
func (l *Leaderboard) Apply(entries []MergeEntry, at time.Time) {
	if l.Players == nil {
		l.Players = make(map[string]LeaderboardPlayer, len(entries))
	}
	for _, entry := range entries {
		key := LeaderboardKey(entry.DisplayName)
		if key == "" {
			continue
		}
		row := l.Players[key]
		row.DisplayName = entry.DisplayName
		row.TotalScore += entry.Score
		row.QuizzesTaken++
		row.LastPlayed = at
		l.Players[key] = row
	}
}

// Ranked returns the players by total score, then name.
func (l Leaderboard) Ranked() []LeaderboardPlayer {
	rows := make([]LeaderboardPlayer, 0, len(l.Players))
	for _, row := range l.Players {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalScore != rows[j].TotalScore {
			return rows[i].TotalScore > rows[j].TotalScore
		}
		return rows[i].DisplayName < rows[j].DisplayName
	})
	return rows
}
