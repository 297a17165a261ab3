package model

type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	XP       int    `json:"xp"`
}
