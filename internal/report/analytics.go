package report

import (
	"math"

	"github.com/proctorwatch/backend/internal/session"
)

// Analytics aggregates integrity results across many sessions.
type Analytics struct {
	AverageIntegrityScore  int               `json:"averageIntegrityScore"`
	TotalViolations        int               `json:"totalViolations"`
	CommonViolations       map[string]int    `json:"commonViolations"`
	ScoreDistribution      ScoreDistribution `json:"scoreDistribution"`
	AverageSessionDuration int               `json:"averageSessionDuration"`
}

// ScoreDistribution buckets sessions by score band.
type ScoreDistribution struct {
	Excellent int `json:"excellent"` // 90-100
	Good      int `json:"good"`      // 70-89
	Fair      int `json:"fair"`      // 50-69
	Poor      int `json:"poor"`      // 0-49
}

// Aggregate computes analytics over the given sessions. Session lifecycle
// markers are excluded from the common-violation histogram but, matching the
// per-session summaries, still counted in TotalViolations.
func Aggregate(sessions []*session.Session) Analytics {
	analytics := Analytics{
		CommonViolations: make(map[string]int),
	}
	if len(sessions) == 0 {
		return analytics
	}

	totalScore := 0
	totalDuration := 0
	for _, s := range sessions {
		totalScore += s.IntegrityScore
		totalDuration += s.DurationMinutes
		analytics.TotalViolations += s.Summary.TotalViolations

		switch {
		case s.IntegrityScore >= 90:
			analytics.ScoreDistribution.Excellent++
		case s.IntegrityScore >= 70:
			analytics.ScoreDistribution.Good++
		case s.IntegrityScore >= 50:
			analytics.ScoreDistribution.Fair++
		default:
			analytics.ScoreDistribution.Poor++
		}

		for _, ev := range s.Events {
			if ev.Type == session.SessionStart || ev.Type == session.SessionEnd {
				continue
			}
			analytics.CommonViolations[ev.Type.String()]++
		}
	}

	analytics.AverageIntegrityScore = int(math.Round(float64(totalScore) / float64(len(sessions))))
	analytics.AverageSessionDuration = int(math.Round(float64(totalDuration) / float64(len(sessions))))
	return analytics
}
