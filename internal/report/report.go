// Package report formats a session, its event log and its derived score and
// summary into structured and tabular renderings. It consumes registry
// outputs only and owns no state.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/proctorwatch/backend/internal/session"
)

// Report is the structured assessment for one session.
type Report struct {
	SessionInfo         SessionInfo         `json:"sessionInfo"`
	IntegrityAssessment IntegrityAssessment `json:"integrityAssessment"`
	ViolationSummary    session.Summary     `json:"violationSummary"`
	DetailedEvents      []session.Event     `json:"detailedEvents"`
	TimelineAnalysis    []TimelinePeriod    `json:"timelineAnalysis"`
	RiskFactors         []string            `json:"riskFactors"`
	Recommendations     []string            `json:"recommendations"`
}

type SessionInfo struct {
	SessionID       string     `json:"sessionId"`
	CandidateName   string     `json:"candidateName"`
	CandidateEmail  string     `json:"candidateEmail"`
	InterviewerName string     `json:"interviewerName"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          string     `json:"status"`
}

type IntegrityAssessment struct {
	FinalScore     int    `json:"finalScore"`
	Rating         string `json:"rating"`
	Recommendation string `json:"recommendation"`
}

// TimelinePeriod groups violations into hour buckets.
type TimelinePeriod struct {
	Period         string   `json:"period"`
	Events         []string `json:"events"`
	ViolationCount int      `json:"violationCount"`
}

// Generate builds the full report for a session.
func Generate(s *session.Session) *Report {
	return &Report{
		SessionInfo: SessionInfo{
			SessionID:       s.ID,
			CandidateName:   s.CandidateName,
			CandidateEmail:  s.CandidateEmail,
			InterviewerName: s.InterviewerName,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			DurationMinutes: s.DurationMinutes,
			Status:          s.Status.String(),
		},
		IntegrityAssessment: IntegrityAssessment{
			FinalScore:     s.IntegrityScore,
			Rating:         Rating(s.IntegrityScore),
			Recommendation: Recommendation(s.IntegrityScore),
		},
		ViolationSummary: s.Summary,
		DetailedEvents:   s.Events,
		TimelineAnalysis: timeline(s.Events),
		RiskFactors:      riskFactors(s),
		Recommendations:  recommendations(s),
	}
}

// Rating maps a score to its band.
func Rating(score int) string {
	switch {
	case score >= 90:
		return "Excellent"
	case score >= 70:
		return "Good"
	case score >= 50:
		return "Fair"
	default:
		return "Poor"
	}
}

// Recommendation maps a score to the hiring guidance band.
func Recommendation(score int) string {
	switch {
	case score >= 90:
		return "Highly Recommended"
	case score >= 70:
		return "Recommended"
	case score >= 50:
		return "Consider with Caution"
	default:
		return "Not Recommended"
	}
}

func timeline(events []session.Event) []TimelinePeriod {
	var periods []TimelinePeriod
	current := ""
	for _, ev := range events {
		hour := ev.Timestamp.Hour()
		period := fmt.Sprintf("%d:00-%d:00", hour, hour+1)
		if period != current {
			periods = append(periods, TimelinePeriod{Period: period, Events: []string{}})
			current = period
		}
		if ev.Type == session.SessionStart || ev.Type == session.SessionEnd {
			continue
		}
		last := &periods[len(periods)-1]
		last.Events = append(last.Events, ev.Type.String())
		last.ViolationCount++
	}
	return periods
}

func riskFactors(s *session.Session) []string {
	var factors []string
	if s.IntegrityScore < 50 {
		factors = append(factors, "Very low integrity score - High risk candidate")
	}
	if s.Summary.UnauthorizedItems > 0 {
		factors = append(factors, "Unauthorized items detected during interview")
	}
	if s.Summary.MultipleFaceEvents > 0 {
		factors = append(factors, "Multiple people present during interview")
	}
	if s.Summary.NoFaceEvents > 3 {
		factors = append(factors, "Candidate frequently absent from camera")
	}
	if s.Summary.FocusLostEvents > 10 {
		factors = append(factors, "Excessive focus loss - attention issues")
	}
	return factors
}

func recommendations(s *session.Session) []string {
	var recs []string
	switch {
	case s.IntegrityScore >= 90:
		recs = append(recs, "Candidate showed excellent integrity - Recommended for next round")
	case s.IntegrityScore >= 70:
		recs = append(recs, "Good candidate with minor issues - Consider for next round with notes")
	case s.IntegrityScore >= 50:
		recs = append(recs, "Moderate concerns - Requires careful evaluation")
	default:
		recs = append(recs, "Significant integrity issues - Not recommended")
	}
	if s.Summary.UnauthorizedItems > 0 {
		recs = append(recs, "Investigate unauthorized item usage")
	}
	if s.Summary.MultipleFaceEvents > 0 {
		recs = append(recs, "Verify identity and ensure solo participation in future rounds")
	}
	return recs
}

// RenderCSV writes the flat tabular report. Section order is fixed:
// session info, integrity assessment, violation summary, detailed events.
func RenderCSV(s *session.Session) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	endTime := "N/A"
	if s.EndTime != nil {
		endTime = s.EndTime.Format(time.RFC3339)
	}

	records := [][]string{
		{"PROCTORING REPORT"},
		{"Session ID", s.ID},
		{"Candidate Name", s.CandidateName},
		{"Candidate Email", s.CandidateEmail},
		{"Interviewer", s.InterviewerName},
		{"Start Time", s.StartTime.Format(time.RFC3339)},
		{"End Time", endTime},
		{"Duration (minutes)", strconv.Itoa(s.DurationMinutes)},
		{"Integrity Score", strconv.Itoa(s.IntegrityScore)},
		{"Status", s.Status.String()},
		{},
		{"INTEGRITY ASSESSMENT"},
		{"Rating", Rating(s.IntegrityScore)},
		{"Recommendation", Recommendation(s.IntegrityScore)},
		{},
		{"VIOLATION SUMMARY"},
		{"Total Violations", strconv.Itoa(s.Summary.TotalViolations)},
		{"Focus Lost Events", strconv.Itoa(s.Summary.FocusLostEvents)},
		{"Unauthorized Items", strconv.Itoa(s.Summary.UnauthorizedItems)},
		{"Multiple Face Events", strconv.Itoa(s.Summary.MultipleFaceEvents)},
		{"No Face Events", strconv.Itoa(s.Summary.NoFaceEvents)},
		{},
		{"DETAILED EVENTS"},
		{"Timestamp", "Event Type", "Duration (sec)", "Severity", "Description", "Confidence"},
	}

	for _, ev := range s.Events {
		records = append(records, []string{
			ev.Timestamp.Format(time.RFC3339),
			ev.Type.String(),
			strconv.FormatFloat(ev.DurationSeconds, 'f', -1, 64),
			ev.Severity.String(),
			ev.Description,
			strconv.FormatFloat(ev.Confidence, 'f', -1, 64),
		})
	}

	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
