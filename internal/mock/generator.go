// Package mock drives the real pipeline with synthetic, flicker-prone
// perception signals. Useful for demos and for exercising the debouncer,
// registry and hub without a perception frontend.
package mock

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/proctorwatch/backend/internal/debounce"
	"github.com/proctorwatch/backend/internal/log"
	"github.com/proctorwatch/backend/internal/session"
)

// window is a half-open tick range [from, to) during which a raw signal
// reads active.
type window struct {
	from, to int
}

type signalScript struct {
	category   session.EventType
	windows    []window
	confidence float64
}

func (sc signalScript) activeAt(tick int) bool {
	for _, w := range sc.windows {
		if tick >= w.from && tick < w.to {
			return true
		}
	}
	return false
}

type scenario struct {
	candidateName  string
	candidateEmail string
	interviewer    string
	scripts        []signalScript
	endAtTick      int
}

// Generator replays scripted signal patterns through the debouncer and
// registry at the configured tick interval.
type Generator struct {
	registry *session.Registry
	tracker  *debounce.Tracker
	interval time.Duration
	logger   zerolog.Logger

	scenarios []scenario
	ids       []string
}

func NewGenerator(registry *session.Registry, tracker *debounce.Tracker, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Generator{
		registry: registry,
		tracker:  tracker,
		interval: interval,
		logger:   log.WithComponent("mock"),
	}
}

// Start creates the mock sessions and begins replaying signals until the
// context is cancelled. Tick counts below assume the default 500ms interval:
// a looking_away stretch needs 10+ consecutive active ticks to clear the 5s
// threshold, and the short flickers stay under it on purpose.
func (g *Generator) Start(ctx context.Context) {
	g.scenarios = []scenario{
		{
			candidateName:  "Dana Mock",
			candidateEmail: "dana@example.test",
			interviewer:    "Interviewer Bot",
			scripts: []signalScript{
				// Flickers that must never confirm, then one sustained stretch.
				{category: session.LookingAway, confidence: 0.91, windows: []window{
					{from: 4, to: 7}, {from: 12, to: 15}, {from: 30, to: 44},
				}},
				// Two phone sightings inside one cooldown window, then one after.
				{category: session.PhoneDetected, confidence: 0.87, windows: []window{
					{from: 50, to: 51}, {from: 55, to: 56}, {from: 80, to: 81},
				}},
			},
			endAtTick: 120,
		},
		{
			candidateName:  "Sam Mock",
			candidateEmail: "sam@example.test",
			interviewer:    "Interviewer Bot",
			scripts: []signalScript{
				// Leaves the frame long enough to confirm twice.
				{category: session.FaceNotDetected, confidence: 0.95, windows: []window{
					{from: 10, to: 34}, {from: 60, to: 85},
				}},
				{category: session.AudioDetected, confidence: 0.7, windows: []window{
					{from: 40, to: 41},
				}},
			},
			endAtTick: 140,
		},
	}

	for _, sc := range g.scenarios {
		sess, err := g.registry.Create(sc.candidateName, sc.candidateEmail, sc.interviewer)
		if err != nil {
			g.logger.Error().Err(err).Msg("mock session create failed")
			g.ids = append(g.ids, "")
			continue
		}
		g.ids = append(g.ids, sess.ID)
		g.logger.Info().Str("session_id", sess.ID).Str("candidate", sc.candidateName).Msg("mock session started")
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.step(tick)
		}
	}
}

func (g *Generator) step(tick int) {
	for i, sc := range g.scenarios {
		id := g.ids[i]
		if id == "" {
			continue
		}

		if tick == sc.endAtTick {
			if _, err := g.registry.End(id, "mock run complete"); err != nil {
				g.logger.Warn().Err(err).Str("session_id", id).Msg("mock session end failed")
			}
			g.tracker.Drop(id)
			continue
		}
		if tick > sc.endAtTick {
			continue
		}

		for _, script := range sc.scripts {
			v, confirmed := g.tracker.Tick(id, script.category, script.activeAt(tick), script.confidence)
			if !confirmed {
				continue
			}
			if _, err := g.registry.AppendEvent(id, session.EventInput{
				Type:            v.Category.String(),
				Timestamp:       v.At,
				DurationSeconds: v.DurationSeconds,
				Confidence:      v.Confidence,
				Description:     v.Description,
			}); err != nil {
				g.logger.Warn().Err(err).Str("session_id", id).Msg("mock append failed")
			}
		}
	}
}
