package voxmesh

import (
	"time"
)

// Time is the per-domain clock. Round counts completed-or-running steps and
// tags everything a round produces.
type Time struct {
	Time  time.Time
	Dt    time.Duration
	Round uint64
}

type TimeModule struct {
}

func (mod TimeModule) Install(app *App, cmd *Commands) {
	cmd.AddResources(&Time{
		Time: time.Now(),
		Dt:   0,
	})
	// The clock ticks before anything else in the round.
	if len(app.stages) > 0 {
		cmd.UseSystem(System(timeSystem).InStage(app.stages[0]))
	}
}

func timeSystem(timeResource *Time) {
	now := time.Now()

	timeResource.Dt = now.Sub(timeResource.Time)
	timeResource.Time = now
	timeResource.Round++
}

// ensureTime installs a TimeModule unless the app already has a clock.
func ensureTime(app *App, cmd *Commands) {
	if _, ok := Resource[Time](app); !ok {
		TimeModule{}.Install(app, cmd)
	}
}
