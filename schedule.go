package voxmesh

import (
	"fmt"
	"slices"
)

type Stage struct {
	Name string
}

// Control domain stages.
var (
	Prelude    = Stage{Name: "Prelude"}
	PreUpdate  = Stage{Name: "PreUpdate"}
	Update     = Stage{Name: "Update"}
	PostUpdate = Stage{Name: "PostUpdate"}
	Finale     = Stage{Name: "Finale"}
)

// GPU domain stages.
var (
	Extract = Stage{Name: "Extract"}
	Prepare = Stage{Name: "Prepare"}
	Render  = Stage{Name: "Render"}
	Cleanup = Stage{Name: "Cleanup"}
)

var (
	ControlStages = []Stage{Prelude, PreUpdate, Update, PostUpdate, Finale}
	GpuStages     = []Stage{Extract, Prepare, Render, Cleanup}
)

type systemScheduleBuilder struct {
	inStage  Stage
	system   systemFn
	hasStage bool
}

func (sched systemScheduleBuilder) InStage(s Stage) systemScheduleBuilder {
	return systemScheduleBuilder{
		system:   sched.system,
		inStage:  s,
		hasStage: true,
	}
}

// System schedules fn in Update unless InStage says otherwise. fn may return
// an error; a non-nil error stops the domain.
func System(system systemFn) systemScheduleBuilder {
	return systemScheduleBuilder{
		system:  system,
		inStage: Update,
	}
}

type stagePosition int

const (
	stageBefore stagePosition = iota
	stageAfter
)

type stagePositionBuilder struct {
	position stagePosition
	target   Stage
}

func BeforeStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{
		position: stageBefore,
		target:   s,
	}
}

func AfterStage(s Stage) stagePositionBuilder {
	return stagePositionBuilder{
		position: stageAfter,
		target:   s,
	}
}

func (app *App) UseStage(stage Stage, where stagePositionBuilder) *App {
	stageIdx := app.stageIndex(where.target)
	if -1 == stageIdx {
		panic(fmt.Sprintf("Stage %v not found", where.target.Name))
	}
	if app.stageIndex(stage) != -1 {
		panic(fmt.Sprintf("Stage %v already exists", stage.Name))
	}

	var insertAt int
	if stageBefore == where.position {
		insertAt = stageIdx
	} else {
		insertAt = stageIdx + 1
	}

	app.stages = slices.Insert(app.stages, insertAt, stage)
	return app
}

func (app *App) UseSystem(system systemScheduleBuilder) *App {
	stage := system.inStage
	if !system.hasStage && app.stageIndex(stage) == -1 && len(app.stages) > 0 {
		stage = app.stages[0]
	}
	if app.stageIndex(stage) == -1 {
		panic(fmt.Sprintf("Stage %v doesn't exist in the %s domain", stage.Name, app.name))
	}
	app.systems[stage.Name] = append(app.systems[stage.Name], system.system)
	return app
}

// HasStage reports whether the app schedules stage.
func (app *App) HasStage(stage Stage) bool {
	return app.stageIndex(stage) != -1
}

func (app *App) stageIndex(stage Stage) int {
	for i, s := range app.stages {
		if s.Name == stage.Name {
			return i
		}
	}
	return -1
}
