package voxmesh

import (
	"reflect"
)

type AppBuilder struct {
	app     *App
	modules []Module
}

// NewAppBuilder starts a control domain app with the control stages.
func NewAppBuilder() *AppBuilder {
	return &AppBuilder{app: &App{
		name:      "control",
		resources: make(map[reflect.Type]any),
		systems:   make(map[string][]systemFn),
		stages:    append([]Stage(nil), ControlStages...),
	}}
}

// NewGpuAppBuilder starts a GPU domain app with the GPU stages.
func NewGpuAppBuilder() *AppBuilder {
	return NewAppBuilder().Named("gpu").UseStages(GpuStages...)
}

func (b *AppBuilder) Named(name string) *AppBuilder {
	b.app.name = name
	return b
}

// UseStages replaces the stage list.
func (b *AppBuilder) UseStages(stages ...Stage) *AppBuilder {
	b.app.stages = append([]Stage(nil), stages...)
	return b
}

func (b *AppBuilder) UseModule(modules ...Module) *AppBuilder {
	b.modules = append(b.modules, modules...)

	return b
}

func (b *AppBuilder) Build() *App {
	app := b.app
	commands := &Commands{app: app}

	for _, module := range b.modules {
		module.Install(app, commands)
	}
	app.modules = b.modules

	return app
}
