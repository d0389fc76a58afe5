package voxmesh

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"time"
)

type systemFn any

type Module interface {
	Install(app *App, cmd *Commands)
}

// App is one scheduling domain: an ordered list of stages, the systems in
// each stage and the resources those systems are injected with.
type App struct {
	name      string
	modules   []Module
	stages    []Stage
	systems   map[string][]systemFn
	resources map[reflect.Type]any
	ctx       context.Context
	halted    *FatalError
	closers   []func()

	// Command Buffering
	pendingOps []func(app *App) error
}

func (app *App) Name() string {
	return app.name
}

func (app *App) Commands() *Commands {
	return &Commands{
		app: app,
	}
}

// Run steps the app every interval until ctx is done, maxRounds rounds have
// run (0 means no limit) or a system fails. A fatal error is returned as
// *FatalError; cancellation returns nil.
func (app *App) Run(ctx context.Context, interval time.Duration, maxRounds uint64) error {
	app.ctx = ctx
	defer func() { app.ctx = nil }()
	app.Logger().Infof("%s domain running (%d stages)", app.name, len(app.stages))

	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}
	for rounds := uint64(0); maxRounds == 0 || rounds < maxRounds; rounds++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := app.Step(); err != nil {
			return err
		}
		if ticker == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Step runs every stage once, flushing commands after each stage. Once a
// system has failed the app stays halted and Step keeps returning the error.
func (app *App) Step() error {
	if app.halted != nil {
		return app.halted
	}
	for _, stage := range app.stages {
		for _, system := range app.systems[stage.Name] {
			if err := app.callSystem(stage, system); err != nil {
				return app.halt(err)
			}
		}
		if err := app.FlushCommands(); err != nil {
			return app.halt(&FatalError{Domain: app.name, Stage: stage.Name, System: "commands", Err: err})
		}
	}
	return nil
}

// Close runs the release hooks registered by modules, last installed first.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	app.closers = nil
}

func (app *App) onClose(fn func()) {
	app.closers = append(app.closers, fn)
}

func (app *App) halt(err *FatalError) error {
	app.halted = err
	app.Logger().Errorf("%v", err)
	return err
}

func (app *App) addResources(resources ...any) *App {
	for _, resource := range resources {
		resourceType := reflect.TypeOf(resource)
		if resourceType.Kind() != reflect.Pointer {
			panic(fmt.Sprintf("%s is not a pointer resource", resourceType))
		}
		if _, ok := app.resources[resourceType.Elem()]; ok {
			panic(fmt.Sprintf("%s is already in resources", resourceType))
		}

		app.resources[resourceType.Elem()] = resource
	}
	return app
}

// Resource looks up a resource by its pointer type.
func Resource[T any](app *App) (*T, bool) {
	r, ok := app.resources[reflect.TypeOf((*T)(nil)).Elem()]
	if !ok {
		return nil, false
	}
	return r.(*T), true
}

func (app *App) callSystem(stage Stage, system systemFn) (fatal *FatalError) {
	name := systemName(system)
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", r)
			}
			fatal = &FatalError{Domain: app.name, Stage: stage.Name, System: name, Err: err}
		}
	}()

	if err := app.callSystemInternal(system); err != nil {
		return &FatalError{Domain: app.name, Stage: stage.Name, System: name, Err: err}
	}
	return nil
}

var (
	typeOfCommands = reflect.TypeOf(Commands{})
	typeOfLogger   = reflect.TypeOf((*Logger)(nil)).Elem()
	typeOfContext  = reflect.TypeOf((*context.Context)(nil)).Elem()
	typeOfError    = reflect.TypeOf((*error)(nil)).Elem()
)

func (app *App) callSystemInternal(system systemFn) error {
	systemType := reflect.TypeOf(system)
	systemValue := reflect.ValueOf(system)

	args := make([]reflect.Value, systemType.NumIn())

	for i := 0; i < systemType.NumIn(); i++ {
		argType := systemType.In(i)

		switch {
		case argType == typeOfLogger:
			args[i] = reflect.ValueOf(app.Logger())
		case argType == typeOfContext:
			args[i] = reflect.ValueOf(app.Context())
		case argType.Kind() == reflect.Pointer && argType.Elem() == typeOfCommands:
			args[i] = reflect.ValueOf(&Commands{app: app})
		case argType.Kind() == reflect.Pointer && app.resources[argType.Elem()] != nil:
			args[i] = reflect.ValueOf(app.resources[argType.Elem()])
		default:
			panic(fmt.Sprintf("Unable to resolve System dependency.\nSystem: %s\nSystem type: %s\nDependency: %s",
				systemName(system),
				fmt.Sprint(systemType),
				fmt.Sprint(argType),
			))
		}
	}

	out := systemValue.Call(args)
	if len(out) == 1 && systemType.Out(0) == typeOfError && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}

func systemName(system systemFn) string {
	return runtime.FuncForPC(reflect.ValueOf(system).Pointer()).Name()
}

// Context is the context of the current Run, or Background outside one.
func (app *App) Context() context.Context {
	if app.ctx == nil {
		return context.Background()
	}
	return app.ctx
}

func (app *App) FlushCommands() error {
	if len(app.pendingOps) == 0 {
		return nil
	}

	ops := app.pendingOps
	app.pendingOps = nil
	var errs []error
	for _, op := range ops {
		if err := op(app); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FatalError is a system failure that stops its domain.
type FatalError struct {
	Domain string
	Stage  string
	System string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s domain: %s/%s: %v", e.Domain, e.Stage, e.System, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
