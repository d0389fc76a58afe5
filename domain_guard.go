package voxmesh

import (
	"fmt"
	"reflect"
)

const (
	DomainControl = "control"
	DomainGpu     = "gpu"
)

// DomainTag records which side of the pipeline an App serves. Modules that
// only make sense on one side claim it while installing.
type DomainTag struct {
	Name string
}

// claimDomain panics when a module for one domain is installed into an App
// already claimed by the other.
func claimDomain(app *App, name string) {
	if app == nil {
		panic("claimDomain: app is nil")
	}
	t := reflect.TypeOf((*DomainTag)(nil)).Elem()
	if res, ok := app.resources[t]; ok {
		if tag, ok2 := res.(*DomainTag); ok2 {
			if tag.Name != name {
				app.Logger().Errorf("%s module installed into the %s domain", name, tag.Name)
				panic(fmt.Sprintf("%s module installed into the %s domain", name, tag.Name))
			}
			return
		}
		panic("DomainTag resource present with unexpected type")
	}
	app.addResources(&DomainTag{Name: name})
}
