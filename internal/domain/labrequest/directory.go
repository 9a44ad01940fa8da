package labrequest

import (
	"context"
	"sync"

	"github.com/ehr/labtracker/pkg/apperror"
)

// StaticDirectory is an in-process PatientDirectory keyed by patient id,
// used for demo data and tests in place of the clinical records service.
type StaticDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewStaticDirectory(names map[string]string) *StaticDirectory {
	d := &StaticDirectory{names: make(map[string]string, len(names))}
	for id, name := range names {
		d.names[id] = name
	}
	return d
}

func (d *StaticDirectory) Add(id, name string) {
	d.mu.Lock()
	d.names[id] = name
	d.mu.Unlock()
}

func (d *StaticDirectory) PatientName(_ context.Context, id string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[id]
	if !ok {
		return "", apperror.NotFound("patient %s not found", id)
	}
	return name, nil
}
