package clock

import (
	"time"

	"go.uber.org/fx"
)

var Module = fx.Module("clock",
	fx.Provide(New),
)

type Clock interface {
	Now() time.Time
}

type System struct{}

func New() Clock {
	return System{}
}

func (System) Now() time.Time {
	return time.Now().UTC()
}
