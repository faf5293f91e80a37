package config

import "reflect"

// ChangedSections reports which top-level sections differ between two
// configs, so hot-reload can apply only what moved.
type ChangedSections struct {
	Logging bool
	Engine  bool
	History bool
	Jobs    bool
}

func (c ChangedSections) Any() bool {
	return c.Logging || c.Engine || c.History || c.Jobs
}

func Diff(old, new *Config) ChangedSections {
	if old == nil || new == nil {
		return ChangedSections{Logging: true, Engine: true, History: true, Jobs: true}
	}
	return ChangedSections{
		Logging: !reflect.DeepEqual(old.Logging, new.Logging),
		Engine:  !reflect.DeepEqual(old.Engine, new.Engine),
		History: !reflect.DeepEqual(old.History, new.History),
		Jobs:    !reflect.DeepEqual(old.Jobs, new.Jobs),
	}
}
