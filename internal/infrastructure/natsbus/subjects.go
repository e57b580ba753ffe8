package natsbus

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSubjectPrefix roots every subject the controller uses.
const DefaultSubjectPrefix = "yeelight"

// Subjects builds NATS subjects of the form {prefix}.lamp.{id}.{kind}.
type Subjects struct {
	Prefix string
}

// NewSubjects returns subject builders rooted at prefix. An empty prefix
// uses DefaultSubjectPrefix; surrounding dots are removed.
func NewSubjects(prefix string) Subjects {
	prefix = strings.Trim(prefix, ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return Subjects{Prefix: prefix}
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultSubjectPrefix
	}
	return s.Prefix
}

// LampState is where a lamp's state JSON is published.
//
// Example: yeelight.lamp.1385535.state
func (s Subjects) LampState(id int64) string {
	return fmt.Sprintf("%s.lamp.%d.state", s.prefix(), id)
}

// LampCommand is where commands for a lamp arrive.
//
// Example: yeelight.lamp.1385535.command
func (s Subjects) LampCommand(id int64) string {
	return fmt.Sprintf("%s.lamp.%d.command", s.prefix(), id)
}

// LampRemoved announces that a lamp left the registry.
//
// Example: yeelight.lamp.1385535.removed
func (s Subjects) LampRemoved(id int64) string {
	return fmt.Sprintf("%s.lamp.%d.removed", s.prefix(), id)
}

// AllLampCommands matches the command subject of every lamp.
//
// Pattern: yeelight.lamp.*.command
func (s Subjects) AllLampCommands() string {
	return s.prefix() + ".lamp.*.command"
}

// LampIDFromSubject extracts the id from {prefix}.lamp.{id}.{kind}.
func (s Subjects) LampIDFromSubject(subject string) (int64, bool) {
	rest, found := strings.CutPrefix(subject, s.prefix()+".lamp.")
	if !found {
		return 0, false
	}
	idPart, _, found := strings.Cut(rest, ".")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
