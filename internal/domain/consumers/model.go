package consumers

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindProject Kind = "project"
	KindCrew    Kind = "crew"
)

// Consumer identifies who an allocation is for. Absence is nil, never a
// placeholder string.
type Consumer struct {
	ProjectID *uuid.UUID
	CrewID    *uuid.UUID
}

func (c Consumer) Empty() bool {
	return c.ProjectID == nil && c.CrewID == nil
}

func ForProject(id uuid.UUID) Consumer { return Consumer{ProjectID: &id} }

func ForCrew(id uuid.UUID) Consumer { return Consumer{CrewID: &id} }

type Project struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

type Crew struct {
	ID        uuid.UUID
	Name      string
	ProjectID *uuid.UUID
	CreatedAt time.Time
}
