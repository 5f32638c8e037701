package model

import (
	"strings"

	"github.com/umeshshetty/peoples-agent/internal/core/common"
)

type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityProject      EntityType = "Project"
	EntityTopic        EntityType = "Topic"
	EntityTool         EntityType = "Tool"
	EntityOrganization EntityType = "Organization"
	EntityPlace        EntityType = "Place"
	EntitySkill        EntityType = "Skill"
	EntityConcept      EntityType = "Concept"
)

var entityTypes = map[string]EntityType{
	"person":       EntityPerson,
	"project":      EntityProject,
	"topic":        EntityTopic,
	"tool":         EntityTool,
	"organization": EntityOrganization,
	"place":        EntityPlace,
	"skill":        EntitySkill,
	"concept":      EntityConcept,
}

// ParseEntityType maps free text onto the closed set; unknown values become Concept.
func ParseEntityType(s string) EntityType {
	if t, ok := entityTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return EntityConcept
}

type Entity struct {
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`
}

// Key identifies the real-world referent: type plus case- and whitespace-insensitive name.
func (e Entity) Key() string {
	return EntityKey(e.Type, e.Name)
}

func EntityKey(t EntityType, name string) string {
	return strings.ToLower(string(t)) + ":" + common.NormalizeName(name)
}

// HasProfile reports whether synthesis keeps a profile for this entity type.
func (e Entity) HasProfile() bool {
	return e.Type == EntityPerson || e.Type == EntityProject
}

type Category string

const (
	CategoryUrgent      Category = "urgent"
	CategoryPeople      Category = "people"
	CategoryProjects    Category = "projects"
	CategoryMeetings    Category = "meetings"
	CategoryTasks       Category = "tasks"
	CategoryIdeas       Category = "ideas"
	CategoryLearning    Category = "learning"
	CategoryReflections Category = "reflections"
)

var categories = map[string]Category{
	"urgent":      CategoryUrgent,
	"people":      CategoryPeople,
	"projects":    CategoryProjects,
	"meetings":    CategoryMeetings,
	"tasks":       CategoryTasks,
	"ideas":       CategoryIdeas,
	"learning":    CategoryLearning,
	"reflections": CategoryReflections,
}

// ParseCategory reports whether s names a category in the closed set.
func ParseCategory(s string) (Category, bool) {
	c, ok := categories[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}
