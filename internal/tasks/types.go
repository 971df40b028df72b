// Package tasks describes what gets pushed to external repositories.
//
// A RepositoryConfiguration names a target repository and an ordered list of
// tasks. Each task publishes one FileSpec (a set of guides or a set of API
// specs) on its own pull request branch.
package tasks

import (
	"slices"
	"strings"
)

// Kind names the FileSpec variant.
type Kind string

const (
	KindGuides Kind = "guides"
	KindSpecs  Kind = "specs"
)

// Ext is the serialisation of pushed specs.
type Ext string

const (
	ExtJSON Ext = "json"
	ExtYML  Ext = "yml"
)

// FileSpec is the closed set of payloads a task can push: GuidesPush or
// SpecsPush.
type FileSpec interface {
	Kind() Kind
	// OutputPath is the slash-separated location inside the target
	// repository the bundle is written to.
	OutputPath() string
	Placeholders() Placeholders

	isFileSpec()
}

// GuidesPush publishes generated guides.
type GuidesPush struct {
	// Names selects guides by identifier. Empty means all.
	Names []string
	// Output is a directory (one file per guide) or a .json/.yml/.yaml file
	// aggregating every selected guide.
	Output               string
	PlaceholderVariables Placeholders
}

func (GuidesPush) Kind() Kind                   { return KindGuides }
func (g GuidesPush) OutputPath() string         { return g.Output }
func (g GuidesPush) Placeholders() Placeholders { return g.PlaceholderVariables }
func (GuidesPush) isFileSpec()                  {}

// SpecsPush publishes bundled API specifications.
type SpecsPush struct {
	Ext                  Ext
	IncludeSnippets      bool
	IncludeSLA           bool
	Output               string
	PlaceholderVariables Placeholders
	// Clients selects specs by client identifier. Empty means all.
	Clients []string
}

func (SpecsPush) Kind() Kind                   { return KindSpecs }
func (s SpecsPush) OutputPath() string         { return s.Output }
func (s SpecsPush) Placeholders() Placeholders { return s.PlaceholderVariables }
func (SpecsPush) isFileSpec()                  {}

// RepositoryTask is one pull request to maintain.
type RepositoryTask struct {
	PRBranch      string
	CommitMessage string
	Files         FileSpec
}

// RepositoryConfiguration is the set of tasks for one external repository.
type RepositoryConfiguration struct {
	// ID is the key of the configuration in the repositories file.
	ID string
	// Repository is the "owner/name" of the target.
	Repository string
	BaseBranch string
	Tasks      []RepositoryTask
}

// Owner returns the owner part of Repository.
func (c RepositoryConfiguration) Owner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// Name returns the name part of Repository.
func (c RepositoryConfiguration) Name() string {
	_, name, _ := strings.Cut(c.Repository, "/")
	return name
}

// Configurations is the loaded repositories file, sorted by ID.
type Configurations []RepositoryConfiguration

// IDs returns the configuration identifiers in order.
func (cs Configurations) IDs() []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}

// Get returns the configuration with the given ID.
func (cs Configurations) Get(id string) (RepositoryConfiguration, bool) {
	i := slices.IndexFunc(cs, func(c RepositoryConfiguration) bool { return c.ID == id })
	if i < 0 {
		return RepositoryConfiguration{}, false
	}
	return cs[i], true
}
