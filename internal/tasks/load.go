package tasks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/flapjackhq/codegen/internal/errs"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of the repositories file:
//
//	repositories:
//	  docs:
//	    repository: flapjackhq/docs
//	    base_branch: main
//	    tasks:
//	      - pr_branch: feat/automated-update-for-specs
//	        commit_message: "feat: update specs"
//	        files:
//	          type: specs
//	          ext: yml
//	          output: specs
//	          placeholder_variables:
//	            "openapi: 3.0.2": "openapi: 3.1.0"
type File struct {
	Repositories map[string]repositoryDoc `yaml:"repositories"`
}

type repositoryDoc struct {
	Repository string    `yaml:"repository"`
	BaseBranch string    `yaml:"base_branch"`
	Tasks      []taskDoc `yaml:"tasks"`
}

type taskDoc struct {
	PRBranch      string   `yaml:"pr_branch"`
	CommitMessage string   `yaml:"commit_message"`
	Files         filesDoc `yaml:"files"`
}

// filesDoc is the union of both FileSpec variants as written by humans.
type filesDoc struct {
	Type                 Kind              `yaml:"type"`
	Output               string            `yaml:"output"`
	PlaceholderVariables map[string]string `yaml:"placeholder_variables"`

	// guides
	Names []string `yaml:"names"`

	// specs
	Ext             Ext      `yaml:"ext"`
	IncludeSnippets bool     `yaml:"include_snippets"`
	IncludeSLA      bool     `yaml:"include_sla"`
	Clients         []string `yaml:"clients"`
}

// Load reads a repositories file. Repositories without an explicit
// "repository" default to defaultOwner/<id>.
func Load(path, defaultOwner string) (Configurations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Configuration("read repositories file", err, "path", path)
	}
	cfgs, err := Parse(bytes.NewReader(data), defaultOwner)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return nil, e.With("path", path)
		}
		return nil, err
	}
	return cfgs, nil
}

// Parse decodes and validates a repositories document. Unknown keys are
// rejected.
func Parse(r io.Reader, defaultOwner string) (Configurations, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc File
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.Configuration("parse repositories file", err)
	}

	ids := make([]string, 0, len(doc.Repositories))
	for id := range doc.Repositories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cfgs := make(Configurations, 0, len(ids))
	for _, id := range ids {
		raw := doc.Repositories[id]
		cfg := RepositoryConfiguration{
			ID:         id,
			Repository: raw.Repository,
			BaseBranch: raw.BaseBranch,
		}
		if cfg.Repository == "" && defaultOwner != "" {
			cfg.Repository = defaultOwner + "/" + id
		}
		for _, t := range raw.Tasks {
			cfg.Tasks = append(cfg.Tasks, RepositoryTask{
				PRBranch:      t.PRBranch,
				CommitMessage: t.CommitMessage,
				Files:         t.Files.fileSpec(),
			})
		}
		if err := Validate(cfg); err != nil {
			return nil, errs.Configuration("validate repository", err, "repo", id)
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func (f filesDoc) fileSpec() FileSpec {
	switch f.Type {
	case KindGuides:
		return GuidesPush{
			Names:                f.Names,
			Output:               f.Output,
			PlaceholderVariables: f.PlaceholderVariables,
		}
	case KindSpecs:
		return SpecsPush{
			Ext:                  f.Ext,
			IncludeSnippets:      f.IncludeSnippets,
			IncludeSLA:           f.IncludeSLA,
			Output:               f.Output,
			PlaceholderVariables: f.PlaceholderVariables,
			Clients:              f.Clients,
		}
	}
	return unknownFiles{kind: f.Type, doc: f}
}

// unknownFiles carries an unrecognised type through to Validate so the
// error names the offending task.
type unknownFiles struct {
	kind Kind
	doc  filesDoc
}

func (u unknownFiles) Kind() Kind                 { return u.kind }
func (u unknownFiles) OutputPath() string         { return u.doc.Output }
func (u unknownFiles) Placeholders() Placeholders { return u.doc.PlaceholderVariables }
func (unknownFiles) isFileSpec()                  {}

// String renders a short description of the file spec for logs.
func String(f FileSpec) string {
	switch v := f.(type) {
	case GuidesPush:
		return fmt.Sprintf("guides -> %s", v.Output)
	case SpecsPush:
		return fmt.Sprintf("specs(%s) -> %s", v.Ext, v.Output)
	default:
		return fmt.Sprintf("%s -> %s", f.Kind(), f.OutputPath())
	}
}
