package tasks

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Validate checks a configuration for completeness and consistency. It
// collects every problem and returns them via errors.Join.
func Validate(cfg RepositoryConfiguration) error {
	var errs []error
	check := func(cond bool, field, msg string) {
		if !cond {
			errs = append(errs, fmt.Errorf("%s: %s", field, msg))
		}
	}

	owner, name, ok := strings.Cut(cfg.Repository, "/")
	check(ok && owner != "" && name != "" && !strings.Contains(name, "/"),
		"repository", fmt.Sprintf("must be owner/name (got %q)", cfg.Repository))
	check(cfg.BaseBranch != "", "base_branch", "required")

	for i, t := range cfg.Tasks {
		p := fmt.Sprintf("tasks[%d]", i)
		check(t.PRBranch != "", p+".pr_branch", "required")
		check(t.PRBranch == "" || t.PRBranch != cfg.BaseBranch, p+".pr_branch",
			fmt.Sprintf("must differ from base_branch %q", cfg.BaseBranch))
		check(t.CommitMessage != "", p+".commit_message", "required")
		if t.Files == nil {
			errs = append(errs, fmt.Errorf("%s.files: required", p))
			continue
		}
		errs = append(errs, validateFiles(p+".files", t.Files)...)
	}
	return errors.Join(errs...)
}

func validateFiles(p string, f FileSpec) []error {
	var errs []error
	check := func(cond bool, field, msg string) {
		if !cond {
			errs = append(errs, fmt.Errorf("%s.%s: %s", p, field, msg))
		}
	}

	if err := ValidateOutput(f.OutputPath()); err != nil {
		errs = append(errs, fmt.Errorf("%s.output: %w", p, err))
	}
	if err := f.Placeholders().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s.placeholder_variables: %w", p, err))
	}

	switch v := f.(type) {
	case GuidesPush:
		ext := path.Ext(v.Output)
		check(ext == "" || ext == ".json" || ext == ".yml" || ext == ".yaml", "output",
			fmt.Sprintf("aggregated guides must be .json, .yml or .yaml (got %q)", ext))
		check(noBlanks(v.Names), "names", "must not contain empty names")
	case SpecsPush:
		check(v.Ext == ExtJSON || v.Ext == ExtYML, "ext",
			fmt.Sprintf("must be json or yml (got %q)", v.Ext))
		check(noBlanks(v.Clients), "clients", "must not contain empty names")
	default:
		check(false, "type", fmt.Sprintf("must be guides or specs (got %q)", f.Kind()))
	}
	return errs
}

// ValidateOutput requires a non-empty slash path that stays inside the target
// repository root.
func ValidateOutput(output string) error {
	if output == "" {
		return errors.New("required")
	}
	if strings.Contains(output, `\`) {
		return fmt.Errorf("must use forward slashes (got %q)", output)
	}
	clean := path.Clean(output)
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return fmt.Errorf("must be a relative path inside the repository (got %q)", output)
	}
	return nil
}

func noBlanks(items []string) bool {
	for _, s := range items {
		if strings.TrimSpace(s) == "" {
			return false
		}
	}
	return true
}
