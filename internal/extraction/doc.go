// Package extraction selects the parts of the generated tree that are pushed
// to external repositories and renders them into a Bundle.
//
// Two kinds of documents are read from a Store: bundled API specifications
// (specs/bundled/<client>.<ext>) and guides. A tasks.SpecsPush selects specs
// by client, strips code samples and SLA sections unless asked to keep them
// and writes one file per spec. A tasks.GuidesPush either writes one file per
// guide or, when its output names a .json/.yml/.yaml file, a single mapping
// of guide identifier to content.
//
// Placeholder substitution runs last, on the filtered content, as a single
// pass that prefers longer keys. Every collection is sorted by identifier
// so identical inputs always produce byte-identical bundles.
//
// # Usage
//
//	store := extraction.NewFSStore("/path/to/monorepo")
//	bundle, err := extraction.Extract(ctx, store, task.Files)
//	if err != nil {
//	    return err // *errs.Error of kind extraction
//	}
//	for _, p := range bundle.Paths() {
//	    fmt.Println(p)
//	}
package extraction
