// Package generation runs the external code generator over the monorepo and
// garbage-collects the files it no longer produces.
//
// A run is a single transaction:
//
//  1. every file under the root is classified with the ownership patterns;
//  2. owned files are staged for deletion and, unless disabled, copied to a
//     snapshot;
//  3. the Generator is called with exactly the owned paths;
//  4. on success, staged files the generator did not write are deleted and
//     directories left empty are pruned;
//  5. on failure, nothing is deleted, owned files are restored from the
//     snapshot and owned files the generator created are removed.
//
// Hand-written (preserved) files are never passed to the generator, deleted
// or restored. Runs on the same root are mutually exclusive, both within the
// process and across processes through a lock file in the root.
package generation
