// Package scanning runs one assessment of one target from start to finish.
//
// A scan proceeds in a fixed order:
//
//  1. a scan row is created in the store, so every execution record and
//     finding of the run has a scan id to hang off;
//  2. a scratch directory is created and exposed to rule documents as
//     [save_path];
//  3. the target is shell quoted and, together with the rule and plugin
//     directories, becomes the placeholder context;
//  4. either the requested bullet set runs, or the default profile runs a
//     port scan and the bullet sets its open ports select;
//  5. the finding tables are merged and persisted;
//  6. the scan run time is stored and the report is loaded back.
//
// The scratch directory is removed when the scan ends, whether it succeeded
// or not. Scanner is safe for concurrent use as long as its store is, which
// is how mass runs scan many targets at once.
package scanning
