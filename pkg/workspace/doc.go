// Package workspace loads the verification setup of a cargo workspace.
// The setup is declared in a Starlark file (verify.star) whose configure() function
// registers toolchains, targets, workspace members and jobs. Cargo manifests are read to
// discover members and to detect configuration that only works for the cross target.
package workspace
