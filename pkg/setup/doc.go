// Package setup implements the step engine behind ass. Plans are Starlark scripts that declare
// steps; each step lists prerequisites (programs, network access) and shell commands which are
// executed with mvdan.cc/sh so that a plan behaves the same regardless of the user's login shell.
package setup
