// Package model defines the domain types and value objects for the
// docker-build-step CLI.
//
// The package holds the two kinds of records that build steps attach to a
// build (ContainerInfoRecord and ExecInfoRecord), modelled as a closed sum
// type behind the Record interface. Records are immutable facts: once a
// step has appended one to the build's record store it is never changed.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
