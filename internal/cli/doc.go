// Package cli parses command-line arguments, runs the selected command
// against a build session and maps failures to process exit codes.
package cli
