// Package check holds the precondition errors surfaced by the core and the
// helpers that produce them. Callers match them with errors.As.
package check

import (
	"fmt"
	"os"
)

// NotADirectoryError reports a directory argument that does not exist or is
// not a directory.
type NotADirectoryError struct {
	Name string
	Path string
}

func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("%s not found or not recognized as a directory: %s", e.Name, e.Path)
}

// FileNotFoundError reports a file argument that does not exist.
type FileNotFoundError struct {
	Name string
	Path string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Name, e.Path)
}

// ValueError reports an invalid or missing argument value.
type ValueError struct {
	Name string
	Msg  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Name, e.Msg)
}

// Valuef returns a ValueError for the named argument.
func Valuef(name, format string, args ...any) error {
	return &ValueError{Name: name, Msg: fmt.Sprintf(format, args...)}
}

// Dir returns a NotADirectoryError unless path is an existing directory.
func Dir(name, path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return &NotADirectoryError{Name: name, Path: path}
	}
	return nil
}

// File returns a FileNotFoundError unless path is an existing regular file.
func File(name, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &FileNotFoundError{Name: name, Path: path}
	}
	return nil
}
