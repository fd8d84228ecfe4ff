// Package version holds the toolkit version recorded in logs and checkpoints.
package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Version is the toolkit version.
const Version = "1.0.0"

// Parse returns Version as a comparable version value.
func Parse() *goversion.Version {
	return goversion.Must(goversion.NewVersion(Version))
}

// Compatible returns an error if other was written by a toolkit with a
// different major version.
func Compatible(other string) error {
	v, err := goversion.NewVersion(other)
	if err != nil {
		return fmt.Errorf("parse version %q: %w", other, err)
	}
	if v.Segments()[0] != Parse().Segments()[0] {
		return fmt.Errorf("written by vak %s, incompatible with vak %s", other, Version)
	}
	return nil
}
