// Package core runs training, evaluation, learning curves and prediction.
package core

import "github.com/nzoschke/vak/pkg/check"

// Precondition errors. Match them with errors.As.
type (
	NotADirectoryError = check.NotADirectoryError
	FileNotFoundError  = check.FileNotFoundError
	ValueError         = check.ValueError
)
