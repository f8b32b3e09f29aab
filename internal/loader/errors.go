package loader

import "fmt"

// FatalFileError reports a structural problem that aborts the remaining rows
// of a file. Rows already written stand.
type FatalFileError struct {
	File   string
	Column string
}

func (e *FatalFileError) Error() string {
	return fmt.Sprintf("loader: column %q not found in %s, file skipped", e.Column, e.File)
}

// UnknownGroupError means extraction met a group no branch handles. It is a
// logic defect, never a data problem, and always aborts the load.
type UnknownGroupError struct {
	File  string
	Row   int
	Group Group
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("loader: BUG: unknown group %s at %s:%d", e.Group, e.File, e.Row)
}
