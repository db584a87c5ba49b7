package export

import "fmt"

// ExportError is an I/O failure while building a dataset. The export is
// abandoned and its temporary tree removed.
type ExportError struct {
	Op   string
	Path string
	Err  error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
