package errors

import (
	"fmt"
)

var (
	ErrStore          = fmt.Errorf("parley: store error")
	ErrNotFound       = fmt.Errorf("parley: not found")
	ErrNoMore         = fmt.Errorf("parley: no more")
	ErrInvalidParams  = fmt.Errorf("parley: invalid params")
	ErrInternal       = fmt.Errorf("parley: internal error")
	ErrInvalidRequest = fmt.Errorf("parley: invalid request")
)
