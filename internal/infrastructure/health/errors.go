package health

import "errors"

var errNoDispatcher = errors.New("no email dispatcher configured")
