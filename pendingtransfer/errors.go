package pendingtransfer

import "errors"

var errIntentNotFound = errors.New("pendingtransfer: intent not found")
