package callback

import "errors"

var ErrMalformedNotification = errors.New("malformed notification")
