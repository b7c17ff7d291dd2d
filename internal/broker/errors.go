package broker

import (
	"fmt"

	"ibharvest/internal/logger"
)

// CodeSubmitFailed tags errors raised locally when a submit call fails.
const CodeSubmitFailed = -1

// Gateway notices that report healthy data-farm connections; they are not
// failures.
var noticeCodes = map[int]struct{}{
	2104: {}, // market data farm connection is OK
	2106: {}, // HMDS data farm connection is OK
	2107: {}, // HMDS data farm connection is inactive but available
	2108: {}, // market data farm connection is inactive but available
	2119: {}, // market data farm is connecting
	2158: {}, // sec-def data farm connection is OK
}

// IsNotice reports whether code is informational.
func IsNotice(code int) bool {
	_, ok := noticeCodes[code]
	return ok
}

func (e ErrorEvent) Error() string {
	return fmt.Sprintf("gateway error id %d errorcode %d string %s", e.ReqID, e.Code, e.Message)
}

func logGatewayError(e ErrorEvent) {
	if IsNotice(e.Code) {
		logger.Debugf("[broker] %s", e.Error())
		return
	}
	logger.Warnf("[broker] %s", e.Error())
}
