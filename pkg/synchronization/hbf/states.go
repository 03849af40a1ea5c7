package hbf

import (
	"net/http"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
)

// classifyStatus maps an HTTP response status from a block PUT to the
// error taxonomy, separating the statuses a caller can act on (auth,
// proxy auth, timeout, quota) from generic HTTP failures.
func classifyStatus(status int) csyncerrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return csyncerrors.Auth
	case status == http.StatusProxyAuthRequired:
		return csyncerrors.ProxyAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return csyncerrors.Timeout
	case status == http.StatusInsufficientStorage || status == http.StatusPaymentRequired:
		return csyncerrors.Quota
	case status >= 200 && status < 300:
		return csyncerrors.None
	default:
		return csyncerrors.HTTP
	}
}

// statusError builds a taxonomized error for a failed block PUT.
func statusError(block int, status int) error {
	code := classifyStatus(status)
	err := csyncerrors.New(code, "block %d: unexpected status %d", block, status)
	if code == csyncerrors.HTTP {
		err = err.WithHTTPStatus(status)
	}
	return err
}

// classifyTransportError maps a transport-level failure (connection
// refused, DNS failure, etc., as opposed to an HTTP status) to Connect.
func classifyTransportError(cause error) error {
	return csyncerrors.Wrap(csyncerrors.Connect, cause, "connecting to remote")
}
