package proxy

import (
	"context"
	"errors"
	"net"
	"os"
)

// ProxyClient forwards a prepared request to the backend.
type ProxyClient interface {
	Forward(ctx context.Context, prepared *PreparedProxyRequest) (*ProxyResponse, error)
}

// ErrUpstreamTimeout is returned (possibly wrapped) by proxy clients
// when the backend exceeded the request timeout.
var ErrUpstreamTimeout = errors.New("upstream timeout")

// Classify maps a forward outcome to its GatewayResult. Deterministic
// on the error kind: timeouts become GatewayTimeout, any other
// transport failure becomes UpstreamError, success passes the filtered
// response through.
func Classify(resp *ProxyResponse, err error) GatewayResult {
	if err != nil {
		if isTimeout(err) {
			return GatewayTimeout{}
		}
		return UpstreamError{Message: err.Error()}
	}
	return Success{
		Status: resp.Status,
		Header: FilterResponseHeaders(resp.Header),
		Body:   resp.Body,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
