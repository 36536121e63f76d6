package connectutil

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/security"
	connectInterceptors "github.com/pitabwire/frame/security/interceptors/connect"
	securityhttp "github.com/pitabwire/frame/security/interceptors/httptor"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const maxConcurrentStreams = 250

type settings struct {
	observer RPCObserver
}

// Option configures the handler and client option sets.
type Option func(*settings)

// WithObserver reports every RPC outcome to o.
func WithObserver(o RPCObserver) Option {
	return func(s *settings) { s.observer = o }
}

func apply(opts []Option) settings {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	return s
}

// DefaultOptions returns unauthenticated handler options: the JSON codec and
// the observing interceptor.
func DefaultOptions(opts ...Option) []connect.HandlerOption {
	s := apply(opts)
	return []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewObservingInterceptor(s.observer)),
	}
}

// AuthenticatedOptions prepends frame's security chain (tracing, validation,
// bearer authentication) to the default options.
func AuthenticatedOptions(ctx context.Context, authenticator security.Authenticator, opts ...Option) ([]connect.HandlerOption, error) {
	interceptors, err := connectInterceptors.DefaultList(ctx, authenticator)
	if err != nil {
		return nil, err
	}
	s := apply(opts)
	interceptors = append(interceptors, NewObservingInterceptor(s.observer))

	return []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(interceptors...),
	}, nil
}

// AuthenticatedHTTPMiddleware validates bearer tokens on the REST endpoints.
func AuthenticatedHTTPMiddleware(handler http.Handler, authenticator security.Authenticator) http.Handler {
	return securityhttp.AuthenticationMiddleware(handler, authenticator)
}

// DefaultClientOptions returns client options matching DefaultOptions.
func DefaultClientOptions(opts ...Option) []connect.ClientOption {
	s := apply(opts)
	return []connect.ClientOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithInterceptors(NewObservingInterceptor(s.observer)),
	}
}

// H2CHandler serves HTTP/2 without TLS so WatchEvents streams work behind
// plain-text load balancers.
func H2CHandler(handler http.Handler) http.Handler {
	return h2c.NewHandler(handler, &http2.Server{
		MaxConcurrentStreams: maxConcurrentStreams,
		MaxReadFrameSize:     1 << 20,
	})
}
