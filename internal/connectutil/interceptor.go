package connectutil

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// CodeOK labels successful calls.
const CodeOK = "ok"

// RPCObserver receives one record per finished call.
type RPCObserver interface {
	RecordRPC(procedure, code string, durationSeconds float64)
}

type observingInterceptor struct {
	observer RPCObserver
}

// NewObservingInterceptor logs every call and, when obs is non-nil, reports
// its procedure, status code and duration.
func NewObservingInterceptor(obs RPCObserver) connect.Interceptor {
	return &observingInterceptor{observer: obs}
}

func (o *observingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		o.finish(ctx, req.Spec(), start, err)
		return resp, err
	}
}

func (o *observingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		slog.DebugContext(ctx, "rpc stream open", slog.String("procedure", spec.Procedure))
		return next(ctx, spec)
	}
}

func (o *observingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		err := next(ctx, conn)
		// A watcher hanging up is the normal end of a stream.
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		o.finish(ctx, conn.Spec(), start, err)
		return err
	}
}

func (o *observingInterceptor) finish(ctx context.Context, spec connect.Spec, start time.Time, err error) {
	elapsed := time.Since(start)
	code := statusCode(err)
	attrs := []any{
		slog.String("procedure", spec.Procedure),
		slog.Duration("duration", elapsed),
		slog.String("code", code),
		slog.Bool("streaming", spec.StreamType != connect.StreamTypeUnary),
	}
	switch {
	case err == nil:
		slog.DebugContext(ctx, "rpc ok", attrs...)
	case isClientFault(connect.CodeOf(err)):
		slog.InfoContext(ctx, "rpc rejected", append(attrs, slog.String("error", err.Error()))...)
	default:
		slog.WarnContext(ctx, "rpc error", append(attrs, slog.String("error", err.Error()))...)
	}
	if o.observer != nil {
		o.observer.RecordRPC(spec.Procedure, code, elapsed.Seconds())
	}
}

func statusCode(err error) string {
	if err == nil {
		return CodeOK
	}
	return connect.CodeOf(err).String()
}

// isClientFault reports codes caused by the request rather than the server.
func isClientFault(c connect.Code) bool {
	switch c {
	case connect.CodeInvalidArgument, connect.CodeNotFound, connect.CodeAlreadyExists,
		connect.CodeFailedPrecondition, connect.CodeAborted, connect.CodePermissionDenied,
		connect.CodeUnauthenticated:
		return true
	}
	return false
}
