package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor returns a unary interceptor that logs the method,
// duration and error of every call. Health checks log at debug level.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	logger = logger.With("component", "grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		attrs := []any{"method", info.FullMethod, "duration", time.Since(start)}

		switch {
		case err != nil:
			logger.Error("rpc completed", append(attrs, "code", status.Code(err), "error", err)...)
		case info.FullMethod == healthCheckMethod:
			logger.Debug("rpc completed", attrs...)
		default:
			logger.Info("rpc completed", attrs...)
		}
		return resp, err
	}
}

// RecoveryInterceptor returns a unary interceptor that turns a handler
// panic into codes.Internal and logs the stack trace.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in gRPC handler",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// healthCheckMethod is exempt from bearer auth so health checkers need no secret.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// checkBearer validates an Authorization value against the service token
// and returns a client-facing reason on failure.
func checkBearer(header, token string) (reason string, ok bool) {
	if header == "" {
		return "missing authorization header", false
	}
	provided, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "invalid authorization scheme", false
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
		return "invalid token", false
	}
	return "", true
}

// AuthInterceptor returns a unary interceptor requiring the service bearer
// token in "authorization" metadata. An empty token disables the check.
// Health checks are always exempt.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || info.FullMethod == healthCheckMethod {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		var header string
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
		if reason, ok := checkBearer(header, token); !ok {
			return nil, status.Error(codes.Unauthenticated, reason)
		}
		return handler(ctx, req)
	}
}

// AuthMiddleware requires the service bearer token on every request except
// GET /v1/health and the channel endpoints, which carry a capability token
// instead. An empty token disables the check.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAuthExempt(r) {
			if reason, ok := checkBearer(r.Header.Get("Authorization"), token); !ok {
				writeError(w, http.StatusUnauthorized, reason)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isAuthExempt(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	return r.URL.Path == "/v1/health" ||
		strings.HasPrefix(r.URL.Path, "/v1/connect/") ||
		strings.HasPrefix(r.URL.Path, "/v1/stream/")
}
