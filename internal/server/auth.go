package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	errMissingAuth   = errors.New("missing authorization header")
	errInvalidScheme = errors.New("invalid authorization scheme")
	errInvalidToken  = errors.New("invalid token")
)

// bearerAuth checks Authorization values against a shared token. An empty
// token admits every caller.
type bearerAuth struct {
	token string
}

func (a bearerAuth) disabled() bool { return a.token == "" }

func (a bearerAuth) check(header string) error {
	if a.disabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return errMissingAuth
	}
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return errInvalidScheme
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(credential)), []byte(a.token)) != 1 {
		return errInvalidToken
	}
	return nil
}

// checkMetadata reads the authorization key from incoming gRPC metadata.
func (a bearerAuth) checkMetadata(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	if err := a.check(header); err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	return nil
}

// Probes and scrapers reach these without a token.
var publicPaths = map[string]bool{
	"/v1/health": true,
	"/metrics":   true,
}

func publicMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/")
}

// AuthMiddleware requires a Bearer token on every request except GET
// /v1/health and GET /metrics. Adapter routes are covered too.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	auth := bearerAuth{token: token}
	if auth.disabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := auth.check(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="flowd"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthInterceptor is the unary counterpart of AuthMiddleware. The health
// service is exempt.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	auth := bearerAuth{token: token}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !auth.disabled() && !publicMethod(info.FullMethod) {
			if err := auth.checkMetadata(ctx); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor guards streaming RPCs such as reflection.
func StreamAuthInterceptor(token string) grpc.StreamServerInterceptor {
	auth := bearerAuth{token: token}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !auth.disabled() && !publicMethod(info.FullMethod) {
			if err := auth.checkMetadata(ss.Context()); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}
