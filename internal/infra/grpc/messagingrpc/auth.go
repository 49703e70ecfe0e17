package messagingrpc

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"rentchat/internal/app/services/auth"
	domainuser "rentchat/internal/domain/user"
)

const authorizationHeader = "authorization"

type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*auth.ResolveResult, error)
}

type principal struct {
	UserID string
	Admin  bool
}

type principalKey struct{}

// UnaryAuthInterceptor resolves the bearer credential in the authorization
// metadata and stores the caller on the context. Calls without a valid
// credential are rejected with Unauthenticated.
func UnaryAuthInterceptor(resolver TokenResolver, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		token := bearerFromMetadata(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer credential")
		}
		resolved, err := resolver.ResolveToken(ctx, token)
		if err != nil {
			if logger != nil {
				logger.Debug("grpc credential rejected", "method", info.FullMethod, "error", err)
			}
			return nil, status.Error(codes.Unauthenticated, "invalid credential")
		}
		p := principal{
			UserID: string(resolved.User.ID),
			Admin:  resolved.Identity.HasRole(domainuser.RoleAdmin),
		}
		return handler(context.WithValue(ctx, principalKey{}, p), req)
	}
}

func bearerFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(authorizationHeader) {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
	}
	return ""
}

// authorize checks that the caller acts as userID. Without the interceptor
// installed every call is trusted.
func authorize(ctx context.Context, userID string) error {
	return checkCaller(ctx, userID, false)
}

// authorizeRead is authorize for read-only calls, where admins may look at
// any user's conversations.
func authorizeRead(ctx context.Context, userID string) error {
	return checkCaller(ctx, userID, true)
}

func checkCaller(ctx context.Context, userID string, adminOK bool) error {
	p, ok := ctx.Value(principalKey{}).(principal)
	if !ok {
		return nil
	}
	if p.UserID == strings.TrimSpace(userID) || (adminOK && p.Admin) {
		return nil
	}
	return status.Error(codes.PermissionDenied, "caller may not act for another user")
}

// BearerCredentials attaches a bearer token to every call.
type BearerCredentials struct {
	Token string
}

func (c BearerCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if c.Token == "" {
		return nil, nil
	}
	return map[string]string{authorizationHeader: "Bearer " + c.Token}, nil
}

func (c BearerCredentials) RequireTransportSecurity() bool {
	return false
}
