package messagingrpc

import (
	"context"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	chatsvc "rentchat/internal/app/services/chat"
)

func TestAdminOverrideIsReadOnly(t *testing.T) {
	admin := context.WithValue(context.Background(), principalKey{}, principal{UserID: "admin-1", Admin: true})
	tenant := context.WithValue(context.Background(), principalKey{}, principal{UserID: "tenant-1"})

	cases := []struct {
		name  string
		check func(context.Context, string) error
		ctx   context.Context
		user  string
		want  codes.Code
	}{
		{name: "admin reads other inbox", check: authorizeRead, ctx: admin, user: "tenant-1", want: codes.OK},
		{name: "admin writes as other user", check: authorize, ctx: admin, user: "tenant-1", want: codes.PermissionDenied},
		{name: "admin writes as self", check: authorize, ctx: admin, user: "admin-1", want: codes.OK},
		{name: "tenant reads other inbox", check: authorizeRead, ctx: tenant, user: "tenant-2", want: codes.PermissionDenied},
		{name: "tenant writes as self", check: authorize, ctx: tenant, user: " tenant-1 ", want: codes.OK},
		{name: "no interceptor", check: authorize, ctx: context.Background(), user: "anyone", want: codes.OK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := status.Code(tc.check(tc.ctx, tc.user)); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSendMessageRejectsAdminImpersonation(t *testing.T) {
	admin := context.WithValue(context.Background(), principalKey{}, principal{UserID: "admin-1", Admin: true})
	srv := &Server{Messaging: &chatsvc.Service{}}
	_, err := srv.SendMessage(admin, &SendMessageRequest{SenderID: "tenant-1", RecipientID: "landlord-1", ListingID: "listing-1", Content: "hi"})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("expected permission denied, got %v", err)
	}
}
