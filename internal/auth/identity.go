// Package auth resolves the acting user for workflow and export operations.
package auth

import (
	"context"
	"strings"

	"github.com/wolfman30/xray-diagnosis-platform/internal/http/middleware"
)

// ContextIdentity reads the user verified by middleware.UserJWT.
type ContextIdentity struct{}

// CurrentUser implements the identity collaborator.
func (ContextIdentity) CurrentUser(ctx context.Context) (string, bool) {
	return middleware.UserIDFromContext(ctx)
}

// StaticIdentity always reports the same user. Used by the CLI.
type StaticIdentity string

// CurrentUser reports the configured user; blank means signed out.
func (s StaticIdentity) CurrentUser(context.Context) (string, bool) {
	id := strings.TrimSpace(string(s))
	return id, id != ""
}
