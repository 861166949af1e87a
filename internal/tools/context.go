package tools

import "context"

// PageContext is the hidden context of the page the user is viewing,
// supplied by the calling client and never shown to the user verbatim.
type PageContext struct {
	PageID      string `json:"pageId"`
	PageTitle   string `json:"pageTitle"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId,omitempty"`
}

type pageContextKey struct{}

// WithPageContext attaches the request's page context so page-aware tools
// can read it during execution.
func WithPageContext(ctx context.Context, pc *PageContext) context.Context {
	if pc == nil {
		return ctx
	}
	return context.WithValue(ctx, pageContextKey{}, pc)
}

// PageContextFrom returns the attached page context, or nil.
func PageContextFrom(ctx context.Context) *PageContext {
	pc, _ := ctx.Value(pageContextKey{}).(*PageContext)
	return pc
}
