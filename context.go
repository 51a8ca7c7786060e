package oauth

import "context"

type contextKey string

const subjectKey contextKey = "subject"

// ContextWithSubject attaches the authenticated user to a request context.
// Middleware in front of the authorization endpoint uses it so the issued
// code, and the tokens minted from it, carry that subject.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// SubjectFromContext returns the subject set by ContextWithSubject
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok && subject != ""
}
