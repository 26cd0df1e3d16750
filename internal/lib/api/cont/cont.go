package cont

import "context"

type contextKey string

const userKey contextKey = "user"

// PutUser stores the authenticated console username in the context.
func PutUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

// GetUser returns the authenticated console username, or "" when the
// request did not pass authentication.
func GetUser(ctx context.Context) string {
	username, _ := ctx.Value(userKey).(string)
	return username
}
