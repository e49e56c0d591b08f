package portal

import "errors"

var (
	// ErrAuthTokenMissing means the login page no longer carries the WebForms
	// hidden fields, which usually means the portal layout changed.
	ErrAuthTokenMissing = errors.New("portal: login form tokens not found")

	// ErrAuthFailed means the credentials were rejected, the session cookie
	// did not show up after login, or the session expired server-side.
	ErrAuthFailed = errors.New("portal: authentication failed")
)
