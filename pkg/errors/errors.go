// Package errors provides structured, coded errors for the PropFirmFlow API.
// Every failure that crosses a package boundary is an *Error carrying a
// machine-readable [Code]; the HTTP layer maps the code's category to a
// status code, and handlers never build status codes by hand.
//
// Create errors with [New] or [Newf], wrap underlying causes with [Wrap] or
// [Wrapf], and inspect them with [AsError], [GetCode], and the Is* helpers:
//
//	if err := store.FindByExternalID(ctx, sub); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "identity lookup failed")
//	}
//
// Authentication codes (AUTH_xxx) deserve a note: the token verifier
// produces a distinct code per rejection reason (expired, bad signature,
// issuer mismatch, ...) so operators can see in the logs why a token was
// refused, but the HTTP layer collapses all of them into one generic 401
// response so the reason is never disclosed to the caller.
package errors
