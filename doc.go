// Package identity is the account and credential-lifecycle core of a
// multi-user web service: it creates accounts, authenticates password and
// Google-delegated logins, maintains server-side session state, and issues
// time-bounded signed tokens for email confirmation and password reset.
//
// Tokens are stateless. Confirmation tokens are signed with the server
// secret alone; reset tokens additionally fold the account's current
// password digest into the signing key, so changing the password
// invalidates every outstanding reset token without a revocation list.
//
// Storage is consumed through the narrow AccountStore interface (a Bun
// implementation ships in this package), email delivery through Notifier,
// and the delegated identity provider through DelegatedProvider. The HTTP
// surface is a Fiber controller registered with RegisterRoutes.
package identity
