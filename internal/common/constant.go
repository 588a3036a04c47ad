package common

// AuthorizationHeaderName is the HTTP header / gRPC metadata key carrying
// the bearer access token.
const AuthorizationHeaderName = "authorization"

// BearerPrefix precedes the access token in the authorization header.
const BearerPrefix = "Bearer "

// RefreshTokenCookieName is the HTTP-only cookie set on login and refresh.
const RefreshTokenCookieName = "refreshToken"

// DefaultSystemAccountCode is the employee code used as the actor when a
// write happens outside any authenticated session.
const DefaultSystemAccountCode = "0000000000"
