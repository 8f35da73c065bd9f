package token

import "errors"

var (
	// ErrSigningUnavailable indicates no active signing key could be used
	ErrSigningUnavailable = errors.New("signing unavailable")

	// ErrTokenGeneration indicates token generation failed
	ErrTokenGeneration = errors.New("failed to generate token")

	// ErrInvalidToken indicates the token is invalid
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token has expired
	ErrExpiredToken = errors.New("token expired")

	// ErrWrongTokenUse indicates an ID token was presented where an access token was expected, or vice versa
	ErrWrongTokenUse = errors.New("wrong token use")
)
