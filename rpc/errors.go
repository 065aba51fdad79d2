package rpc

import "errors"

var (
	// ErrNoProvider is returned when invoke finds no subscription with
	// provideRpc=true matching the target object.
	ErrNoProvider = errors.New("rpc: no provider subscription matches object")

	// ErrUnknownInvocation is returned by Result when the invocation id
	// doesn't exist, or exists but the caller isn't its recorded
	// provider (the two cases are indistinguishable on purpose, so a
	// client can't probe for invocation ids it doesn't own).
	ErrUnknownInvocation = errors.New("rpc: unknown invocation")

	// ErrProviderDisconnected is the cascade failure delivered to a
	// requester when its provider's subscription is lost before
	// answering.
	ErrProviderDisconnected = errors.New("rpc: provider disconnected")
)
