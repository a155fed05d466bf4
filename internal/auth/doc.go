// Package auth verifies the access tokens presented to Fieldlink Core.
//
// Tokens are HS256 JWTs issued by the surrounding account service. A token
// carries the subject ID and a role; admins bypass device ownership checks,
// everyone else may only act on devices that list them as an owner.
package auth
