package models

import "github.com/golang-jwt/jwt/v5"

// UserRole identifies the actor category invoking a workflow operation.
type UserRole string

const (
	RoleApprentice  UserRole = "APPRENTICE"
	RoleInstructor  UserRole = "INSTRUCTOR"
	RoleCoordinator UserRole = "COORDINATOR"
	RoleOperator    UserRole = "OPERATOR"
)

// Valid reports whether the role is known.
func (r UserRole) Valid() bool {
	switch r {
	case RoleApprentice, RoleInstructor, RoleCoordinator, RoleOperator:
		return true
	default:
		return false
	}
}

// JWTClaims carries the caller identity extracted from the access token.
// Token issuance is handled by the platform's identity service; this API
// only validates.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the explicit caller identity passed into every engine
// operation. Never derived from ambient state.
type Actor struct {
	UserID string
	Role   UserRole
}

// ActorFromClaims converts validated claims into an engine actor.
func ActorFromClaims(claims *JWTClaims) *Actor {
	if claims == nil {
		return nil
	}
	return &Actor{UserID: claims.UserID, Role: claims.Role}
}
