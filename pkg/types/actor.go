package types

import (
	"github.com/google/uuid"

	"github.com/amaruortiz/vendora-backend/pkg/enums"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	UserID   uuid.UUID
	Role     enums.Role
	VendorID *uuid.UUID
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}
