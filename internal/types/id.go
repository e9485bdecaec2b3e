// README: Identifier type shared by every module.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

// IDPtr returns nil for an empty id.
func IDPtr(id ID) *ID {
	if id == "" {
		return nil
	}
	return &id
}
