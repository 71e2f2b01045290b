package models

import "github.com/google/uuid"

// Challenge is a pending 1v1 agreement between two players. Challenges are
// invalidated as a side effect of both players entering the same lobby past
// the ready check.
type Challenge struct {
	ID          uuid.UUID `json:"id"`
	GiverID     uuid.UUID `json:"giver_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Accepted    bool      `json:"accepted"`
}
