package admin

import (
	"net/http"

	"github.com/angelmondragon/digistore-backend/api/middleware"
	"github.com/angelmondragon/digistore-backend/api/responses"
	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

type operatorDTO struct {
	Subject    string             `json:"subject"`
	Role       enums.OperatorRole `json:"role"`
	CanResolve bool               `json:"can_resolve"`
}

// Me echoes the authenticated operator so the back-office UI can hide the
// deliver, redeliver and reject actions from support staff.
func Me() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := middleware.RoleFromContext(r.Context())
		responses.WriteSuccess(w, operatorDTO{
			Subject:    middleware.SubjectFromContext(r.Context()),
			Role:       role,
			CanResolve: role == enums.OperatorRoleAdmin,
		})
	}
}
