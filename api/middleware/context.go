package middleware

import (
	"context"

	"github.com/angelmondragon/digistore-backend/pkg/enums"
)

type operatorKey struct{}

type operator struct {
	subject string
	role    enums.OperatorRole
}

func operatorFrom(ctx context.Context) operator {
	if ctx == nil {
		return operator{}
	}
	op, _ := ctx.Value(operatorKey{}).(operator)
	return op
}

// WithOperator stores the authenticated back-office identity on ctx.
func WithOperator(ctx context.Context, subject string, role enums.OperatorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operatorKey{}, operator{subject: subject, role: role})
}

// SubjectFromContext is empty on routes outside /api/admin.
func SubjectFromContext(ctx context.Context) string { return operatorFrom(ctx).subject }

func RoleFromContext(ctx context.Context) enums.OperatorRole { return operatorFrom(ctx).role }
