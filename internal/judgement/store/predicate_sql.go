package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"registrar/internal/judgement/models"
)

var columns = map[models.Field]string{
	models.FieldID:             "id",
	models.FieldAccount:        "account",
	models.FieldRegistrarIndex: "registrar_index",
	models.FieldEmail:          "email",
	models.FieldSocial:         "social",
	models.FieldChat:           "chat",
	models.FieldEmailStatus:    "email_status",
	models.FieldSocialStatus:   "social_status",
	models.FieldChatStatus:     "chat_status",
	models.FieldStatus:         "status",
}

// sqlBuilder renders predicates into positional-parameter SQL.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) where(p models.Predicate) (string, error) {
	switch p.Op {
	case models.OpAnd, models.OpOr:
		if len(p.Children) == 0 {
			if p.Op == models.OpAnd {
				return "TRUE", nil
			}
			return "FALSE", nil
		}
		sep := " AND "
		if p.Op == models.OpOr {
			sep = " OR "
		}
		parts := make([]string, 0, len(p.Children))
		for _, c := range p.Children {
			s, err := b.where(c)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	}

	col, ok := columns[p.Field]
	if !ok {
		return "", fmt.Errorf("unknown predicate field %q", p.Field)
	}
	v, err := sqlValue(p.Field, p.Value)
	if err != nil {
		return "", err
	}
	switch p.Op {
	case models.OpIsNull:
		return col + " IS NULL", nil
	case models.OpEq:
		if v == nil {
			return "FALSE", nil
		}
		return col + " = " + b.arg(v), nil
	case models.OpNe:
		if v == nil {
			return col + " IS NOT NULL", nil
		}
		return col + " IS DISTINCT FROM " + b.arg(v), nil
	}
	return "", fmt.Errorf("unknown predicate op %d", p.Op)
}

func sqlValue(f models.Field, v any) (any, error) {
	n := models.Normalize(v)
	if n == nil {
		return nil, nil
	}
	if f == models.FieldID {
		u, err := uuid.Parse(fmt.Sprint(n))
		if err != nil {
			return nil, fmt.Errorf("predicate id: %w", err)
		}
		return u, nil
	}
	return n, nil
}
