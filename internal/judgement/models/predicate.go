package models

import (
	"fmt"
	"strconv"
)

// Field names a queryable column of a judgement request.
type Field string

const (
	FieldID             Field = "id"
	FieldAccount        Field = "account"
	FieldRegistrarIndex Field = "registrar_index"
	FieldEmail          Field = "email"
	FieldSocial         Field = "social"
	FieldChat           Field = "chat"
	FieldEmailStatus    Field = "email_status"
	FieldSocialStatus   Field = "social_status"
	FieldChatStatus     Field = "chat_status"
	FieldStatus         Field = "status"
)

// TargetField returns the proof-target column for ch.
func TargetField(ch Channel) Field {
	return Field(ch)
}

// StatusField returns the channel-status column for ch.
func StatusField(ch Channel) Field {
	return Field(string(ch) + "_status")
}

// Op is a predicate operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpIsNull
	OpAnd
	OpOr
)

// Predicate is a small boolean filter over request fields. Stores either
// evaluate it in memory or render it to SQL. Empty strings compare as null,
// and Ne is null-safe (IS DISTINCT FROM).
type Predicate struct {
	Op       Op
	Field    Field
	Value    any
	Children []Predicate
}

func Eq(f Field, v any) Predicate { return Predicate{Op: OpEq, Field: f, Value: v} }

func Ne(f Field, v any) Predicate { return Predicate{Op: OpNe, Field: f, Value: v} }

func IsNull(f Field) Predicate { return Predicate{Op: OpIsNull, Field: f} }

// NotNull is Ne(f, nil).
func NotNull(f Field) Predicate { return Ne(f, nil) }

func And(ps ...Predicate) Predicate { return Predicate{Op: OpAnd, Children: ps} }

func Or(ps ...Predicate) Predicate { return Predicate{Op: OpOr, Children: ps} }

// ActiveFor selects the active request for an account at a registrar.
func ActiveFor(account string, registrarIndex uint32) Predicate {
	return And(
		Eq(FieldAccount, account),
		Eq(FieldRegistrarIndex, registrarIndex),
		Eq(FieldStatus, RequestStatusActive),
	)
}

// ReadyForJudgement selects active requests whose every requested channel
// verified successfully.
func ReadyForJudgement(registrarIndex uint32) Predicate {
	ps := []Predicate{
		Eq(FieldRegistrarIndex, registrarIndex),
		Eq(FieldStatus, RequestStatusActive),
		// at least one channel, so an empty identity is never judged
		Or(NotNull(FieldEmail), NotNull(FieldSocial), NotNull(FieldChat)),
	}
	for _, ch := range AllChannels {
		ps = append(ps, Or(
			IsNull(TargetField(ch)),
			Eq(StatusField(ch), ChannelStatusVerifiedSuccess),
		))
	}
	return And(ps...)
}

// AwaitingDispatch selects active requests with ch requested but never
// successfully dispatched.
func AwaitingDispatch(registrarIndex uint32, ch Channel) Predicate {
	return And(
		Eq(FieldRegistrarIndex, registrarIndex),
		Eq(FieldStatus, RequestStatusActive),
		NotNull(TargetField(ch)),
		IsNull(StatusField(ch)),
	)
}

// Matches evaluates p against r.
func (p Predicate) Matches(r *JudgementRequest) bool {
	switch p.Op {
	case OpAnd:
		for _, c := range p.Children {
			if !c.Matches(r) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.Children {
			if c.Matches(r) {
				return true
			}
		}
		return false
	case OpIsNull:
		return r.value(p.Field) == nil
	case OpEq:
		got, want := r.value(p.Field), Normalize(p.Value)
		return got != nil && want != nil && got == want
	case OpNe:
		return r.value(p.Field) != Normalize(p.Value)
	}
	return false
}

// value returns the normalized value of f; nil for unset nullable fields.
func (r *JudgementRequest) value(f Field) any {
	switch f {
	case FieldID:
		return r.ID.String()
	case FieldAccount:
		return r.Account
	case FieldRegistrarIndex:
		return int64(r.RegistrarIndex)
	case FieldEmail:
		return nullable(r.Email)
	case FieldSocial:
		return nullable(r.Social)
	case FieldChat:
		return nullable(r.Chat)
	case FieldEmailStatus:
		return nullable(string(r.EmailStatus))
	case FieldSocialStatus:
		return nullable(string(r.SocialStatus))
	case FieldChatStatus:
		return nullable(string(r.ChatStatus))
	case FieldStatus:
		return string(r.Status)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Normalize maps predicate values onto string, int64 or nil so memory and
// SQL evaluation agree.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return nullable(x)
	case int:
		return int64(x)
	case int64:
		return x
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case fmt.Stringer:
		return nullable(x.String())
	}
	return fmt.Sprint(v)
}

// String renders p for logs.
func (p Predicate) String() string {
	switch p.Op {
	case OpAnd, OpOr:
		sep := " AND "
		if p.Op == OpOr {
			sep = " OR "
		}
		out := "("
		for i, c := range p.Children {
			if i > 0 {
				out += sep
			}
			out += c.String()
		}
		return out + ")"
	case OpIsNull:
		return string(p.Field) + " IS NULL"
	case OpEq:
		return string(p.Field) + " = " + quote(p.Value)
	case OpNe:
		return string(p.Field) + " != " + quote(p.Value)
	}
	return "?"
}

func quote(v any) string {
	switch x := Normalize(v).(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return strconv.Quote(fmt.Sprint(x))
	}
}
