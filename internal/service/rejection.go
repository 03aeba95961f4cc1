package service

import (
	"errors"

	"github.com/freeeve/hexwar/api/pkg/arena"
	"github.com/freeeve/hexwar/api/pkg/pow"
)

// Machine-readable submission rejection codes.
const (
	CodeNotYourTurn        = "not-your-turn"
	CodeInvalidAction      = "invalid-action"
	CodePreconditionFailed = "precondition-failed"
	CodeChallengeMissing   = "challenge-missing"
	CodeChallengeInvalid   = "challenge-invalid"
	CodeRationaleTooShort  = "rationale-too-short"
	CodeMatchComplete      = "match-complete"
)

// Rejection is returned when a submission is refused. The match is left
// untouched.
type Rejection struct {
	Code   string
	Detail string
}

// Reason renders the tag sent to clients, e.g. "precondition-failed:sanctuary".
func (r *Rejection) Reason() string {
	if r.Code == CodePreconditionFailed && r.Detail != "" {
		return r.Code + ":" + r.Detail
	}
	return r.Code
}

func (r *Rejection) Error() string {
	if r.Code != CodePreconditionFailed && r.Detail != "" {
		return r.Reason() + ": " + r.Detail
	}
	return r.Reason()
}

func reject(code, detail string) *Rejection {
	return &Rejection{Code: code, Detail: detail}
}

// rejectionFor maps arena and pow errors onto rejection codes.
func rejectionFor(err error) error {
	var pe *arena.PreconditionError
	switch {
	case errors.As(err, &pe):
		return reject(CodePreconditionFailed, pe.Detail)
	case errors.Is(err, arena.ErrNotYourTurn):
		return reject(CodeNotYourTurn, "")
	case errors.Is(err, arena.ErrMatchComplete):
		return reject(CodeMatchComplete, "")
	case errors.Is(err, arena.ErrInvalidAction):
		return reject(CodeInvalidAction, err.Error())
	case errors.Is(err, pow.ErrChallengeMissing):
		return reject(CodeChallengeMissing, "")
	case errors.Is(err, pow.ErrChallengeInvalid):
		return reject(CodeChallengeInvalid, "")
	}
	return err
}

// IsRejection reports whether err is a submission rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
