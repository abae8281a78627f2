package types

import "github.com/kairostrade/matchingcore/internal/apperrors"

func errInvalid(msg string) error {
	return apperrors.New(apperrors.ErrValidation, msg)
}
