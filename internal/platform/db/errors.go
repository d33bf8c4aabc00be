package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/records/internal/platform/apperr"
)

// SQLSTATE codes the classifier understands.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
	codeNumericOutOfRange   = "22003"
	codeStringTooLong       = "22001"
	codeInvalidText         = "22P02"
	codeInvalidDatetime     = "22007"
)

// Constraints maps constraint names to the message shown when that
// constraint rejects a write.
type Constraints map[string]string

// Classify converts a driver error into an *apperr.Error. Errors that are
// already classified pass through unchanged.
func (c Constraints) Classify(err error, entity string) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, err, entity+" not found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			msg, ok := c[pgErr.ConstraintName]
			if !ok {
				msg = entity + " already exists"
			}
			return apperr.Wrap(apperr.KindConstraint, err, msg)
		case codeForeignKeyViolation:
			msg, ok := c[pgErr.ConstraintName]
			if !ok {
				msg = "referenced record does not exist"
			}
			return apperr.Wrap(apperr.KindValidation, err, msg)
		case codeCheckViolation, codeNotNullViolation:
			msg, ok := c[pgErr.ConstraintName]
			if !ok {
				msg = "invalid " + entity
			}
			return apperr.Wrap(apperr.KindValidation, err, msg)
		case codeNumericOutOfRange, codeStringTooLong, codeInvalidText, codeInvalidDatetime:
			return apperr.Wrap(apperr.KindValidation, err, "invalid "+entity+" value")
		}
	}

	return apperr.Wrap(apperr.KindInternal, err, entity+" query failed")
}

// ViolatesConstraint reports whether err is a Postgres error raised by the
// named constraint.
func ViolatesConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.ConstraintName == name
}
