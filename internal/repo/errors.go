package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState — операция невозможна в текущем состоянии.
	ErrInvalidState = errors.New("invalid state")

	// ErrStaleStatus — CAS обновление не прошло: статус строки
	// уже изменён другим воркером. Вызывающий перечитывает строку.
	ErrStaleStatus = errors.New("stale status")
)

// uniqueViolationCode — код ошибки PostgreSQL для нарушения уникальности.
const uniqueViolationCode = "23505"

// isUniqueViolation проверяет, является ли ошибка конфликтом уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
