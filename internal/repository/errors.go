package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しないことを表す。
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation は一意制約違反を表す。
	// 同一IdPユーザーの初回ログインが競合した場合などに発生する。
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// uniqueViolationCode はPostgreSQLのunique_violationのSQLSTATE。
const uniqueViolationCode = "23505"

// translateError はドライバのエラーをリポジトリのエラーに変換する。
// 一意制約違反は制約名付きでErrUniqueViolationにラップする。
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pqErr.Constraint)
	}
	return err
}
