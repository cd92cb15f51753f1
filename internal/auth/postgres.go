package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"identra.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, name, password_hash, role, email_verified,
	refresh_token,
	email_verification_token_hash, email_verification_expires_at, email_verification_issued_at,
	password_reset_token_hash, password_reset_expires_at, password_reset_issued_at,
	created_at, updated_at`

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, password_hash, role, email_verified,
			email_verification_token_hash, email_verification_expires_at, email_verification_issued_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.EmailVerified,
		nullString(u.EmailVerificationTokenHash),
		nullTime(u.EmailVerificationExpiresAt),
		nullTime(u.EmailVerificationIssuedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *PGStore) PendingVerifications(ctx context.Context, now time.Time) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users
		 where email_verification_token_hash is not null
		   and email_verification_expires_at > $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *PGStore) PendingResets(ctx context.Context, now time.Time) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users
		 where password_reset_token_hash is not null
		   and password_reset_expires_at > $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *PGStore) SetRefreshToken(ctx context.Context, userID, token string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_token=$2, updated_at=now() where id=$1`,
		userID, token)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) RotateRefreshToken(ctx context.Context, userID, old, next string) error {
	// Compare-and-swap: the write lands only when the presented token is
	// still current, so a concurrent rotation loses cleanly.
	res, err := s.db.ExecContext(ctx,
		`update users set refresh_token=$3, updated_at=now()
		 where id=$1 and refresh_token=$2`,
		userID, old, next)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleRefreshToken
	}
	return nil
}

func (s *PGStore) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set refresh_token=null, updated_at=now() where id=$1`, userID)
	return err
}

func (s *PGStore) SetEmailVerification(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set
			email_verification_token_hash=$2,
			email_verification_expires_at=$3,
			email_verification_issued_at=$4,
			updated_at=now()
		 where id=$1`,
		userID, tokenHash, expiresAt, issuedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) MarkEmailVerified(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set
			email_verified=true,
			email_verification_token_hash=null,
			email_verification_expires_at=null,
			email_verification_issued_at=null,
			updated_at=now()
		 where id=$1`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) SetPasswordReset(ctx context.Context, userID, tokenHash string, expiresAt, issuedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set
			password_reset_token_hash=$2,
			password_reset_expires_at=$3,
			password_reset_issued_at=$4,
			updated_at=now()
		 where id=$1`,
		userID, tokenHash, expiresAt, issuedAt)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) CompletePasswordReset(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set
			password_hash=$2,
			password_reset_token_hash=null,
			password_reset_expires_at=null,
			password_reset_issued_at=null,
			refresh_token=null,
			updated_at=now()
		 where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *PGStore) List(ctx context.Context, limit, offset int) ([]*User, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at desc, id desc limit $1 offset $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *PGStore) Delete(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id=$1`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// helpers ------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u            User
		role         string
		refreshToken sql.NullString
		verifyHash   sql.NullString
		verifyExp    sql.NullTime
		verifyIssued sql.NullTime
		resetHash    sql.NullString
		resetExp     sql.NullTime
		resetIssued  sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.EmailVerified,
		&refreshToken,
		&verifyHash, &verifyExp, &verifyIssued,
		&resetHash, &resetExp, &resetIssued,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.RefreshToken = refreshToken.String
	u.EmailVerificationTokenHash = verifyHash.String
	u.EmailVerificationExpiresAt = verifyExp.Time
	u.EmailVerificationIssuedAt = verifyIssued.Time
	u.PasswordResetTokenHash = resetHash.String
	u.PasswordResetExpiresAt = resetExp.Time
	u.PasswordResetIssuedAt = resetIssued.Time
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
