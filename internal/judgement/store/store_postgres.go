package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"registrar/internal/judgement/models"
	id "registrar/pkg/domain"
	"registrar/pkg/platform/sentinel"
	txcontext "registrar/pkg/platform/tx"
	"registrar/pkg/requestcontext"
)

// PostgresStore persists requests in judgement_requests and cursors in
// block_cursors. It joins a transaction carried in ctx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `id, account, registrar_index, email, social, chat, display, legal, web,
	email_status, social_status, chat_status, nonce, status,
	judgement_tx_hash, judgement_block_hash, created_at, updated_at`

const insertRequest = `
	INSERT INTO judgement_requests (` + selectColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

func insertArgs(r *models.JudgementRequest) []any {
	return []any{
		uuid.UUID(r.ID),
		r.Account,
		int64(r.RegistrarIndex),
		nullString(r.Email),
		nullString(r.Social),
		nullString(r.Chat),
		r.Display,
		r.Legal,
		r.Web,
		nullString(string(r.EmailStatus)),
		nullString(string(r.SocialStatus)),
		nullString(string(r.ChatStatus)),
		r.Nonce,
		string(r.Status),
		r.JudgementTxHash,
		r.JudgementBlockHash,
		r.CreatedAt,
		r.UpdatedAt,
	}
}

func (s *PostgresStore) Insert(ctx context.Context, r *models.JudgementRequest) (id.RequestID, error) {
	if r.ID.IsNil() {
		r.ID = id.NewRequestID()
	}
	if _, err := s.execer(ctx).ExecContext(ctx, insertRequest, insertArgs(r)...); err != nil {
		return id.RequestID{}, fmt.Errorf("insert judgement request: %w", err)
	}
	return r.ID, nil
}

// InsertIfNoActive relies on the partial unique index over active rows, so
// concurrent inserts for one account resolve to a single winner.
func (s *PostgresStore) InsertIfNoActive(ctx context.Context, r *models.JudgementRequest) (bool, error) {
	if r.ID.IsNil() {
		r.ID = id.NewRequestID()
	}
	query := insertRequest + `
	ON CONFLICT (account, registrar_index) WHERE status = 'active' DO NOTHING`
	res, err := s.execer(ctx).ExecContext(ctx, query, insertArgs(r)...)
	if err != nil {
		return false, fmt.Errorf("insert judgement request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert judgement request rows: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Query(ctx context.Context, p models.Predicate) ([]*models.JudgementRequest, error) {
	b := &sqlBuilder{}
	where, err := b.where(p)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + selectColumns + ` FROM judgement_requests WHERE ` + where + ` ORDER BY created_at, id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("query judgement requests: %w", err)
	}
	defer rows.Close()

	var out []*models.JudgementRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate judgement requests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, requestID id.RequestID) (*models.JudgementRequest, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM judgement_requests WHERE id = $1`, uuid.UUID(requestID))
	r, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) UpdateByID(ctx context.Context, requestID id.RequestID, upd models.Update) error {
	ok, err := s.UpdateIf(ctx, requestID, models.And(), upd)
	if err != nil {
		return err
	}
	if !ok {
		return sentinel.ErrNotFound
	}
	return nil
}

// UpdateIf applies upd when the row still matches cond. A false result with a
// nil error means the row is missing or no longer matches.
func (s *PostgresStore) UpdateIf(ctx context.Context, requestID id.RequestID, cond models.Predicate, upd models.Update) (bool, error) {
	b := &sqlBuilder{}
	set := setClause(ctx, b, upd)
	idArg := b.arg(uuid.UUID(requestID))
	where, err := b.where(cond)
	if err != nil {
		return false, err
	}
	query := `UPDATE judgement_requests SET ` + set + ` WHERE id = ` + idArg + ` AND ` + where
	res, err := s.execer(ctx).ExecContext(ctx, query, b.args...)
	if err != nil {
		return false, fmt.Errorf("update judgement request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update judgement request rows: %w", err)
	}
	return n == 1, nil
}

func setClause(ctx context.Context, b *sqlBuilder, upd models.Update) string {
	upd = stamp(ctx, upd)
	var sets []string
	for _, ch := range models.AllChannels {
		if st, ok := upd.Channels[ch]; ok {
			sets = append(sets, columns[models.StatusField(ch)]+" = "+b.arg(nullString(string(st))))
		}
	}
	if upd.Status != nil {
		sets = append(sets, "status = "+b.arg(string(*upd.Status)))
	}
	if upd.JudgementTxHash != nil {
		sets = append(sets, "judgement_tx_hash = "+b.arg(*upd.JudgementTxHash))
	}
	if upd.JudgementBlockHash != nil {
		sets = append(sets, "judgement_block_hash = "+b.arg(*upd.JudgementBlockHash))
	}
	sets = append(sets, "updated_at = "+b.arg(upd.UpdatedAt))
	return strings.Join(sets, ", ")
}

func (s *PostgresStore) Cursor(ctx context.Context, chain string) (uint64, bool, error) {
	var h int64
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT last_processed_height FROM block_cursors WHERE chain_name = $1`, chain).Scan(&h)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read block cursor: %w", err)
	}
	return uint64(h), true, nil
}

// SetCursor never lowers a stored height.
func (s *PostgresStore) SetCursor(ctx context.Context, chain string, height uint64) error {
	query := `
		INSERT INTO block_cursors (chain_name, last_processed_height, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chain_name) DO UPDATE
		SET last_processed_height = EXCLUDED.last_processed_height, updated_at = EXCLUDED.updated_at
		WHERE block_cursors.last_processed_height < EXCLUDED.last_processed_height
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, chain, int64(height), requestcontext.Now(ctx)); err != nil {
		return fmt.Errorf("write block cursor: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.JudgementRequest, error) {
	var (
		r                                     models.JudgementRequest
		rid                                   uuid.UUID
		regIndex                              int64
		email, social, chat                   sql.NullString
		emailStatus, socialStatus, chatStatus sql.NullString
		status                                string
	)
	err := row.Scan(
		&rid, &r.Account, &regIndex, &email, &social, &chat, &r.Display, &r.Legal, &r.Web,
		&emailStatus, &socialStatus, &chatStatus, &r.Nonce, &status,
		&r.JudgementTxHash, &r.JudgementBlockHash, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan judgement request: %w", err)
	}
	r.ID = id.RequestID(rid)
	r.RegistrarIndex = uint32(regIndex)
	r.Email, r.Social, r.Chat = email.String, social.String, chat.String
	r.EmailStatus = models.ChannelStatus(emailStatus.String)
	r.SocialStatus = models.ChannelStatus(socialStatus.String)
	r.ChatStatus = models.ChannelStatus(chatStatus.String)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
