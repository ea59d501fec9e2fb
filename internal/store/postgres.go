package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-hours/timebank/internal/models"
)

// PGStore is the Postgres-backed Store. Row locks (SELECT ... FOR UPDATE)
// serialize per-user balance mutation and per-handshake transitions at the
// storage level, backing up the engine-level keyed mutexes.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PGStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, password_hash, balance, karma, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Balance, u.Karma, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

const userColumns = `id, name, email, password_hash, balance, karma, failed_logins, locked_until, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Balance,
		&u.Karma, &u.FailedLogins, &u.LockedUntil, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PGStore) UpdateUser(ctx context.Context, id string, fn func(*models.User) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE users SET name = $2, balance = $3, karma = $4, failed_logins = $5, locked_until = $6
		 WHERE id = $1`,
		id, u.Name, u.Balance, u.Karma, u.FailedLogins, u.LockedUntil,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) CreateService(ctx context.Context, svc *models.Service) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO services (id, owner_id, title, description, kind, duration_hours,
		                       max_participants, location, hot_score, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		svc.ID, svc.OwnerID, svc.Title, svc.Description, svc.Kind, svc.DurationHours,
		svc.MaxParticipants, svc.Location, svc.HotScore, svc.CreatedAt,
	)
	return err
}

const serviceColumns = `id, owner_id, title, description, kind, duration_hours, max_participants, location, hot_score, created_at`

func scanService(row pgx.Row) (*models.Service, error) {
	var svc models.Service
	err := row.Scan(&svc.ID, &svc.OwnerID, &svc.Title, &svc.Description, &svc.Kind,
		&svc.DurationHours, &svc.MaxParticipants, &svc.Location, &svc.HotScore, &svc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *PGStore) GetService(ctx context.Context, id string) (*models.Service, error) {
	return scanService(s.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`, id))
}

func (s *PGStore) ListServices(ctx context.Context) ([]*models.Service, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services ORDER BY hot_score DESC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *PGStore) SetHotScore(ctx context.Context, serviceID string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE services SET hot_score = $2 WHERE id = $1`, serviceID, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) CreateHandshake(ctx context.Context, h *models.Handshake) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO handshakes (id, service_id, requester_id, provider_id, status,
		                         provisioned_hours, exact_location, exact_duration, scheduled_time,
		                         provider_initiated, requester_initiated, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		h.ID, h.ServiceID, h.RequesterID, h.ProviderID, h.Status,
		h.ProvisionedHours, h.ExactLocation, h.ExactDuration, h.ScheduledTime,
		h.ProviderInitiated, h.RequesterInitiated, h.CreatedAt, h.UpdatedAt,
	)
	return err
}

const handshakeColumns = `id, service_id, requester_id, provider_id, status, provisioned_hours,
	exact_location, exact_duration, scheduled_time, provider_initiated, requester_initiated,
	created_at, updated_at`

func scanHandshake(row pgx.Row) (*models.Handshake, error) {
	var h models.Handshake
	err := row.Scan(&h.ID, &h.ServiceID, &h.RequesterID, &h.ProviderID, &h.Status,
		&h.ProvisionedHours, &h.ExactLocation, &h.ExactDuration, &h.ScheduledTime,
		&h.ProviderInitiated, &h.RequesterInitiated, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PGStore) GetHandshake(ctx context.Context, id string) (*models.Handshake, error) {
	return scanHandshake(s.pool.QueryRow(ctx,
		`SELECT `+handshakeColumns+` FROM handshakes WHERE id = $1`, id))
}

func (s *PGStore) listHandshakes(ctx context.Context, where string, arg any) ([]*models.Handshake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+handshakeColumns+` FROM handshakes WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Handshake
	for rows.Next() {
		h, err := scanHandshake(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PGStore) ListHandshakesByUser(ctx context.Context, userID string) ([]*models.Handshake, error) {
	return s.listHandshakes(ctx, `requester_id = $1 OR provider_id = $1`, userID)
}

func (s *PGStore) ListHandshakesByService(ctx context.Context, serviceID string) ([]*models.Handshake, error) {
	return s.listHandshakes(ctx, `service_id = $1`, serviceID)
}

func (s *PGStore) UpdateHandshake(ctx context.Context, id string, fn func(*models.Handshake) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	h, err := scanHandshake(tx.QueryRow(ctx,
		`SELECT `+handshakeColumns+` FROM handshakes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE handshakes SET status = $2, exact_location = $3, exact_duration = $4,
		        scheduled_time = $5, provider_initiated = $6, requester_initiated = $7,
		        updated_at = NOW()
		 WHERE id = $1`,
		id, h.Status, h.ExactLocation, h.ExactDuration, h.ScheduledTime,
		h.ProviderInitiated, h.RequesterInitiated,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// transferTx moves amount between two balance rows inside tx, locking the
// payer row first. Writes both audit entries in the same tx.
func transferTx(ctx context.Context, tx pgx.Tx, fromID, toID string, amount float64, reference string) error {
	var balance float64
	err := tx.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, fromID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	if _, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance - $1 WHERE id = $2`, amount, fromID); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2`, amount, toID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	now := time.Now()
	_, err = tx.Exec(ctx,
		`INSERT INTO transfers (id, user_id, change, balance_after, kind, reference, created_at)
		 VALUES ($1, $2, $3, (SELECT balance FROM users WHERE id = $2), $4, $5, $6),
		        ($7, $8, $9, (SELECT balance FROM users WHERE id = $8), $10, $5, $6)`,
		uuid.New().String(), fromID, -amount, models.TransferDebit, reference, now,
		uuid.New().String(), toID, amount, models.TransferCredit,
	)
	return err
}

func (s *PGStore) Transfer(ctx context.Context, fromID, toID string, amount float64, reference string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := transferTx(ctx, tx, fromID, toID, amount, reference); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ListTransfers(ctx context.Context, userID string) ([]*models.TransferEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, change, balance_after, kind, reference, created_at
		 FROM transfers WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TransferEntry
	for rows.Next() {
		var e models.TransferEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Change, &e.BalanceAfter,
			&e.Kind, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PGStore) SettleHandshake(ctx context.Context, handshakeID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	h, err := scanHandshake(tx.QueryRow(ctx,
		`SELECT `+handshakeColumns+` FROM handshakes WHERE id = $1 FOR UPDATE`, handshakeID))
	if err != nil {
		return err
	}
	if h.Status != models.HandshakeAccepted {
		return ErrConflict
	}
	if err := transferTx(ctx, tx, h.RequesterID, h.ProviderID, h.ProvisionedHours, h.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE handshakes SET status = $2, updated_at = NOW() WHERE id = $1`,
		handshakeID, models.HandshakeCompleted); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) InsertReputation(ctx context.Context, r *models.ReputationRep) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Unique index on (handshake_id, giver_id) makes the duplicate check
	// atomic with the insert.
	_, err = tx.Exec(ctx,
		`INSERT INTO reputation (id, handshake_id, giver_id, receiver_id,
		                         on_time, kind, satisfied, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.HandshakeID, r.GiverID, r.ReceiverID,
		r.OnTime, r.Kind, r.Satisfied, r.Comment, r.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateReputation
	}
	if err != nil {
		return err
	}
	if delta := r.KarmaDelta(); delta > 0 {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET karma = karma + $1 WHERE id = $2`, delta, r.ReceiverID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit(ctx)
}

func (s *PGStore) ListReputationByReceiver(ctx context.Context, userID string) ([]*models.ReputationRep, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, handshake_id, giver_id, receiver_id, on_time, kind, satisfied, comment, created_at
		 FROM reputation WHERE receiver_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ReputationRep
	for rows.Next() {
		var r models.ReputationRep
		if err := rows.Scan(&r.ID, &r.HandshakeID, &r.GiverID, &r.ReceiverID,
			&r.OnTime, &r.Kind, &r.Satisfied, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, service_id, sender_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ServiceID, m.SenderID, m.Body, m.CreatedAt,
	)
	return err
}

func (s *PGStore) ListMessages(ctx context.Context, serviceID string, since time.Time) ([]*models.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if since.IsZero() {
		rows, err = s.pool.Query(ctx,
			`SELECT id, service_id, sender_id, body, created_at
			 FROM messages WHERE service_id = $1 ORDER BY created_at ASC`, serviceID)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, service_id, sender_id, body, created_at
			 FROM messages WHERE service_id = $1 AND created_at > $2 ORDER BY created_at ASC`,
			serviceID, since)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ServiceID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PGStore) ServiceActivity(ctx context.Context, serviceID string) (ActivityStats, error) {
	var stats ActivityStats
	var lastComment *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM handshakes WHERE service_id = $1 AND status = 'completed'),
		   (SELECT COUNT(*) FROM reputation r JOIN handshakes h ON r.handshake_id = h.id
		     WHERE h.service_id = $1),
		   (SELECT COUNT(*) FROM messages WHERE service_id = $1),
		   (SELECT MAX(created_at) FROM messages WHERE service_id = $1)`,
		serviceID,
	).Scan(&stats.CompletedHandshakes, &stats.ReputationVolume, &stats.CommentCount, &lastComment)
	if err != nil {
		return ActivityStats{}, err
	}
	if lastComment != nil {
		stats.LastCommentAt = *lastComment
	}
	return stats, nil
}
