package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/pravatus-technologies/spreed/internal/models"
	"github.com/pravatus-technologies/spreed/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDB holds the durable conversation memberships. Live call state
// (session ids, in-call flags, last ping) is runtime-only and never persisted
// here; attendees load with empty session lists.
type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Attendee Repository Implementation
func (db *PostgresDB) ListAttendees(ctx context.Context, token string) ([]*models.Attendee, error) {
	query := `
		SELECT id, actor_type, actor_id, display_name, participant_type, permissions
		FROM attendees WHERE token = $1 ORDER BY id`

	rows, err := db.pool.Query(ctx, query, token)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []*models.Attendee
	for rows.Next() {
		attendee := &models.Attendee{SessionIDs: []string{}}
		err := rows.Scan(
			&attendee.AttendeeID, &attendee.ActorType, &attendee.ActorID,
			&attendee.DisplayName, &attendee.ParticipantType, &attendee.Permissions,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendee: %w", err)
		}
		attendees = append(attendees, attendee)
	}
	return attendees, rows.Err()
}

func (db *PostgresDB) GetAttendee(ctx context.Context, token string, attendeeID int64) (*models.Attendee, error) {
	query := `
		SELECT id, actor_type, actor_id, display_name, participant_type, permissions
		FROM attendees WHERE token = $1 AND id = $2`

	attendee := &models.Attendee{SessionIDs: []string{}}
	err := db.pool.QueryRow(ctx, query, token, attendeeID).Scan(
		&attendee.AttendeeID, &attendee.ActorType, &attendee.ActorID,
		&attendee.DisplayName, &attendee.ParticipantType, &attendee.Permissions,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("attendee %d in conversation %s: %w", attendeeID, token, ErrAttendeeNotFound)
	}
	if err != nil {
		return nil, err
	}
	return attendee, nil
}

func (db *PostgresDB) CreateAttendee(ctx context.Context, token string, req *models.AddAttendeeRequest) (*models.Attendee, error) {
	query := `
		INSERT INTO attendees (token, actor_type, actor_id, display_name, participant_type, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (token, actor_type, actor_id) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, actor_type, actor_id, display_name, participant_type, permissions`

	attendee := &models.Attendee{SessionIDs: []string{}}
	err := db.pool.QueryRow(ctx, query,
		token, req.ActorType, req.ActorID, req.DisplayName, req.ParticipantType, req.Permissions,
	).Scan(
		&attendee.AttendeeID, &attendee.ActorType, &attendee.ActorID,
		&attendee.DisplayName, &attendee.ParticipantType, &attendee.Permissions,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attendee: %w", err)
	}
	return attendee, nil
}

func (db *PostgresDB) UpdateAttendee(ctx context.Context, token string, attendeeID int64, displayName string, participantType models.ParticipantType, permissions models.Permission) error {
	query := `
		UPDATE attendees SET display_name = $3, participant_type = $4, permissions = $5
		WHERE token = $1 AND id = $2`

	tag, err := db.pool.Exec(ctx, query, token, attendeeID, displayName, participantType, permissions)
	if err != nil {
		return fmt.Errorf("failed to update attendee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attendee %d in conversation %s: %w", attendeeID, token, ErrAttendeeNotFound)
	}
	return nil
}

func (db *PostgresDB) RemoveAttendee(ctx context.Context, token string, attendeeID int64) error {
	query := `DELETE FROM attendees WHERE token = $1 AND id = $2`

	if _, err := db.pool.Exec(ctx, query, token, attendeeID); err != nil {
		return fmt.Errorf("failed to remove attendee: %w", err)
	}
	return nil
}
