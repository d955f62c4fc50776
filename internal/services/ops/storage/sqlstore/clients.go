package sqlstore

import (
	"context"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// PutClient inserts or replaces a client.
func (s *Store) PutClient(ctx context.Context, c entity.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO clients (id, client_type, display_name, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET client_type = excluded.client_type, display_name = excluded.display_name`),
		c.ID, string(c.Type), c.DisplayName, toMillis(c.CreatedAt),
	)
	if err != nil {
		return s.mapError("put client", err)
	}
	return nil
}

// GetClient returns the client with id.
func (s *Store) GetClient(ctx context.Context, id string) (entity.Client, error) {
	if err := ctx.Err(); err != nil {
		return entity.Client{}, err
	}
	var (
		c          entity.Client
		clientType string
		createdAt  int64
	)
	err := s.db.QueryRowContext(ctx, s.q("SELECT id, client_type, display_name, created_at FROM clients WHERE id = ?"), id).
		Scan(&c.ID, &clientType, &c.DisplayName, &createdAt)
	if err != nil {
		return entity.Client{}, s.mapError("get client", err)
	}
	c.Type = entity.ClientType(clientType)
	c.CreatedAt = fromMillis(createdAt)
	return c, nil
}
