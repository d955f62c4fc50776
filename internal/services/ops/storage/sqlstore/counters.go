package sqlstore

import "context"

// NextSequence atomically increments and returns the bucket's counter.
func (s *Store) NextSequence(ctx context.Context, bucket string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var value int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO number_counters (bucket, value) VALUES (?, 1)
ON CONFLICT (bucket) DO UPDATE SET value = number_counters.value + 1
RETURNING value`), bucket).Scan(&value)
	if err != nil {
		return 0, s.mapError("next sequence", err)
	}
	return value, nil
}
