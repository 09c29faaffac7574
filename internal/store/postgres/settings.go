package postgres

import (
	"context"
	"errors"

	"salecore/internal/domain"
	"salecore/internal/store/record"
)

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	rec, err := record.New(s.db, settingsTable).Find(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return rec.String("value"), true, nil
}
