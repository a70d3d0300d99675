package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"safemesh/internal/config"
)

type Storage struct {
	pool *pgxpool.Pool
}

// New создает пул соединений с общим хранилищем. Пул ленивый: соединение
// устанавливается при первом запросе, так что агент стартует и без сети.
// Миграции накатываются отдельно (команда migrate или старт агента).
func New(cfg *config.Config) (*Storage, error) {
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURI)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Storage{pool: pool}, nil
}

// Ping проверяет достижимость общего хранилища. В offline-режиме
// возвращает ошибку — для агента это штатная ситуация.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

// Remote собирает репозитории общего хранилища в один объект,
// реализующий контракт RemoteStore движка синхронизации.
type Remote struct {
	*MarkerRepository
	*SOSRepository
	*ResponseRepository
}

func NewRemote(pool *pgxpool.Pool, log *slog.Logger) *Remote {
	return &Remote{
		MarkerRepository:   NewMarkerRepository(pool, log),
		SOSRepository:      NewSOSRepository(pool, log),
		ResponseRepository: NewResponseRepository(pool, log),
	}
}
