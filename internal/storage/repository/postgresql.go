// Package repository реализует хранилище данных на основе PostgreSQL
// для кредитного леджера. Предоставляет транзакционное применение записей
// леджера с обновлением материализованного баланса, выборки и агрегаты,
// а также работу с подписками, пакетами, диспутами и промоакциями.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/credit-ledger/internal/models"
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'transactions'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table transactions missing or query error: %w", err)
	}
	return nil
}

// mapConstraintErr переводит нарушения уникальных индексов
// в сентинельные ошибки бизнес-правил.
func mapConstraintErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "uq_transactions_payment_ref":
			return models.ErrDuplicatePayment
		case "uq_subscriptions_open_per_account":
			return models.ErrSubscriptionExists
		case "billing_runs_pkey":
			return models.ErrCycleAlreadyBilled
		}
	}
	return err
}
