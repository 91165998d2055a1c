// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/pantry-score/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrInventoryNotFound возвращается, если у пользователя нет записи инвентаря.
	ErrInventoryNotFound = errors.New("inventory not found")
	// ErrProductNotFound возвращается, если продукт не найден или принадлежит другому пользователю.
	ErrProductNotFound = errors.New("product not found")
	// ErrPersistence оборачивает все прочие ошибки хранилища.
	ErrPersistence = errors.New("persistence error")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	delays []time.Duration
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		delays: []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, дедлоках и обрывах соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(r.delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(r.delays) {
			break
		}

		timer := time.NewTimer(r.delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func persistenceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// GetInventory возвращает инвентарь пользователя.
func (r *PostgresRepository) GetInventory(ctx context.Context, userID int64) (*model.UserInventory, error) {
	var inv model.UserInventory
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, score FROM user_inventories WHERE user_id = $1`,
		userID,
	).Scan(&inv.ID, &inv.UserID, &inv.Score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInventoryNotFound
		}
		return nil, persistenceErr("get inventory", err)
	}
	return &inv, nil
}

// IncrementScore атомарно прибавляет delta к счёту пользователя и возвращает новый счёт.
func (r *PostgresRepository) IncrementScore(ctx context.Context, userID, delta int64) (int64, error) {
	var score int64
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE user_inventories SET score = score + $2 WHERE user_id = $1 RETURNING score`,
			userID, delta,
		).Scan(&score)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInventoryNotFound
		}
		return 0, persistenceErr("increment score", err)
	}
	return score, nil
}

// SetScore перезаписывает счёт пользователя.
func (r *PostgresRepository) SetScore(ctx context.Context, userID, score int64) error {
	var tag pgconn.CommandTag
	err := r.withRetry(ctx, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx,
			`UPDATE user_inventories SET score = $2 WHERE user_id = $1`,
			userID, score,
		)
		return execErr
	})
	if err != nil {
		return persistenceErr("set score", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInventoryNotFound
	}
	return nil
}

// CreateProduct сохраняет новый продукт.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO products
		 (id, user_id, inventory_id, product_name, quantity, date_logged, date_of_expiry, status, consumed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.InventoryID, p.Name, p.Quantity.String(),
		p.DateLogged, p.DateOfExpiry, string(p.Status), p.ConsumedAt,
	)
	if err != nil {
		return persistenceErr("insert product", err)
	}
	return nil
}

const productColumns = `id, user_id, inventory_id, product_name, quantity, date_logged, date_of_expiry, status, consumed_at`

// GetProductForUser возвращает продукт, только если он принадлежит пользователю.
func (r *PostgresRepository) GetProductForUser(ctx context.Context, id uuid.UUID, userID int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND user_id = $2`,
		id, userID,
	)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, persistenceErr("get product", err)
	}
	return p, nil
}

// UpdateProductStatus обновляет статус продукта. consumedAt записывается, только если
// ранее не был установлен.
func (r *PostgresRepository) UpdateProductStatus(ctx context.Context, id uuid.UUID, status model.ProductStatus, consumedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET status = $2, consumed_at = COALESCE(consumed_at, $3) WHERE id = $1`,
		id, string(status), consumedAt,
	)
	if err != nil {
		return persistenceErr("update product status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ExpireProduct переводит продукт в expired, только если он ещё not_expired.
// false означает, что статус уже изменился и продукт пропущен.
func (r *PostgresRepository) ExpireProduct(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET status = $2 WHERE id = $1 AND status = $3`,
		id, string(model.ProductStatusExpired), string(model.ProductStatusNotExpired),
	)
	if err != nil {
		return false, persistenceErr("expire product", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteProduct удаляет продукт.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return persistenceErr("delete product", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// ListProductsByUser возвращает продукты пользователя, новые первыми.
func (r *PostgresRepository) ListProductsByUser(ctx context.Context, userID int64) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE user_id = $1
		 ORDER BY date_logged DESC`,
		userID,
	)
	if err != nil {
		return nil, persistenceErr("select products", err)
	}
	return collectProducts(rows)
}

// ListProductsByStatus возвращает продукты с одним из указанных статусов.
func (r *PostgresRepository) ListProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) ([]model.Product, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE status = ANY($1)
		 ORDER BY user_id, date_logged`,
		statusStrings(statuses),
	)
	if err != nil {
		return nil, persistenceErr("select products by status", err)
	}
	return collectProducts(rows)
}

// DeleteProductsByStatus удаляет продукты с указанными статусами и возвращает их число.
func (r *PostgresRepository) DeleteProductsByStatus(ctx context.Context, statuses ...model.ProductStatus) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM products WHERE status = ANY($1)`,
		statusStrings(statuses),
	)
	if err != nil {
		return 0, persistenceErr("delete products by status", err)
	}
	return tag.RowsAffected(), nil
}

func statusStrings(statuses []model.ProductStatus) []string {
	res := make([]string, 0, len(statuses))
	for _, s := range statuses {
		res = append(res, string(s))
	}
	return res
}

func collectProducts(rows pgx.Rows) ([]model.Product, error) {
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, persistenceErr("scan product", err)
		}
		res = append(res, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceErr("rows error", err)
	}

	return res, nil
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var (
		p        model.Product
		quantity string
		status   string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.InventoryID, &p.Name, &quantity,
		&p.DateLogged, &p.DateOfExpiry, &status, &p.ConsumedAt)
	if err != nil {
		return nil, err
	}

	p.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("product %s quantity %q: %w", p.ID, quantity, err)
	}
	p.Status, err = model.ParseProductStatus(status)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", p.ID, err)
	}
	return &p, nil
}
