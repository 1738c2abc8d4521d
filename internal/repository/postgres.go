// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/boosthub/boosthub-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrLoginTaken возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrLoginTaken = errors.New("login already taken")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrOrderNotFound возвращается, если заказ не найден или мягко удалён.
	ErrOrderNotFound = errors.New("order not found")
	// ErrReviewNotFound возвращается, если отзыв не найден.
	ErrReviewNotFound = errors.New("review not found")
	// ErrReviewExists возвращается при попытке оставить второй отзыв на один заказ.
	ErrReviewExists = errors.New("review already exists for order")
	// ErrConflict возвращается, когда конкурентная запись не разрешилась ретраями.
	// Вызывающая сторона может безопасно повторить операцию.
	ErrConflict = errors.New("concurrent update conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
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

	r := &PostgresRepository{pool: pool}

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

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраим только конфликты сериализации, дедлоки и сетевые обрывы.
		// Доменные ошибки всплывают без повторов.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
			break
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// asConflict переводит исчерпавший ретраи конфликт сериализации в ErrConflict.
func asConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) &&
		(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
	}
	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrLoginTaken, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, booster_rating, created_at FROM users WHERE login = $1`,
		login,
	)
	return scanUser(row)
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, booster_rating, created_at FROM users WHERE id = $1`,
		id,
	)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.BoosterRating, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// SetBoosterRating записывает пересчитанный рейтинг бустера.
func (r *PostgresRepository) SetBoosterRating(ctx context.Context, boosterID int64, rating float64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET booster_rating = $2 WHERE id = $1`,
		boosterID, rating,
	)
	if err != nil {
		return fmt.Errorf("update booster rating: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

const orderColumns = `id, customer_id, booster_id, game_code, service_type, current_rank, target_rank,
	 status, payment_status, price, commission, currency, notes, created_at, updated_at, deleted_at`

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, customer_id, game_code, service_type, current_rank, target_rank,
		 status, payment_status, price, commission, currency, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.CustomerID, o.GameCode, o.ServiceType, o.CurrentRank, o.TargetRank,
		string(o.Status), string(o.PaymentStatus), o.PriceCents, o.CommissionCents, o.Currency, o.Notes,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrderByID возвращает заказ по идентификатору. Мягко удалённые заказы не видны.
func (r *PostgresRepository) GetOrderByID(ctx context.Context, id string) (*model.Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var status, paymentStatus string
	err := row.Scan(&o.ID, &o.CustomerID, &o.BoosterID, &o.GameCode, &o.ServiceType,
		&o.CurrentRank, &o.TargetRank, &status, &paymentStatus,
		&o.PriceCents, &o.CommissionCents, &o.Currency, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.PaymentStatus = model.PaymentStatus(paymentStatus)
	return &o, nil
}

func orderFilterClauses(f model.OrderFilter) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any

	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.PaymentStatus != nil {
		add("payment_status", string(*f.PaymentStatus))
	}
	if f.GameCode != nil {
		add("game_code", *f.GameCode)
	}
	if f.ServiceType != nil {
		add("service_type", *f.ServiceType)
	}
	if f.CustomerID != nil {
		add("customer_id", *f.CustomerID)
	}
	if f.BoosterID != nil {
		add("booster_id", *f.BoosterID)
	}

	return strings.Join(clauses, " AND "), args
}

// ListOrders возвращает заказы, удовлетворяющие фильтру, от новых к старым.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	where, args := orderFilterClauses(f)

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY created_at DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListAvailableOrders возвращает оплаченные заказы без бустера, от старых к новым.
// Порядок фиксирует очередь: раньше оплаченный заказ предлагается первым.
func (r *PostgresRepository) ListAvailableOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND booster_id IS NULL AND deleted_at IS NULL
		 ORDER BY created_at`,
		string(model.OrderStatusPaid),
	)
	if err != nil {
		return nil, fmt.Errorf("select available orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// UpdateOrderTx выполняет изменение заказа в транзакции под блокировкой строки.
// Строка заказа читается с FOR UPDATE, mutate валидирует и меняет её состояние,
// после чего изменения записываются. Конкурентные изменения одного заказа
// сериализуются по идентификатору: проигравший увидит уже зафиксированное
// состояние победителя. Ошибка mutate откатывает транзакцию и всплывает как есть.
func (r *PostgresRepository) UpdateOrderTx(ctx context.Context, id string, mutate func(*model.Order) error) (*model.Order, error) {
	var updated *model.Order

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
			id,
		)
		o, err := scanOrder(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("select order for update: %w", err)
		}

		if err := mutate(o); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE orders SET booster_id = $2, status = $3, payment_status = $4, updated_at = now()
			 WHERE id = $1`,
			o.ID, o.BoosterID, string(o.Status), string(o.PaymentStatus),
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		updated = o
		return nil
	})
	if err != nil {
		return nil, asConflict(err)
	}

	return updated, nil
}

// SoftDeleteOrder помечает заказ удалённым. Строка сохраняется: заказы —
// финансовые записи и остаются доступными для аудита.
func (r *PostgresRepository) SoftDeleteOrder(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE orders SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// CountOrders возвращает количество заказов, удовлетворяющих фильтру.
func (r *PostgresRepository) CountOrders(ctx context.Context, f model.OrderFilter) (int64, error) {
	where, args := orderFilterClauses(f)

	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE `+where,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

// SumOrderPriceCents возвращает сумму цен заказов, удовлетворяющих фильтру, в копейках.
func (r *PostgresRepository) SumOrderPriceCents(ctx context.Context, f model.OrderFilter) (int64, error) {
	where, args := orderFilterClauses(f)

	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(price), 0) FROM orders WHERE `+where,
		args...,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum order prices: %w", err)
	}
	return sum, nil
}

// CreateReview сохраняет отзыв. Уникальность отзыва на заказ обеспечивается
// ограничением БД, нарушение транслируется в ErrReviewExists.
func (r *PostgresRepository) CreateReview(ctx context.Context, rev *model.Review) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reviews (id, order_id, customer_id, booster_id, rating, comment, is_visible)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rev.ID, rev.OrderID, rev.CustomerID, rev.BoosterID, rev.Rating, rev.Comment, rev.IsVisible,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrReviewExists, rev.OrderID)
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetReviewByID возвращает отзыв по идентификатору.
func (r *PostgresRepository) GetReviewByID(ctx context.Context, id string) (*model.Review, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, order_id, customer_id, booster_id, rating, comment, is_visible, created_at, updated_at
		 FROM reviews WHERE id = $1`,
		id,
	)

	var rev model.Review
	err := row.Scan(&rev.ID, &rev.OrderID, &rev.CustomerID, &rev.BoosterID,
		&rev.Rating, &rev.Comment, &rev.IsVisible, &rev.CreatedAt, &rev.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("get review: %w", err)
	}
	return &rev, nil
}

// UpdateReviewRating меняет оценку в отзыве.
func (r *PostgresRepository) UpdateReviewRating(ctx context.Context, id string, rating int) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE reviews SET rating = $2, updated_at = now() WHERE id = $1`,
		id, rating,
	)
	if err != nil {
		return fmt.Errorf("update review rating: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// SetReviewVisibility меняет видимость отзыва (модерация администратором).
func (r *PostgresRepository) SetReviewVisibility(ctx context.Context, id string, visible bool) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE reviews SET is_visible = $2, updated_at = now() WHERE id = $1`,
		id, visible,
	)
	if err != nil {
		return fmt.Errorf("update review visibility: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// DeleteReview удаляет отзыв. В отличие от заказов отзывы удаляются жёстко:
// требований аудита к ним нет.
func (r *PostgresRepository) DeleteReview(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM reviews WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrReviewNotFound
	}
	return nil
}

// ListVisibleRatings возвращает оценки из видимых отзывов о бустере.
func (r *PostgresRepository) ListVisibleRatings(ctx context.Context, boosterID int64) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT rating FROM reviews WHERE booster_id = $1 AND is_visible = TRUE`,
		boosterID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ratings: %w", err)
	}
	defer rows.Close()

	var ratings []int
	for rows.Next() {
		var rating int
		if err := rows.Scan(&rating); err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		ratings = append(ratings, rating)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ratings, nil
}
