package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"merchanza/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool *pgxpool.Pool
	cfg  PostgresConfig
}

// NewPostgresRepository opens a Postgres-backed repository and ensures the
// schema exists.
func NewPostgresRepository(dsn string, opts ...PostgresOption) (Repository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections >= 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &postgresRepository{pool: pool, cfg: cfg}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *postgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			cart INTEGER[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			image TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			new_price BIGINT NOT NULL DEFAULT 0,
			old_price BIGINT NOT NULL DEFAULT 0,
			date TIMESTAMPTZ NOT NULL DEFAULT now(),
			available BOOLEAN NOT NULL DEFAULT TRUE
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close drains the connection pool, bounded by the caller's context.
func (r *postgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func generatePostgresID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// User operations

func (r *postgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.User{}, errors.New("name is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}

	id, err := generatePostgresID()
	if err != nil {
		return models.User{}, err
	}
	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	cart := make([]int32, models.CartSlots)
	_, err = r.pool.Exec(context.Background(), `
INSERT INTO users (id, name, email, password_hash, cart, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, id, name, normalizedEmail, hashed, cart, now)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}

	return models.User{
		ID:           id,
		Name:         name,
		Email:        normalizedEmail,
		PasswordHash: hashed,
		Cart:         models.NewCart(),
		CreatedAt:    now,
	}, nil
}

func (r *postgresRepository) GetUser(id string) (models.User, bool) {
	user, err := r.scanUser(`SELECT id, name, email, password_hash, cart, created_at FROM users WHERE id = $1`, id)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) FindUserByEmail(email string) (models.User, bool) {
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	user, err := r.scanUser(`SELECT id, name, email, password_hash, cart, created_at FROM users WHERE email = $1`, normalizedEmail)
	if err != nil {
		return models.User{}, false
	}
	return user, true
}

func (r *postgresRepository) scanUser(query string, arg any) (models.User, error) {
	row := r.pool.QueryRow(context.Background(), query, arg)
	var (
		user models.User
		cart []int32
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &cart, &user.CreatedAt); err != nil {
		return models.User{}, err
	}
	user.Cart = widenCart(cart)
	return user, nil
}

func (r *postgresRepository) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := r.FindUserByEmail(email)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

// Cart operations
//
// Increments run as a single positional array update, so concurrent calls for
// the same user serialize on the row and never lose a count.

func (r *postgresRepository) AddToCart(userID string, slot int) (int, error) {
	if slot < 0 || slot >= models.CartSlots {
		return 0, ErrInvalidCartSlot
	}
	// Postgres arrays are 1-based.
	row := r.pool.QueryRow(context.Background(), `
UPDATE users SET cart[$2] = cart[$2] + 1
WHERE id = $1
RETURNING cart[$2]
`, userID, slot+1)
	var count int32
	if err := row.Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("increment cart slot: %w", err)
	}
	return int(count), nil
}

func (r *postgresRepository) RemoveFromCart(userID string, slot int) (int, error) {
	if slot < 0 || slot >= models.CartSlots {
		return 0, ErrInvalidCartSlot
	}
	row := r.pool.QueryRow(context.Background(), `
UPDATE users SET cart[$2] = GREATEST(cart[$2] - 1, 0)
WHERE id = $1
RETURNING cart[$2]
`, userID, slot+1)
	var count int32
	if err := row.Scan(&count); err != nil {
		if isNoRows(err) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("decrement cart slot: %w", err)
	}
	return int(count), nil
}

func (r *postgresRepository) GetCart(userID string) ([]int, error) {
	row := r.pool.QueryRow(context.Background(), `SELECT cart FROM users WHERE id = $1`, userID)
	var cart []int32
	if err := row.Scan(&cart); err != nil {
		if isNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return widenCart(cart), nil
}

// Product operations

func (r *postgresRepository) AddProduct(params AddProductParams) (models.Product, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Product{}, errors.New("product name is required")
	}
	now := time.Now().UTC()
	row := r.pool.QueryRow(context.Background(), `
INSERT INTO products (id, name, image, category, new_price, old_price, date, available)
SELECT COALESCE(MAX(id), 0) + 1, $1, $2, $3, $4, $5, $6, TRUE FROM products
RETURNING id
`, name, strings.TrimSpace(params.Image), strings.TrimSpace(params.Category),
		params.NewPrice.MinorUnits(), params.OldPrice.MinorUnits(), now)
	var id int64
	if err := row.Scan(&id); err != nil {
		return models.Product{}, fmt.Errorf("insert product: %w", err)
	}
	return models.Product{
		ID:        id,
		Name:      name,
		Image:     strings.TrimSpace(params.Image),
		Category:  strings.TrimSpace(params.Category),
		NewPrice:  params.NewPrice,
		OldPrice:  params.OldPrice,
		Date:      now,
		Available: true,
	}, nil
}

func (r *postgresRepository) RemoveProduct(id int64) (models.Product, error) {
	row := r.pool.QueryRow(context.Background(), `
DELETE FROM products WHERE id = $1
RETURNING id, name, image, category, new_price, old_price, date, available
`, id)
	product, err := scanProduct(row)
	if err != nil {
		if isNoRows(err) {
			return models.Product{}, ErrProductNotFound
		}
		return models.Product{}, fmt.Errorf("delete product: %w", err)
	}
	return product, nil
}

func (r *postgresRepository) ListProducts() ([]models.Product, error) {
	return r.listProducts(`SELECT id, name, image, category, new_price, old_price, date, available FROM products ORDER BY id`)
}

func (r *postgresRepository) ListProductsByCategory(category string) ([]models.Product, error) {
	return r.listProducts(`SELECT id, name, image, category, new_price, old_price, date, available FROM products WHERE lower(category) = lower($1) ORDER BY id`, strings.TrimSpace(category))
}

func (r *postgresRepository) listProducts(query string, args ...any) ([]models.Product, error) {
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var (
		product  models.Product
		newPrice int64
		oldPrice int64
	)
	if err := row.Scan(&product.ID, &product.Name, &product.Image, &product.Category, &newPrice, &oldPrice, &product.Date, &product.Available); err != nil {
		return models.Product{}, err
	}
	product.NewPrice = models.NewMoneyFromMinorUnits(newPrice)
	product.OldPrice = models.NewMoneyFromMinorUnits(oldPrice)
	return product, nil
}

func widenCart(cart []int32) []int {
	out := models.NewCart()
	for i, count := range cart {
		if i >= len(out) {
			break
		}
		out[i] = int(count)
	}
	return out
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
