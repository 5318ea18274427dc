// Package storage persists shoppers and the product catalog. Two drivers are
// provided: a JSON file store for development and single-node deployments, and
// a Postgres-backed repository for shared deployments.
package storage

import (
	"context"
	"errors"

	"merchanza/internal/models"
)

var (
	// ErrEmailTaken indicates a signup attempt reused an existing email.
	ErrEmailTaken = errors.New("existing user found with the same email")
	// ErrInvalidCredentials indicates the email or password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound indicates a cart operation referenced an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCartSlot indicates a cart slot index outside [0, CartSlots).
	ErrInvalidCartSlot = errors.New("cart slot out of range")
	// ErrProductNotFound indicates a catalog operation referenced an unknown id.
	ErrProductNotFound = errors.New("product not found")
)

// CreateUserParams collects the inputs for registering a shopper. The cart
// vector is always created zeroed; callers never supply it.
type CreateUserParams struct {
	Name     string
	Email    string
	Password string
}

// AddProductParams collects the inputs for a new catalog entry. The store
// assigns the numeric id.
type AddProductParams struct {
	Name     string
	Image    string
	Category string
	NewPrice models.Money
	OldPrice models.Money
}

// Repository exposes the datastore operations required by the API handlers.
// Cart mutations are atomic per user: concurrent increments on the same slot
// never lose an update in either driver.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(params CreateUserParams) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)

	AddToCart(userID string, slot int) (int, error)
	RemoveFromCart(userID string, slot int) (int, error)
	GetCart(userID string) ([]int, error)

	AddProduct(params AddProductParams) (models.Product, error)
	RemoveProduct(id int64) (models.Product, error)
	ListProducts() ([]models.Product, error)
	ListProductsByCategory(category string) ([]models.Product, error)
}
