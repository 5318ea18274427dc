package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"merchanza/internal/models"
)

type dataset struct {
	Users    map[string]models.User   `json:"users"`
	Products map[int64]models.Product `json:"products"`
}

// Storage is the JSON-file datastore. All operations hold the mutex for the
// full read-modify-write, so per-user cart updates are serialized and the
// lost-update race between concurrent increments cannot occur.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
}

func newDataset() dataset {
	return dataset{
		Users:    make(map[string]models.User),
		Products: make(map[int64]models.Product),
	}
}

func (s *Storage) ensureDatasetInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Products == nil {
		s.data.Products = make(map[int64]models.Product)
	}
	for id, user := range s.data.Users {
		if len(user.Cart) != models.CartSlots {
			cart := models.NewCart()
			copy(cart, user.Cart)
			user.Cart = cart
			s.data.Users[id] = user
		}
	}
}

// NewStorage opens the JSON datastore at path, creating the parent directory
// and an empty dataset when the file does not yet exist.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{filePath: path}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}

	s.ensureDatasetInitializedLocked()

	return nil
}

func (s *Storage) persist() error {
	return s.persistDataset(s.data)
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

func (s *Storage) generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Ping reports whether the datastore file is still reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := os.Stat(filepath.Dir(s.filePath)); err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	return nil
}

// User operations

func (s *Storage) CreateUser(params CreateUserParams) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalizedEmail := strings.TrimSpace(strings.ToLower(params.Email))
	if normalizedEmail == "" {
		return models.User{}, errors.New("email is required")
	}
	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return models.User{}, ErrEmailTaken
		}
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.User{}, errors.New("name is required")
	}
	if params.Password == "" {
		return models.User{}, errors.New("password is required")
	}

	id, err := s.generateID()
	if err != nil {
		return models.User{}, err
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           id,
		Name:         name,
		Email:        normalizedEmail,
		PasswordHash: hashed,
		Cart:         models.NewCart(),
		CreatedAt:    time.Now().UTC(),
	}

	s.data.Users[id] = user
	if err := s.persist(); err != nil {
		delete(s.data.Users, id)
		return models.User{}, err
	}

	return cloneUser(user), nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, false
	}
	return cloneUser(user), true
}

// FindUserByEmail looks up a user by their normalized email address.
func (s *Storage) FindUserByEmail(email string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	normalizedEmail := strings.TrimSpace(strings.ToLower(email))
	for _, user := range s.data.Users {
		if user.Email == normalizedEmail {
			return cloneUser(user), true
		}
	}
	return models.User{}, false
}

// AuthenticateUser verifies credentials and returns the matching user on success.
func (s *Storage) AuthenticateUser(email, password string) (models.User, error) {
	if password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, ok := s.FindUserByEmail(email)
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

func (s *Storage) AddToCart(userID string, slot int) (int, error) {
	return s.adjustCart(userID, slot, 1)
}

// RemoveFromCart decrements the slot count, clamping at zero so a stray
// removal never drives a quantity negative.
func (s *Storage) RemoveFromCart(userID string, slot int) (int, error) {
	return s.adjustCart(userID, slot, -1)
}

func (s *Storage) adjustCart(userID string, slot, delta int) (int, error) {
	if slot < 0 || slot >= models.CartSlots {
		return 0, ErrInvalidCartSlot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}

	previous := user.Cart[slot]
	next := previous + delta
	if next < 0 {
		next = 0
	}
	user.Cart[slot] = next
	s.data.Users[userID] = user
	if err := s.persist(); err != nil {
		user.Cart[slot] = previous
		s.data.Users[userID] = user
		return 0, err
	}
	return next, nil
}

func (s *Storage) GetCart(userID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cart := make([]int, len(user.Cart))
	copy(cart, user.Cart)
	return cart, nil
}

// Product operations

func (s *Storage) AddProduct(params AddProductParams) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Product{}, errors.New("product name is required")
	}

	product := models.Product{
		ID:        s.nextProductIDLocked(),
		Name:      name,
		Image:     strings.TrimSpace(params.Image),
		Category:  strings.TrimSpace(params.Category),
		NewPrice:  params.NewPrice,
		OldPrice:  params.OldPrice,
		Date:      time.Now().UTC(),
		Available: true,
	}

	s.data.Products[product.ID] = product
	if err := s.persist(); err != nil {
		delete(s.data.Products, product.ID)
		return models.Product{}, err
	}
	return product, nil
}

// nextProductIDLocked follows the catalog contract: the id after the highest
// assigned one, starting at 1 for an empty catalog.
func (s *Storage) nextProductIDLocked() int64 {
	var max int64
	for id := range s.data.Products {
		if id > max {
			max = id
		}
	}
	return max + 1
}

func (s *Storage) RemoveProduct(id int64) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.data.Products[id]
	if !ok {
		return models.Product{}, ErrProductNotFound
	}
	delete(s.data.Products, id)
	if err := s.persist(); err != nil {
		s.data.Products[id] = product
		return models.Product{}, err
	}
	return product, nil
}

func (s *Storage) ListProducts() ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortProducts(s.data.Products, ""), nil
}

func (s *Storage) ListProductsByCategory(category string) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortProducts(s.data.Products, category), nil
}

func sortProducts(products map[int64]models.Product, category string) []models.Product {
	normalized := strings.ToLower(strings.TrimSpace(category))
	out := make([]models.Product, 0, len(products))
	for _, product := range products {
		if normalized != "" && strings.ToLower(product.Category) != normalized {
			continue
		}
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneUser(user models.User) models.User {
	cart := make([]int, len(user.Cart))
	copy(cart, user.Cart)
	user.Cart = cart
	return user
}
