package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"merchanza/internal/auth"
	"merchanza/internal/models"
	"merchanza/internal/storage"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository returned error: %v", err)
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	h := NewHandler(repo, issuer)
	h.UploadDir = filepath.Join(t.TempDir(), "images")
	return h
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, payload interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func signupToken(t *testing.T, h *Handler, email string) string {
	t.Helper()
	rr := postJSON(t, h.Signup, "/signup", map[string]string{
		"name":     "shopper",
		"email":    email,
		"password": "hunter2",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("signup returned %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	token, _ := payload["token"].(string)
	if token == "" {
		t.Fatalf("signup response missing token: %v", payload)
	}
	return token
}

func TestSignupIssuesVerifiableToken(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "alice@example.com")

	userID, err := h.Tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	user, ok := h.Store.FindUserByEmail("alice@example.com")
	if !ok {
		t.Fatal("user not persisted")
	}
	if userID != user.ID {
		t.Fatalf("token carries user %q, want %q", userID, user.ID)
	}
	if len(user.Cart) != models.CartSlots {
		t.Fatalf("cart has %d slots, want %d", len(user.Cart), models.CartSlots)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	h := newTestHandler(t)
	signupToken(t, h, "bob@example.com")

	rr := postJSON(t, h.Signup, "/signup", map[string]string{
		"name":     "other",
		"email":    "bob@example.com",
		"password": "different",
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %v", payload)
	}
	if payload["errors"] != "Existing user found with the same email" {
		t.Fatalf("unexpected error message: %v", payload["errors"])
	}
}

func TestLoginWrongPassword(t *testing.T) {
	h := newTestHandler(t)
	signupToken(t, h, "carol@example.com")

	rr := postJSON(t, h.Login, "/login", map[string]string{
		"email":    "carol@example.com",
		"password": "not-the-password",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["success"] != false || payload["errors"] != "Wrong Email or Password" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestLoginUnknownEmailMatchesWrongPassword(t *testing.T) {
	h := newTestHandler(t)

	rr := postJSON(t, h.Login, "/login", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever",
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["errors"] != "Wrong Email or Password" {
		t.Fatalf("unexpected error message: %v", payload["errors"])
	}
}

func cartSlot(t *testing.T, h *Handler, token string, slot int) float64 {
	t.Helper()
	rr := postJSON(t, h.GetCart, "/getcart", map[string]int{}, map[string]string{"auth-token": token})
	if rr.Code != http.StatusOK {
		t.Fatalf("getcart returned %d: %s", rr.Code, rr.Body.String())
	}
	var cart []float64
	if err := json.Unmarshal(rr.Body.Bytes(), &cart); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cart) != models.CartSlots {
		t.Fatalf("cart has %d slots, want %d", len(cart), models.CartSlots)
	}
	return cart[slot]
}

func TestAddToCartIncrements(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "dave@example.com")

	for i := 0; i < 2; i++ {
		rr := postJSON(t, h.AddToCart, "/addtocart", map[string]int{"itemId": 12}, map[string]string{"auth-token": token})
		if rr.Code != http.StatusOK {
			t.Fatalf("addtocart returned %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Body.String() != "Added" {
			t.Fatalf("unexpected body %q", rr.Body.String())
		}
	}
	if got := cartSlot(t, h, token, 12); got != 2 {
		t.Fatalf("slot 12 = %v, want 2", got)
	}
	if got := cartSlot(t, h, token, 11); got != 0 {
		t.Fatalf("slot 11 = %v, want 0", got)
	}
}

func TestRemoveFromCartClampsAtZero(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "erin@example.com")

	rr := postJSON(t, h.RemoveFromCart, "/removefromcart", map[string]int{"itemId": 3}, map[string]string{"auth-token": token})
	if rr.Code != http.StatusOK || rr.Body.String() != "Removed" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if got := cartSlot(t, h, token, 3); got != 0 {
		t.Fatalf("slot 3 = %v, want 0", got)
	}
}

func TestCartRequiresToken(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "frank@example.com")

	rr := postJSON(t, h.AddToCart, "/addtocart", map[string]int{"itemId": 1}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["errors"] != "Please authenticate using valid login" {
		t.Fatalf("unexpected message: %v", payload["errors"])
	}
	if got := cartSlot(t, h, token, 1); got != 0 {
		t.Fatalf("rejected request mutated cart, slot 1 = %v", got)
	}
}

func TestCartRejectsInvalidToken(t *testing.T) {
	h := newTestHandler(t)
	signupToken(t, h, "grace@example.com")

	rr := postJSON(t, h.AddToCart, "/addtocart", map[string]int{"itemId": 1}, map[string]string{"auth-token": "not-a-token"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["errors"] != "Please authenticate using valid token" {
		t.Fatalf("unexpected message: %v", payload["errors"])
	}
}

func TestCartRejectsTokenSignedWithOtherSecret(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "heidi@example.com")
	user, _ := h.Store.FindUserByEmail("heidi@example.com")

	other, err := auth.NewIssuer("different-secret")
	if err != nil {
		t.Fatalf("NewIssuer returned error: %v", err)
	}
	forged, err := other.Issue(user.ID)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	rr := postJSON(t, h.AddToCart, "/addtocart", map[string]int{"itemId": 1}, map[string]string{"auth-token": forged})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := cartSlot(t, h, token, 1); got != 0 {
		t.Fatalf("forged token mutated cart, slot 1 = %v", got)
	}
}

func TestAddToCartRejectsOutOfRangeSlot(t *testing.T) {
	h := newTestHandler(t)
	token := signupToken(t, h, "ivan@example.com")

	for _, slot := range []int{-1, models.CartSlots} {
		rr := postJSON(t, h.AddToCart, "/addtocart", map[string]int{"itemId": slot}, map[string]string{"auth-token": token})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("slot %d: expected 400, got %d", slot, rr.Code)
		}
	}
}

func addTestProduct(t *testing.T, h *Handler, name, category, price string) {
	t.Helper()
	rr := postJSON(t, h.AddProduct, "/addproduct", map[string]interface{}{
		"name":      name,
		"image":     "http://localhost:4000/images/" + name + ".png",
		"category":  category,
		"new_price": json.RawMessage(price),
		"old_price": json.RawMessage(price),
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("addproduct returned %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["success"] != true || payload["name"] != name {
		t.Fatalf("unexpected addproduct payload: %v", payload)
	}
}

func TestCatalogQueries(t *testing.T) {
	h := newTestHandler(t)
	for i := 1; i <= 10; i++ {
		category := "clothing"
		if i%2 == 0 {
			category = "electronics"
		}
		addTestProduct(t, h, fmt.Sprintf("item-%d", i), category, "19.99")
	}

	rr := httptest.NewRecorder()
	h.AllProducts(rr, httptest.NewRequest(http.MethodGet, "/allproducts", nil))
	var all []models.Product
	if err := json.Unmarshal(rr.Body.Bytes(), &all); err != nil {
		t.Fatalf("decode allproducts: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("allproducts returned %d items, want 10", len(all))
	}
	if all[0].ID != 1 || all[9].ID != 10 {
		t.Fatalf("allproducts not ordered by id: first=%d last=%d", all[0].ID, all[9].ID)
	}

	rr = httptest.NewRecorder()
	h.NewCollections(rr, httptest.NewRequest(http.MethodGet, "/newcollections", nil))
	var latest []models.Product
	if err := json.Unmarshal(rr.Body.Bytes(), &latest); err != nil {
		t.Fatalf("decode newcollections: %v", err)
	}
	if len(latest) != 8 {
		t.Fatalf("newcollections returned %d items, want 8", len(latest))
	}
	if latest[0].ID != 3 {
		t.Fatalf("newcollections starts at id %d, want 3", latest[0].ID)
	}

	rr = httptest.NewRecorder()
	h.PopularProducts(rr, httptest.NewRequest(http.MethodGet, "/popularproducts", nil))
	var popular []models.Product
	if err := json.Unmarshal(rr.Body.Bytes(), &popular); err != nil {
		t.Fatalf("decode popularproducts: %v", err)
	}
	if len(popular) != 4 {
		t.Fatalf("popularproducts returned %d items, want 4", len(popular))
	}
	for _, p := range popular {
		if p.Category != "clothing" {
			t.Fatalf("popularproducts returned category %q", p.Category)
		}
	}
}

func TestRemoveProduct(t *testing.T) {
	h := newTestHandler(t)
	addTestProduct(t, h, "doomed", "clothing", "5")

	rr := postJSON(t, h.RemoveProduct, "/removeproduct", map[string]interface{}{"id": 1, "name": "doomed"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("removeproduct returned %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	if payload["success"] != true || payload["name"] != "doomed" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	rr = postJSON(t, h.RemoveProduct, "/removeproduct", map[string]interface{}{"id": 1}, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing product, got %d", rr.Code)
	}
}

func uploadTestImage(t *testing.T, h *Handler, filename string) string {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(imageFieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("fake-png-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Host = "shop.example.com"
	rr := httptest.NewRecorder()
	h.Upload(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload returned %d: %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	imageURL, _ := payload["image_url"].(string)
	if payload["success"] != true || imageURL == "" {
		t.Fatalf("unexpected upload payload: %v", payload)
	}
	return imageURL
}

func TestUploadStoresImageAndBuildsURL(t *testing.T) {
	h := newTestHandler(t)
	imageURL := uploadTestImage(t, h, "sneaker.PNG")

	if !strings.HasPrefix(imageURL, "http://shop.example.com/images/image_") {
		t.Fatalf("unexpected image url %q", imageURL)
	}
	if !strings.HasSuffix(imageURL, ".png") {
		t.Fatalf("expected lowercased extension, got %q", imageURL)
	}

	name := imageURL[strings.LastIndex(imageURL, "/")+1:]
	if _, err := os.Stat(filepath.Join(h.ImageDir(), name)); err != nil {
		t.Fatalf("stored image missing: %v", err)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	h := newTestHandler(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("unrelated", "value"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	h.Upload(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["message"] != "No file uploaded" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
}

func TestImageListAndRemove(t *testing.T) {
	h := newTestHandler(t)
	imageURL := uploadTestImage(t, h, "boot.jpg")
	name := imageURL[strings.LastIndex(imageURL, "/")+1:]

	rr := httptest.NewRecorder()
	h.ImageList(rr, httptest.NewRequest(http.MethodGet, "/imagelist", nil))
	payload := decodeBody(t, rr)
	images, _ := payload["images"].([]interface{})
	if len(images) != 1 {
		t.Fatalf("imagelist returned %d entries, want 1", len(images))
	}

	rr = postJSON(t, h.RemoveImage, "/removeimage", map[string]string{"filename": name}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("removeimage returned %d: %s", rr.Code, rr.Body.String())
	}
	payload = decodeBody(t, rr)
	if payload["message"] != "Image deleted successfully" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}

	rr = postJSON(t, h.RemoveImage, "/removeimage", map[string]string{"filename": name}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing file, got %d", rr.Code)
	}
	payload = decodeBody(t, rr)
	if payload["message"] != "Failed to delete image" {
		t.Fatalf("unexpected message: %v", payload["message"])
	}
}

func TestRemoveImageIgnoresPathComponents(t *testing.T) {
	h := newTestHandler(t)
	outside := filepath.Join(filepath.Dir(h.ImageDir()), "secret.txt")
	if err := os.WriteFile(outside, []byte("keep"), 0o600); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	rr := postJSON(t, h.RemoveImage, "/removeimage", map[string]string{"filename": "../secret.txt"}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("sentinel outside upload dir was removed: %v", err)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t)
	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health returned %d", rr.Code)
	}
	payload := decodeBody(t, rr)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected status: %v", payload["status"])
	}
}
