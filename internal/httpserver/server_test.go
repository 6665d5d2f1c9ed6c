package httpserver_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"account-api/internal/common"
	"account-api/internal/config"
	"account-api/internal/features/admin"
	"account-api/internal/features/secure"
	"account-api/internal/features/users"
	"account-api/internal/httpserver"
	"account-api/internal/mail"
)

// fakeDir — каталог пользователей в памяти.
type fakeDir struct {
	byID map[uuid.UUID]*users.User
}

func newFakeDir() *fakeDir {
	return &fakeDir{byID: make(map[uuid.UUID]*users.User)}
}

func (f *fakeDir) ExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := f.byID[id]
	return ok, nil
}

func (f *fakeDir) ExistsByEmail(_ context.Context, email string) (bool, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDir) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("пользователь %s: %w", id, common.ErrUserNotFound)
	}
	return u, nil
}

func (f *fakeDir) GetByEmail(_ context.Context, email string) (*users.User, error) {
	for _, u := range f.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, fmt.Errorf("пользователь %s: %w", email, common.ErrUserNotFound)
}

func (f *fakeDir) TagInUse(_ context.Context, username string, tag int) (bool, error) {
	return false, nil
}

func (f *fakeDir) Insert(_ context.Context, email, username string, tag int) (*users.User, error) {
	u := &users.User{ID: uuid.New(), CreatedAt: time.Now(), Email: email, Username: username, Tag: tag}
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeDir) Delete(_ context.Context, id uuid.UUID) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeDir) List(_ context.Context, page, pageSize int) ([]*users.User, error) {
	var out []*users.User
	for _, u := range f.byID {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeDir) SetVerified(_ context.Context, id uuid.UUID) error {
	if u, ok := f.byID[id]; ok {
		u.IsVerified = true
	}
	return nil
}

// fakeStore — хранилище секретов в памяти; здесь нужны только коды.
type fakeStore struct {
	codes map[uuid.UUID]*secure.VerificationCode
}

func newFakeStore() *fakeStore {
	return &fakeStore{codes: make(map[uuid.UUID]*secure.VerificationCode)}
}

func (f *fakeStore) InsertToken(_ context.Context, userID uuid.UUID, typ secure.TokenType) (*secure.Token, error) {
	return &secure.Token{ID: uuid.New(), UserID: userID, Type: typ}, nil
}

func (f *fakeStore) TokenExists(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (f *fakeStore) GetToken(_ context.Context, id uuid.UUID) (*secure.Token, error) {
	return nil, fmt.Errorf("токен %s: %w", id, common.ErrTokenNotFound)
}

func (f *fakeStore) TokensByUser(context.Context, uuid.UUID) ([]*secure.Token, error) {
	return nil, nil
}

func (f *fakeStore) TouchToken(context.Context, uuid.UUID) error  { return nil }
func (f *fakeStore) DeleteToken(context.Context, uuid.UUID) error { return nil }

func (f *fakeStore) PurgeStaleTokens(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeStore) UpsertPassword(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeStore) GetPassword(_ context.Context, userID uuid.UUID) (*secure.Password, error) {
	return nil, fmt.Errorf("пароль %s: %w", userID, common.ErrUserNotFound)
}

func (f *fakeStore) CodeInUse(_ context.Context, userID uuid.UUID, code string) (bool, error) {
	vc, ok := f.codes[userID]
	return ok && vc.Code == code, nil
}

func (f *fakeStore) ReplaceCode(_ context.Context, userID uuid.UUID, code string, expires time.Time) (*secure.VerificationCode, error) {
	vc := &secure.VerificationCode{ID: uuid.New(), UserID: userID, Code: code, CreatedAt: time.Now(), Expires: expires}
	f.codes[userID] = vc
	return vc, nil
}

func (f *fakeStore) GetCodeByValue(_ context.Context, code string) (*secure.VerificationCode, error) {
	for _, vc := range f.codes {
		if vc.Code == code {
			return vc, nil
		}
	}
	return nil, fmt.Errorf("код подтверждения: %w", common.ErrCodeNotFound)
}

func (f *fakeStore) DeleteCode(_ context.Context, id uuid.UUID) error {
	for userID, vc := range f.codes {
		if vc.ID == id {
			delete(f.codes, userID)
		}
	}
	return nil
}

func (f *fakeStore) PurgeExpiredCodes(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeStore) InsertUserConfig(context.Context, uuid.UUID) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		HTTPAddr:                 ":0",
		HTTPReadTimeout:          5 * time.Second,
		HTTPWriteTimeout:         5 * time.Second,
		AuthFailTimeout:          time.Hour,
		AuthFailLockTime:         2 * time.Hour,
		AuthMaxFailAttempts:      5,
		AuthAdminTimeout:         time.Minute,
		AuthChallengeWait:        2 * time.Second,
		VerificationExpiresDays:  1,
		PasswordMinLength:        12,
		PasswordRequireLowercase: 1,
		PasswordRequireUppercase: 1,
		PasswordRequireNumber:    1,
		PasswordRequireSpecial:   1,
	}
}

func newTestServer(t *testing.T, dir *fakeDir, store *fakeStore) *httptest.Server {
	t.Helper()

	cfg := testConfig()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	secureService := secure.NewService(store, cfg)
	userService := users.NewService(dir, secureService, mail.LogMailer{}, cfg)
	registry := admin.NewRegistry()

	srv := httpserver.New(cfg, userService, registry, &key.PublicKey, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestVerifyUnknownCode(t *testing.T) {
	ts := newTestServer(t, newFakeDir(), newFakeStore())

	resp, err := http.Get(ts.URL + "/users/verify/no-such-code")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Code not found", body["detail"])
}

func TestVerifyExpiredCode(t *testing.T) {
	dir := newFakeDir()
	store := newFakeStore()
	ts := newTestServer(t, dir, store)

	user, err := dir.Insert(context.Background(), "a@example.com", "alpha", 123456)
	require.NoError(t, err)
	vc, err := store.ReplaceCode(context.Background(), user.ID, "expired-code", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/users/verify/" + vc.Code)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Validation code expired", body["detail"])

	// Истёкший код уничтожается при обращении
	require.Empty(t, store.codes)
}

func TestVerifyMarksUserVerified(t *testing.T) {
	dir := newFakeDir()
	store := newFakeStore()
	ts := newTestServer(t, dir, store)

	user, err := dir.Insert(context.Background(), "a@example.com", "alpha", 123456)
	require.NoError(t, err)
	vc, err := store.ReplaceCode(context.Background(), user.ID, "live-code", time.Now().Add(time.Hour))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/users/verify/" + vc.Code)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, user.ID.String(), body["id"])
	require.Equal(t, true, body["is_verified"])

	require.True(t, dir.byID[user.ID].IsVerified)
	require.Empty(t, store.codes, "код одноразовый")
}

func TestWebSocketRoute(t *testing.T) {
	ts := newTestServer(t, newFakeDir(), newFakeStore())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"target":"ping","data":{}}`)))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"target":"pong"}`, string(raw))
}

func TestWebSocketUsersTarget(t *testing.T) {
	dir := newFakeDir()
	ts := newTestServer(t, dir, newFakeStore())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	payload := `{"target":"users","data":{"action":"new","data":{"username":"alpha","email":"a@example.com","password":"Sup3r-Secret-Pass!"}}}`
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(payload)))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var reply map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &reply))

	var action string
	require.NoError(t, json.Unmarshal(reply["action"], &action))
	require.Equal(t, "new", action)
	require.Len(t, dir.byID, 1)
}
