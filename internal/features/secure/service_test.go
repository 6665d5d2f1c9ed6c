package secure_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"account-api/internal/common"
	"account-api/internal/config"
	"account-api/internal/features/secure"
)

// fakeStore — хранилище секретов в памяти.
type fakeStore struct {
	tokens    map[uuid.UUID]*secure.Token
	passwords map[uuid.UUID]string
	codes     map[uuid.UUID]*secure.VerificationCode // ключ — user_id, живой код один
	configs   map[uuid.UUID]bool

	codeInUse    func(userID uuid.UUID, code string) bool
	replaceCalls []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tokens:    make(map[uuid.UUID]*secure.Token),
		passwords: make(map[uuid.UUID]string),
		codes:     make(map[uuid.UUID]*secure.VerificationCode),
		configs:   make(map[uuid.UUID]bool),
	}
}

func (f *fakeStore) InsertToken(_ context.Context, userID uuid.UUID, typ secure.TokenType) (*secure.Token, error) {
	tok := &secure.Token{ID: uuid.New(), UserID: userID, CreatedAt: time.Now(), LastUsed: time.Now(), Type: typ}
	f.tokens[tok.ID] = tok
	return tok, nil
}

func (f *fakeStore) TokenExists(_ context.Context, id uuid.UUID) (bool, error) {
	_, ok := f.tokens[id]
	return ok, nil
}

func (f *fakeStore) GetToken(_ context.Context, id uuid.UUID) (*secure.Token, error) {
	tok, ok := f.tokens[id]
	if !ok {
		return nil, fmt.Errorf("токен %s: %w", id, common.ErrTokenNotFound)
	}
	return tok, nil
}

func (f *fakeStore) TokensByUser(_ context.Context, userID uuid.UUID) ([]*secure.Token, error) {
	var out []*secure.Token
	for _, tok := range f.tokens {
		if tok.UserID == userID {
			out = append(out, tok)
		}
	}
	return out, nil
}

func (f *fakeStore) TouchToken(_ context.Context, id uuid.UUID) error {
	if tok, ok := f.tokens[id]; ok {
		tok.LastUsed = time.Now()
	}
	return nil
}

func (f *fakeStore) DeleteToken(_ context.Context, id uuid.UUID) error {
	delete(f.tokens, id)
	return nil
}

func (f *fakeStore) PurgeStaleTokens(_ context.Context, unusedSince time.Time) (int64, error) {
	var n int64
	for id, tok := range f.tokens {
		if tok.LastUsed.Before(unusedSince) {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpsertPassword(_ context.Context, userID uuid.UUID, hash string) error {
	f.passwords[userID] = hash
	return nil
}

func (f *fakeStore) GetPassword(_ context.Context, userID uuid.UUID) (*secure.Password, error) {
	hash, ok := f.passwords[userID]
	if !ok {
		return nil, fmt.Errorf("пароль %s: %w", userID, common.ErrUserNotFound)
	}
	return &secure.Password{UserID: userID, Hash: hash, LastUpdated: time.Now()}, nil
}

func (f *fakeStore) CodeInUse(_ context.Context, userID uuid.UUID, code string) (bool, error) {
	if f.codeInUse != nil {
		return f.codeInUse(userID, code), nil
	}
	vc, ok := f.codes[userID]
	return ok && vc.Code == code, nil
}

func (f *fakeStore) ReplaceCode(_ context.Context, userID uuid.UUID, code string, expires time.Time) (*secure.VerificationCode, error) {
	f.replaceCalls = append(f.replaceCalls, code)
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

func (f *fakeStore) PurgeExpiredCodes(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for userID, vc := range f.codes {
		if vc.Expires.Before(now) {
			delete(f.codes, userID)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertUserConfig(_ context.Context, userID uuid.UUID) error {
	f.configs[userID] = true
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		VerificationExpiresDays: 1,
		TokenRetention:          time.Hour,
	}
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := secure.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"))

	require.True(t, secure.VerifyPassword("correct horse battery staple", hash))
	require.False(t, secure.VerifyPassword("wrong password", hash))
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	require.False(t, secure.VerifyPassword("whatever", "not-a-hash"))
	require.False(t, secure.VerifyPassword("whatever", "$argon2id$v=19$broken"))
}

func TestIssueTokenNormalizesType(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())

	tok, err := svc.IssueToken(context.Background(), uuid.New(), secure.TokenType(9))
	require.NoError(t, err)
	require.Equal(t, secure.TokenUser, tok.Type)

	tok, err = svc.IssueToken(context.Background(), uuid.New(), secure.TokenBot)
	require.NoError(t, err)
	require.Equal(t, secure.TokenBot, tok.Type)
}

func TestIssueVerificationCodeRegeneratesOnCollision(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())
	userID := uuid.New()

	collisions := 0
	store.codeInUse = func(uuid.UUID, string) bool {
		collisions++
		return collisions <= 2 // первые два кода считаем занятыми
	}

	vc, err := svc.IssueVerificationCode(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, 3, collisions)
	require.NotEmpty(t, vc.Code)
	require.NotContains(t, vc.Code, "+")
	require.NotContains(t, vc.Code, "/")
	require.NotContains(t, vc.Code, "=")
}

func TestIssueVerificationCodeKeepsSingleLiveCode(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())
	userID := uuid.New()

	first, err := svc.IssueVerificationCode(context.Background(), userID)
	require.NoError(t, err)
	second, err := svc.IssueVerificationCode(context.Background(), userID)
	require.NoError(t, err)

	require.NotEqual(t, first.Code, second.Code)
	require.Len(t, store.codes, 1)
	require.Equal(t, second.Code, store.codes[userID].Code)
}

func TestResolveVerificationCode(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())
	userID := uuid.New()

	issued, err := svc.IssueVerificationCode(context.Background(), userID)
	require.NoError(t, err)

	found, err := svc.ResolveVerificationCode(context.Background(), issued.Code)
	require.NoError(t, err)
	require.Equal(t, issued.ID, found.ID)

	_, err = svc.ResolveVerificationCode(context.Background(), "no-such-code")
	require.ErrorIs(t, err, common.ErrCodeNotFound)
}

func TestSetAndCheckPassword(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())
	userID := uuid.New()

	require.NoError(t, svc.SetPassword(context.Background(), userID, "s3cret-password!"))

	ok, err := svc.CheckPassword(context.Background(), userID, "s3cret-password!")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.CheckPassword(context.Background(), userID, "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPurgeStaleTokens(t *testing.T) {
	store := newFakeStore()
	svc := secure.NewService(store, testConfig())

	stale, err := store.InsertToken(context.Background(), uuid.New(), secure.TokenUser)
	require.NoError(t, err)
	stale.LastUsed = time.Now().Add(-2 * time.Hour)

	fresh, err := store.InsertToken(context.Background(), uuid.New(), secure.TokenUser)
	require.NoError(t, err)

	n, err := svc.PurgeStaleTokens(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, ok := store.tokens[fresh.ID]
	require.True(t, ok)
	_, ok = store.tokens[stale.ID]
	require.False(t, ok)
}
