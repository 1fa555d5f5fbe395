package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"coursestream-backend/internal/models"
	"coursestream-backend/internal/repository"
)

// ─── Fakes ───

type fakeTokenStore struct {
	rows    map[uuid.UUID]*models.AccessToken
	lookups int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{rows: make(map[uuid.UUID]*models.AccessToken)}
}

func (f *fakeTokenStore) Create(_ context.Context, t *models.AccessToken) error {
	copied := *t
	f.rows[t.ID] = &copied
	return nil
}

func (f *fakeTokenStore) GetByID(_ context.Context, id uuid.UUID) (*models.AccessToken, error) {
	f.lookups++
	row, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeTokenStore) RecordAccess(_ context.Context, id uuid.UUID) error {
	if row, ok := f.rows[id]; ok {
		row.AccessCount++
		now := time.Now()
		row.LastAccessedAt = &now
	}
	return nil
}

func (f *fakeTokenStore) Revoke(_ context.Context, id uuid.UUID) error {
	if row, ok := f.rows[id]; ok {
		row.IsRevoked = true
	}
	return nil
}

func (f *fakeTokenStore) RevokeAllForVideo(_ context.Context, videoID uuid.UUID) (int64, error) {
	var n int64
	for _, row := range f.rows {
		if row.VideoID == videoID && !row.IsRevoked {
			row.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore) RevokeAllForUser(_ context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	for _, row := range f.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for id, row := range f.rows {
		if row.ExpiresAt.Before(now) {
			delete(f.rows, id)
			n++
		}
	}
	return n, nil
}

type keyPair struct {
	key, iv    []byte
	rotationAt time.Time
}

type fakeVideoKeys struct {
	keys map[uuid.UUID]keyPair
	due  []uuid.UUID
}

func newFakeVideoKeys() *fakeVideoKeys {
	return &fakeVideoKeys{keys: make(map[uuid.UUID]keyPair)}
}

func (f *fakeVideoKeys) UpdateEncryptionKey(_ context.Context, id uuid.UUID, key, iv []byte, rotationAt time.Time) error {
	f.keys[id] = keyPair{key: key, iv: iv, rotationAt: rotationAt}
	return nil
}

func (f *fakeVideoKeys) ListDueForKeyRotation(_ context.Context, _ time.Time) ([]uuid.UUID, error) {
	return f.due, nil
}

type fakeEntitlements struct {
	freeChapters map[uuid.UUID]bool
	granted      map[uuid.UUID]bool // keyed by userID
	accessChecks int
}

func newFakeEntitlements() *fakeEntitlements {
	return &fakeEntitlements{
		freeChapters: make(map[uuid.UUID]bool),
		granted:      make(map[uuid.UUID]bool),
	}
}

func (f *fakeEntitlements) HasAccess(_ context.Context, userID, _ uuid.UUID) (bool, error) {
	f.accessChecks++
	return f.granted[userID], nil
}

func (f *fakeEntitlements) IsChapterFree(_ context.Context, chapterID uuid.UUID) (bool, error) {
	return f.freeChapters[chapterID], nil
}

type tokenFixture struct {
	svc          *TokenService
	tokens       *fakeTokenStore
	videos       *fakeVideoKeys
	entitlements *fakeEntitlements
	now          time.Time
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()
	f := &tokenFixture{
		tokens:       newFakeTokenStore(),
		videos:       newFakeVideoKeys(),
		entitlements: newFakeEntitlements(),
		now:          time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewTokenService(f.tokens, f.videos, f.entitlements, "test-secret", 7200*time.Second)
	f.svc.clock = func() time.Time { return f.now }
	return f
}

func (f *tokenFixture) issue(t *testing.T, videoID, userID uuid.UUID, ip string) *IssuedToken {
	t.Helper()
	chapterID := uuid.New()
	f.entitlements.freeChapters[chapterID] = true
	issued, err := f.svc.Issue(context.Background(), videoID, userID, chapterID, uuid.New(), ip)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return issued
}

// ─── Issuance ───

func TestIssue_FreeChapterSkipsEntitlementCheck(t *testing.T) {
	f := newTokenFixture(t)
	chapterID := uuid.New()
	f.entitlements.freeChapters[chapterID] = true

	issued, err := f.svc.Issue(context.Background(), uuid.New(), uuid.New(), chapterID, uuid.New(), "10.0.0.1")
	if err != nil {
		t.Fatalf("Expected issuance to succeed for free chapter, got %v", err)
	}
	if f.entitlements.accessChecks != 0 {
		t.Errorf("Free chapter must not trigger an entitlement check, got %d", f.entitlements.accessChecks)
	}
	if issued.SignedToken == "" {
		t.Error("Expected a signed credential")
	}
	if want := f.now.Add(7200 * time.Second); !issued.ExpiresAt.Equal(want) {
		t.Errorf("Expected expiry %v, got %v", want, issued.ExpiresAt)
	}
}

func TestIssue_DeniedWithoutEntitlement(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Issue(context.Background(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), "10.0.0.1")
	if err != ErrEntitlementDenied {
		t.Fatalf("Expected ErrEntitlementDenied, got %v", err)
	}
	if len(f.tokens.rows) != 0 {
		t.Error("Denied issuance must not persist a token row")
	}
}

func TestIssue_GrantedEntitlement(t *testing.T) {
	f := newTokenFixture(t)
	userID := uuid.New()
	f.entitlements.granted[userID] = true

	if _, err := f.svc.Issue(context.Background(), uuid.New(), userID, uuid.New(), uuid.New(), "10.0.0.1"); err != nil {
		t.Fatalf("Expected issuance to succeed with entitlement, got %v", err)
	}
	if f.entitlements.accessChecks != 1 {
		t.Errorf("Expected exactly one entitlement check at issuance, got %d", f.entitlements.accessChecks)
	}
}

// ─── Validation ───

func TestValidate_HappyPath(t *testing.T) {
	f := newTokenFixture(t)
	videoID := uuid.New()
	userID := uuid.New()
	issued := f.issue(t, videoID, userID, "10.0.0.1")

	verdict := f.svc.Validate(context.Background(), issued.SignedToken, "10.0.0.1")
	if !verdict.OK {
		t.Fatalf("Expected valid verdict, got reason %q", verdict.Reason)
	}
	if verdict.VideoID != videoID || verdict.UserID != userID {
		t.Error("Verdict must carry the video and user ids from the stored row")
	}

	row := f.tokens.rows[issued.TokenID]
	if row.AccessCount != 1 {
		t.Errorf("Expected access count 1, got %d", row.AccessCount)
	}
	if row.LastAccessedAt == nil {
		t.Error("Expected last_accessed_at to be set")
	}
}

func TestValidate_TTLBoundary(t *testing.T) {
	f := newTokenFixture(t)
	issued := f.issue(t, uuid.New(), uuid.New(), "10.0.0.1")

	// One second before expiry: still valid.
	f.now = f.now.Add(7199 * time.Second)
	if verdict := f.svc.Validate(context.Background(), issued.SignedToken, "10.0.0.1"); !verdict.OK {
		t.Errorf("Token should still be valid before TTL, got reason %q", verdict.Reason)
	}

	// 7201 seconds after issuance: expired.
	f.now = f.now.Add(2 * time.Second)
	verdict := f.svc.Validate(context.Background(), issued.SignedToken, "10.0.0.1")
	if verdict.OK {
		t.Fatal("Token must be invalid past its TTL")
	}
	if verdict.Reason != models.TokenExpired {
		t.Errorf("Expected reason %q, got %q", models.TokenExpired, verdict.Reason)
	}
}

func TestValidate_IPBinding(t *testing.T) {
	f := newTokenFixture(t)
	issued := f.issue(t, uuid.New(), uuid.New(), "10.0.0.1")

	verdict := f.svc.Validate(context.Background(), issued.SignedToken, "192.168.0.9")
	if verdict.OK {
		t.Fatal("Token from another IP must be rejected even before expiry")
	}
	if verdict.Reason != models.TokenIPMismatch {
		t.Errorf("Expected reason %q, got %q", models.TokenIPMismatch, verdict.Reason)
	}
}

func TestValidate_MalformedTokenSkipsStore(t *testing.T) {
	f := newTokenFixture(t)

	verdict := f.svc.Validate(context.Background(), "not-a-jwt", "10.0.0.1")
	if verdict.OK || verdict.Reason != models.TokenInvalid {
		t.Errorf("Expected invalid verdict, got %+v", verdict)
	}
	if f.tokens.lookups != 0 {
		t.Error("Malformed input must be rejected before any store lookup")
	}
}

func TestValidate_TamperedSignature(t *testing.T) {
	f := newTokenFixture(t)
	issued := f.issue(t, uuid.New(), uuid.New(), "10.0.0.1")

	tampered := issued.SignedToken[:len(issued.SignedToken)-2] + "xx"
	verdict := f.svc.Validate(context.Background(), tampered, "10.0.0.1")
	if verdict.OK || verdict.Reason != models.TokenInvalid {
		t.Errorf("Expected invalid verdict for tampered signature, got %+v", verdict)
	}
	if f.tokens.lookups != 0 {
		t.Error("Tampered credential must be rejected before any store lookup")
	}
}

// ─── Revocation ───

func TestRevoke_SingleToken(t *testing.T) {
	f := newTokenFixture(t)
	issued := f.issue(t, uuid.New(), uuid.New(), "10.0.0.1")

	if err := f.svc.Revoke(context.Background(), issued.SignedToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	verdict := f.svc.Validate(context.Background(), issued.SignedToken, "10.0.0.1")
	if verdict.OK || verdict.Reason != models.TokenRevoked {
		t.Errorf("Expected revoked verdict, got %+v", verdict)
	}
}

func TestRevokeAllForVideo_FanOut(t *testing.T) {
	f := newTokenFixture(t)
	videoA := uuid.New()
	videoB := uuid.New()

	a1 := f.issue(t, videoA, uuid.New(), "10.0.0.1")
	a2 := f.issue(t, videoA, uuid.New(), "10.0.0.2")
	b1 := f.issue(t, videoB, uuid.New(), "10.0.0.3")

	revoked, err := f.svc.RevokeAllForVideo(context.Background(), videoA)
	if err != nil {
		t.Fatalf("RevokeAllForVideo failed: %v", err)
	}
	if revoked != 2 {
		t.Errorf("Expected 2 revocations, got %d", revoked)
	}

	if v := f.svc.Validate(context.Background(), a1.SignedToken, "10.0.0.1"); v.OK {
		t.Error("First token for revoked video must fail validation")
	}
	if v := f.svc.Validate(context.Background(), a2.SignedToken, "10.0.0.2"); v.OK {
		t.Error("Second token for revoked video must fail validation")
	}
	if v := f.svc.Validate(context.Background(), b1.SignedToken, "10.0.0.3"); !v.OK {
		t.Errorf("Token for unrelated video must stay valid, got reason %q", v.Reason)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	f := newTokenFixture(t)
	userID := uuid.New()

	t1 := f.issue(t, uuid.New(), userID, "10.0.0.1")
	t2 := f.issue(t, uuid.New(), uuid.New(), "10.0.0.2")

	if _, err := f.svc.RevokeAllForUser(context.Background(), userID); err != nil {
		t.Fatalf("RevokeAllForUser failed: %v", err)
	}
	if v := f.svc.Validate(context.Background(), t1.SignedToken, "10.0.0.1"); v.OK {
		t.Error("User's token must fail after user-level revocation")
	}
	if v := f.svc.Validate(context.Background(), t2.SignedToken, "10.0.0.2"); !v.OK {
		t.Error("Other users' tokens must stay valid")
	}
}

// ─── Key rotation ───

func TestRotateEncryptionKey(t *testing.T) {
	f := newTokenFixture(t)
	videoID := uuid.New()
	issued := f.issue(t, videoID, uuid.New(), "10.0.0.1")

	if err := f.svc.RotateEncryptionKey(context.Background(), videoID); err != nil {
		t.Fatalf("RotateEncryptionKey failed: %v", err)
	}

	first, ok := f.videos.keys[videoID]
	if !ok {
		t.Fatal("Expected a key/IV pair to be persisted")
	}
	if len(first.key) != 16 || len(first.iv) != 16 {
		t.Errorf("Expected 16-byte key and IV, got %d/%d", len(first.key), len(first.iv))
	}
	if want := f.now.Add(7 * 24 * time.Hour); !first.rotationAt.Equal(want) {
		t.Errorf("Expected next rotation at %v, got %v", want, first.rotationAt)
	}

	if v := f.svc.Validate(context.Background(), issued.SignedToken, "10.0.0.1"); v.OK {
		t.Error("Pre-rotation token must fail validation after rotation")
	}

	// Rotating again must produce different material.
	if err := f.svc.RotateEncryptionKey(context.Background(), videoID); err != nil {
		t.Fatalf("Second rotation failed: %v", err)
	}
	second := f.videos.keys[videoID]
	if bytes.Equal(first.key, second.key) && bytes.Equal(first.iv, second.iv) {
		t.Error("Rotation must replace the key material")
	}
}

// ─── Sweep ───

func TestSweepExpired(t *testing.T) {
	f := newTokenFixture(t)
	live := f.issue(t, uuid.New(), uuid.New(), "10.0.0.1")

	stale := &models.AccessToken{
		ID:        uuid.New(),
		VideoID:   uuid.New(),
		UserID:    uuid.New(),
		IPAddress: "10.0.0.2",
		ExpiresAt: f.now.Add(-time.Hour),
	}
	f.tokens.Create(context.Background(), stale)

	deleted, err := f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted row, got %d", deleted)
	}
	if _, ok := f.tokens.rows[live.TokenID]; !ok {
		t.Error("Live token must survive the sweep")
	}
}
