package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lernquiz/account-system/internal/core/domain"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

const (
	testDefaultPassword   = "4-26-2011"
	testBootstrapPassword = "24Lama6"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubUserRepo is an in-memory ports.UserRepository with the same
// load-mutate-save contract as the file store.
type stubUserRepo struct {
	users    map[string]*domain.User
	saves    int
	failSave error
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	clone := *u
	if u.LockedUntil != nil {
		t := *u.LockedUntil
		clone.LockedUntil = &t
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		clone.LastLogin = &t
	}
	return &clone
}

func cloneUsers(users map[string]*domain.User) map[string]*domain.User {
	out := make(map[string]*domain.User, len(users))
	for k, v := range users {
		out[k] = cloneUser(v)
	}
	return out
}

func (r *stubUserRepo) LoadAll(_ context.Context) (map[string]*domain.User, error) {
	return cloneUsers(r.users), nil
}

func (r *stubUserRepo) SaveAll(_ context.Context, users map[string]*domain.User) error {
	if r.failSave != nil {
		return r.failSave
	}
	r.users = cloneUsers(users)
	r.saves++
	return nil
}

func (r *stubUserRepo) Mutate(ctx context.Context, fn func(users map[string]*domain.User) error) error {
	users := cloneUsers(r.users)
	if err := fn(users); err != nil {
		return err
	}
	return r.SaveAll(ctx, users)
}

func newTestService(t *testing.T) (*AccountService, *stubUserRepo, *stubDenylist) {
	t.Helper()
	repo := newStubUserRepo()
	dl := &stubDenylist{}
	hasher := NewPasswordHasher(testIterations)
	svc := NewAccountService(repo, dl, hasher, NewUsernameValidator(dl), AccountOptions{
		DefaultPassword:   testDefaultPassword,
		BootstrapPassword: testBootstrapPassword,
	}, nil, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc, repo, dl
}

// seedUser registers a record with a known password directly in the repo.
func seedUser(t *testing.T, svc *AccountService, repo *stubUserRepo, username, password string, mutate func(*domain.User)) {
	t.Helper()
	digest, salt, err := svc.hasher.Hash(password, "")
	if err != nil {
		t.Fatalf("seed hash: %v", err)
	}
	u := &domain.User{
		Username:     username,
		PasswordHash: digest,
		Salt:         salt,
		Role:         domain.RoleUser,
		Active:       true,
		CreatedAt:    testNow.Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(u)
	}
	repo.users[username] = u
}

func TestAuthenticate_AutoRegisterWithDefaultPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)

	res, err := svc.Authenticate(context.Background(), "newbie1", testDefaultPassword)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomePasswordChangeRequired {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomePasswordChangeRequired)
	}
	if res.Role != domain.RoleUser {
		t.Errorf("role = %s, want %s", res.Role, domain.RoleUser)
	}

	u := repo.users["newbie1"]
	if u == nil {
		t.Fatal("record was not created")
	}
	if !u.UsingDefault {
		t.Error("new record is not flagged as using the default password")
	}
	if !u.Active {
		t.Error("new record is not active")
	}
	if u.Salt == "" {
		t.Error("new record has no salt")
	}
}

func TestAuthenticate_UnknownUserArbitraryPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)

	res, err := svc.Authenticate(context.Background(), "newbie1", "whatever123")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeInvalidCredentials {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomeInvalidCredentials)
	}
	if _, exists := repo.users["newbie1"]; exists {
		t.Error("record was created from an arbitrary password")
	}
}

func TestAuthenticate_InvalidUsername(t *testing.T) {
	svc, repo, dl := newTestService(t)
	dl.entries = []string{"dummy"}

	for _, username := range []string{"ab", "has space", "my_dummy_acct"} {
		res, err := svc.Authenticate(context.Background(), username, testDefaultPassword)
		if err != nil {
			t.Fatalf("Authenticate(%q) returned error: %v", username, err)
		}
		if res.Outcome != domain.OutcomeInvalidUsername {
			t.Errorf("Authenticate(%q) outcome = %s, want %s", username, res.Outcome, domain.OutcomeInvalidUsername)
		}
		if res.Message == "" {
			t.Errorf("Authenticate(%q) returned no message", username)
		}
	}
	if len(repo.users) != 0 {
		t.Error("invalid usernames created records")
	}
}

func TestAuthenticate_DisabledAccount(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "frank", "correcthorse", func(u *domain.User) {
		u.Active = false
	})

	// Even the correct password must not get through.
	res, err := svc.Authenticate(context.Background(), "frank", "correcthorse")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeAccountDisabled {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomeAccountDisabled)
	}
	if repo.users["frank"].FailedAttempts != 0 {
		t.Error("disabled account attempt changed the failure counter")
	}
}

func TestAuthenticate_LockoutAfterMaxFailures(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "gina", "rightpassword", nil)

	for i := 1; i <= 4; i++ {
		res, err := svc.Authenticate(context.Background(), "gina", "wrongpassword")
		if err != nil {
			t.Fatalf("attempt %d returned error: %v", i, err)
		}
		if res.Outcome != domain.OutcomeInvalidCredentials {
			t.Fatalf("attempt %d outcome = %s, want %s", i, res.Outcome, domain.OutcomeInvalidCredentials)
		}
		if got := repo.users["gina"].FailedAttempts; got != i {
			t.Fatalf("attempt %d: failedAttempts = %d, want %d", i, got, i)
		}
	}

	// The 5th failure locks and reports the lock, not invalid credentials.
	res, err := svc.Authenticate(context.Background(), "gina", "wrongpassword")
	if err != nil {
		t.Fatalf("locking attempt returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeAccountLocked {
		t.Fatalf("5th failure outcome = %s, want %s", res.Outcome, domain.OutcomeAccountLocked)
	}
	u := repo.users["gina"]
	if u.LockedUntil == nil {
		t.Fatal("account was not locked")
	}
	if want := testNow.Add(30 * time.Minute); !u.LockedUntil.Equal(want) {
		t.Errorf("lockedUntil = %v, want %v", u.LockedUntil, want)
	}

	// A 6th attempt stays locked and does not count further.
	res, err = svc.Authenticate(context.Background(), "gina", "wrongpassword")
	if err != nil {
		t.Fatalf("6th attempt returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeAccountLocked {
		t.Fatalf("6th attempt outcome = %s, want %s", res.Outcome, domain.OutcomeAccountLocked)
	}
	if got := repo.users["gina"].FailedAttempts; got != 5 {
		t.Errorf("failedAttempts after locked attempt = %d, want 5", got)
	}
}

func TestAuthenticate_LockoutExpiryHealsLazily(t *testing.T) {
	svc, repo, _ := newTestService(t)
	expired := testNow.Add(-time.Minute)
	seedUser(t, svc, repo, "henry", "rightpassword", func(u *domain.User) {
		u.FailedAttempts = 5
		u.LockedUntil = &expired
	})

	res, err := svc.Authenticate(context.Background(), "henry", "rightpassword")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomeSuccess)
	}

	u := repo.users["henry"]
	if u.FailedAttempts != 0 {
		t.Errorf("failedAttempts = %d, want 0", u.FailedAttempts)
	}
	if u.LockedUntil != nil {
		t.Error("expired lock was not cleared")
	}
	if u.LastLogin == nil || !u.LastLogin.Equal(testNow) {
		t.Errorf("lastLogin = %v, want %v", u.LastLogin, testNow)
	}
}

func TestAuthenticate_ExpiredLockResetsBeforeEvaluating(t *testing.T) {
	svc, repo, _ := newTestService(t)
	expired := testNow.Add(-time.Second)
	seedUser(t, svc, repo, "irene", "rightpassword", func(u *domain.User) {
		u.FailedAttempts = 5
		u.LockedUntil = &expired
	})

	// A wrong password after expiry counts as the first failure of a new
	// window, not the sixth of the old one.
	res, err := svc.Authenticate(context.Background(), "irene", "wrongpassword")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeInvalidCredentials {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomeInvalidCredentials)
	}
	if got := repo.users["irene"].FailedAttempts; got != 1 {
		t.Errorf("failedAttempts = %d, want 1", got)
	}
}

func TestAuthenticate_LegacyDigestUpgrade(t *testing.T) {
	svc, repo, _ := newTestService(t)
	legacy := NewPasswordHasher(testIterations)
	// A record captured before salting: single-round sha256, empty salt.
	seedUser(t, svc, repo, "karla", "placeholder", func(u *domain.User) {
		sum := sha256Hex("oldschool99")
		u.PasswordHash = sum
		u.Salt = ""
	})

	res, err := svc.Authenticate(context.Background(), "karla", "oldschool99")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeSuccess {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomeSuccess)
	}

	u := repo.users["karla"]
	if u.Salt == "" {
		t.Fatal("legacy record was not upgraded to the salted scheme")
	}
	if !legacy.Verify("oldschool99", u.PasswordHash, u.Salt) {
		t.Error("upgraded digest does not verify")
	}
}

func TestAuthenticate_ResetToDefaultPath(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "lukas", "myownpassword", nil)

	res, err := svc.Authenticate(context.Background(), "lukas", testDefaultPassword)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomePasswordChangeRequired {
		t.Fatalf("outcome = %s, want %s", res.Outcome, domain.OutcomePasswordChangeRequired)
	}
	if !repo.users["lukas"].UsingDefault {
		t.Error("reset-to-default did not flag the record")
	}
}

func TestAuthenticate_SaveFailureIsReported(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.failSave = errors.New("disk full")

	if _, err := svc.Authenticate(context.Background(), "newbie1", testDefaultPassword); err == nil {
		t.Fatal("expected error when the snapshot cannot be persisted")
	}
	if _, exists := repo.users["newbie1"]; exists {
		t.Error("record exists although the save failed")
	}
}

func TestChangePassword_DefaultBypass(t *testing.T) {
	svc, repo, _ := newTestService(t)
	// bob rotated away from the default once already, then was reset; the
	// stored digest no longer matches the default password he supplies as
	// "old", but the bypass applies while the flag is set.
	seedUser(t, svc, repo, "bobby", "somethingelse", func(u *domain.User) {
		u.UsingDefault = true
	})

	if err := svc.ChangePassword(context.Background(), "bobby", testDefaultPassword, "s3cret"); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}

	u := repo.users["bobby"]
	if u.UsingDefault {
		t.Error("rotation did not clear the default-password flag")
	}
	if !svc.hasher.Verify("s3cret", u.PasswordHash, u.Salt) {
		t.Error("new password does not verify")
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "maria", "currentpw", nil)

	err := svc.ChangePassword(context.Background(), "maria", "notcurrent", "newpassword")
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if !svc.hasher.Verify("currentpw", repo.users["maria"].PasswordHash, repo.users["maria"].Salt) {
		t.Error("stored digest changed despite the failed check")
	}
}

func TestChangePassword_Policy(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "nadia", "currentpw", nil)

	if err := svc.ChangePassword(context.Background(), "nadia", "currentpw", "tiny"); !errors.Is(err, domain.ErrPasswordPolicy) {
		t.Fatalf("short password: err = %v, want ErrPasswordPolicy", err)
	}
	// The default password is always accepted as an intermediate state.
	if err := svc.ChangePassword(context.Background(), "nadia", "currentpw", testDefaultPassword); err != nil {
		t.Fatalf("default password rejected: %v", err)
	}
}

func TestChangePassword_SaltRotates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "oskar", "currentpw", nil)
	before := repo.users["oskar"].Salt

	if err := svc.ChangePassword(context.Background(), "oskar", "currentpw", "nextpassword"); err != nil {
		t.Fatalf("ChangePassword returned error: %v", err)
	}
	if repo.users["oskar"].Salt == before {
		t.Error("salt was reused across a rotation")
	}
}

func TestBootstrap_SynthesizesAdminOnce(t *testing.T) {
	svc, repo, _ := newTestService(t)

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap returned error: %v", err)
	}
	admin := repo.users["admin"]
	if admin == nil {
		t.Fatal("no admin was synthesized")
	}
	if admin.Role != domain.RoleAdmin || !admin.Active {
		t.Errorf("synthesized admin is %s/active=%t", admin.Role, admin.Active)
	}
	if !svc.hasher.Verify(testBootstrapPassword, admin.PasswordHash, admin.Salt) {
		t.Error("bootstrap password does not verify")
	}

	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("second Bootstrap returned error: %v", err)
	}
	if len(repo.users) != 1 {
		t.Error("second bootstrap created another record")
	}
}

func TestDelete_RetiresIdentity(t *testing.T) {
	svc, repo, dl := newTestService(t)
	seedUser(t, svc, repo, "quinn", "somepassword", nil)
	seedUser(t, svc, repo, "admin", testBootstrapPassword, func(u *domain.User) {
		u.Role = domain.RoleAdmin
		u.UsingDefault = false
	})

	if err := svc.Delete(context.Background(), "quinn"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, exists := repo.users["quinn"]; exists {
		t.Fatal("record still present after delete")
	}
	if banned, _ := dl.Contains("quinn"); !banned {
		t.Fatal("username was not appended to the denylist")
	}

	// The identity can never be re-registered, even with the default
	// password.
	res, err := svc.Authenticate(context.Background(), "quinn", testDefaultPassword)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if res.Outcome != domain.OutcomeInvalidUsername {
		t.Errorf("outcome = %s, want %s", res.Outcome, domain.OutcomeInvalidUsername)
	}
}

func TestAdminMutators_LastAdminGuard(t *testing.T) {
	svc, repo, _ := newTestService(t)
	seedUser(t, svc, repo, "admin", testBootstrapPassword, func(u *domain.User) {
		u.Role = domain.RoleAdmin
	})

	if err := svc.SetActive(context.Background(), "admin", false); !errors.Is(err, domain.ErrLastAdmin) {
		t.Errorf("SetActive err = %v, want ErrLastAdmin", err)
	}
	if err := svc.SetRole(context.Background(), "admin", domain.RoleUser); !errors.Is(err, domain.ErrLastAdmin) {
		t.Errorf("SetRole err = %v, want ErrLastAdmin", err)
	}
	if err := svc.Delete(context.Background(), "admin"); !errors.Is(err, domain.ErrLastAdmin) {
		t.Errorf("Delete err = %v, want ErrLastAdmin", err)
	}

	// With a second active admin the same mutations are allowed.
	seedUser(t, svc, repo, "root_2", "adminpass2", func(u *domain.User) {
		u.Role = domain.RoleAdmin
	})
	if err := svc.SetRole(context.Background(), "admin", domain.RoleUser); err != nil {
		t.Fatalf("SetRole with second admin returned error: %v", err)
	}
	if repo.users["admin"].Role != domain.RoleUser {
		t.Error("demotion was not persisted")
	}
}

func TestUnlock_ClearsLockAndCounter(t *testing.T) {
	svc, repo, _ := newTestService(t)
	locked := testNow.Add(20 * time.Minute)
	seedUser(t, svc, repo, "paula", "somepassword", func(u *domain.User) {
		u.FailedAttempts = 5
		u.LockedUntil = &locked
	})

	if err := svc.Unlock(context.Background(), "paula"); err != nil {
		t.Fatalf("Unlock returned error: %v", err)
	}
	u := repo.users["paula"]
	if u.LockedUntil != nil || u.FailedAttempts != 0 {
		t.Errorf("lock state after unlock: until=%v attempts=%d", u.LockedUntil, u.FailedAttempts)
	}

	if err := svc.Unlock(context.Background(), "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Unlock unknown user err = %v, want ErrUserNotFound", err)
	}
}

func TestCreateUser(t *testing.T) {
	svc, repo, _ := newTestService(t)

	if err := svc.CreateUser(context.Background(), "teacher1", domain.RoleAdmin); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	u := repo.users["teacher1"]
	if u == nil {
		t.Fatal("record was not created")
	}
	if u.Role != domain.RoleAdmin || !u.UsingDefault || !u.Active {
		t.Errorf("created record: role=%s usingDefault=%t active=%t", u.Role, u.UsingDefault, u.Active)
	}
	if !svc.hasher.Verify(testDefaultPassword, u.PasswordHash, u.Salt) {
		t.Error("created record does not verify against the default password")
	}

	if err := svc.CreateUser(context.Background(), "teacher1", domain.RoleUser); !errors.Is(err, domain.ErrUserExists) {
		t.Errorf("duplicate create err = %v, want ErrUserExists", err)
	}
	if err := svc.CreateUser(context.Background(), "x", domain.RoleUser); !errors.Is(err, domain.ErrInvalidUsername) {
		t.Errorf("invalid username err = %v, want ErrInvalidUsername", err)
	}
}
