package catalog

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/xerrors"
)

// User is an account. The password hash never leaves the package.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	// bcrypt hashes start with "$2a$", so the stored form is "bcrypt$2a$..."
	bcryptPrefix = "bcrypt"
	// sha256Prefix marks hashes written before bcrypt was used. They are
	// still accepted and replaced on the next successful login.
	sha256Prefix = "sha256$"
)

// bcryptCost is lowered by tests.
var bcryptCost = bcrypt.DefaultCost

// dummyHash is compared against when the user does not exist.
var dummyHash = sync.OnceValue(func() string {
	h, _ := hashPassword("mocaca")
	return h
})

// hashPassword returns the bcrypt hash of password behind bcryptPrefix.
func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", xerrors.Errorf("hash password: %w", err)
	}
	return bcryptPrefix + string(h), nil
}

// checkPassword compares password against an encoded hash.
func checkPassword(encoded, password string) bool {
	switch {
	case strings.HasPrefix(encoded, bcryptPrefix):
		return bcrypt.CompareHashAndPassword([]byte(encoded[len(bcryptPrefix):]), []byte(password)) == nil
	case strings.HasPrefix(encoded, sha256Prefix):
		return checkSHA256(encoded, password)
	}
	return false
}

// needsRehash reports whether encoded predates bcrypt or uses another cost.
func needsRehash(encoded string) bool {
	if !strings.HasPrefix(encoded, bcryptPrefix) {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encoded[len(bcryptPrefix):]))
	return err != nil || cost != bcryptCost
}

func checkSHA256(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 {
		return false
	}
	salt, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(legacyHash(salt, password)), []byte(encoded)) == 1
}

func legacyHash(salt []byte, password string) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return sha256Prefix + hex.EncodeToString(salt) + "$" + hex.EncodeToString(h.Sum(nil))
}

func scanUser(s rowScanner) (User, error) {
	var (
		u       User
		admin   int
		created int64
	)
	if err := s.Scan(&u.ID, &u.Username, &admin, &created); err != nil {
		return User{}, err
	}
	u.IsAdmin = admin != 0
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

// GetUser returns the user with id.
func (c *Catalog) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(c.db.QueryRowContext(ctx, userByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, xerrors.Errorf("query user %d: %w", id, err)
	}
	return u, nil
}

// CreateUser adds an account. A taken username yields ErrConflict.
func (c *Catalog) CreateUser(ctx context.Context, username, password string, admin bool) (User, error) {
	if username == "" || password == "" {
		return User{}, xerrors.Errorf("username and password are required: %w", ErrInvalidCredentials)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return User{}, err
	}

	var u User
	err = c.inTx(ctx, func(tx *sql.Tx) error {
		_, err := scanUser(tx.QueryRowContext(ctx, userByName, username))
		switch {
		case err == nil:
			return ErrConflict
		case !errors.Is(err, sql.ErrNoRows):
			return xerrors.Errorf("query user %q: %w", username, err)
		}

		now := c.now()
		res, err := tx.ExecContext(ctx, insertUser, username, hash, boolInt(admin), now.UnixNano())
		if err != nil {
			return xerrors.Errorf("insert user %q: %w", username, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return xerrors.Errorf("insert user %q: %w", username, err)
		}
		u = User{ID: id, Username: username, IsAdmin: admin, CreatedAt: time.Unix(0, now.UnixNano()).UTC()}
		return nil
	})
	return u, err
}

// EnsureAdmin creates the admin account if it does not exist yet. An
// existing account keeps its password and is granted admin rights.
func (c *Catalog) EnsureAdmin(ctx context.Context, username, password string) (User, error) {
	u, err := scanUser(c.db.QueryRowContext(ctx, userByName, username))
	if errors.Is(err, sql.ErrNoRows) {
		u, err = c.CreateUser(ctx, username, password, true)
		if errors.Is(err, ErrConflict) {
			// created concurrently
			return c.EnsureAdmin(ctx, username, password)
		}
		return u, err
	}
	if err != nil {
		return User{}, xerrors.Errorf("query user %q: %w", username, err)
	}
	if !u.IsAdmin {
		if _, err := c.db.ExecContext(ctx, promoteUser, u.ID); err != nil {
			return User{}, xerrors.Errorf("promote user %q: %w", username, err)
		}
		u.IsAdmin = true
	}
	return u, nil
}

// Authenticate returns the user when password matches. Unknown users and
// wrong passwords both yield ErrInvalidCredentials.
func (c *Catalog) Authenticate(ctx context.Context, username, password string) (User, error) {
	var (
		id   int64
		hash string
	)
	err := c.db.QueryRowContext(ctx, userHash, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		// spend the same work as a real comparison
		checkPassword(dummyHash(), password)
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, xerrors.Errorf("query user %q: %w", username, err)
	}
	if !checkPassword(hash, password) {
		return User{}, ErrInvalidCredentials
	}
	if needsRehash(hash) {
		next, err := hashPassword(password)
		if err != nil {
			return User{}, err
		}
		if _, err := c.db.ExecContext(ctx, updatePassword, next, id); err != nil {
			return User{}, xerrors.Errorf("upgrade password hash: %w", err)
		}
	}
	return c.GetUser(ctx, id)
}

// ChangePassword replaces the password of user id after checking the
// current one.
func (c *Catalog) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	if newPassword == "" {
		return xerrors.Errorf("new password is empty: %w", ErrInvalidCredentials)
	}
	return c.inTx(ctx, func(tx *sql.Tx) error {
		var hash string
		err := tx.QueryRowContext(ctx, userHashByID, id).Scan(&hash)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return xerrors.Errorf("query user %d: %w", id, err)
		}
		if !checkPassword(hash, oldPassword) {
			return ErrInvalidCredentials
		}

		next, err := hashPassword(newPassword)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updatePassword, next, id); err != nil {
			return xerrors.Errorf("update password: %w", err)
		}
		return nil
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
