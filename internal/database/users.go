package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Authentication failures returned by AuthenticateUser.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserInactive       = errors.New("user account is deactivated")
)

// CreateUser inserts a new portal user record into the database.
// The user parameter must have all required fields populated including hashed password.
// Returns an error if the creation fails due to validation or database constraints.
func (db *Database) CreateUser(ctx context.Context, user *User) error {
	return db.WithContext(ctx).Create(user).Error
}

// GetUser retrieves a portal user by their unique ID.
// Returns the user record and an error if the user is not found or query fails.
func (db *Database) GetUser(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername retrieves a portal user by their username.
// This is used for authentication during login.
func (db *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers retrieves all portal users ordered by username.
func (db *Database) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := db.WithContext(ctx).Order("username asc").Find(&users).Error
	return users, err
}

// CountUsers returns the number of portal users.
func (db *Database) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&User{}).Count(&count).Error
	return count, err
}

// UpdateUser updates an existing portal user record in the database.
// The user parameter must have the ID field set to identify the record to update.
func (db *Database) UpdateUser(ctx context.Context, user *User) error {
	return db.WithContext(ctx).Save(user).Error
}

// UpdateUserLastLogin updates the last login timestamp for a user.
// This is called after successful authentication.
func (db *Database) UpdateUserLastLogin(ctx context.Context, userID uint) error {
	now := time.Now()
	return db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("last_login", &now).Error
}

// SetUserPassword stores a new bcrypt hash for the user and clears the
// must-change-password flag.
func (db *Database) SetUserPassword(ctx context.Context, userID uint, password string, cost int) error {
	hash, err := HashPassword(password, cost)
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"password":             hash,
		"must_change_password": false,
	}).Error
}

// AuthenticateUser validates user credentials and returns the user if successful.
// Unknown usernames and wrong passwords both yield ErrInvalidCredentials.
// Returns ErrUserInactive for deactivated accounts.
func (db *Database) AuthenticateUser(ctx context.Context, username, password string) (*User, error) {
	user, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	now := time.Now()
	user.LastLogin = &now
	if err := db.UpdateUserLastLogin(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	return user, nil
}

// CreateUserWithCredentials hashes password with the given bcrypt cost into
// user.Password and inserts user.
// Returns ErrDuplicate if the username is taken.
func (db *Database) CreateUserWithCredentials(ctx context.Context, user *User, password string, cost int) error {
	hash, err := HashPassword(password, cost)
	if err != nil {
		return err
	}
	user.Password = hash
	return db.CreateUser(ctx, user)
}

// HashPassword hashes a plaintext password with bcrypt.
// A cost outside bcrypt's accepted range falls back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
