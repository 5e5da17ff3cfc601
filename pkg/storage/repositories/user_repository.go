package repositories

import (
	"errors"
	"fmt"

	"github.com/tphan267/meshtalk/pkg/models"
	"github.com/tphan267/meshtalk/pkg/utils"
	"gorm.io/gorm"
)

// ErrUserExists is returned when registering a username that is already taken.
var ErrUserExists = errors.New("username already exists")

// ErrUserNotFound is returned when a lookup matches no user row.
var ErrUserNotFound = errors.New("user not found")

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	db.AutoMigrate(&models.User{})
	return &UserRepository{db: db}
}

// CreateUser creates a new user account with a pre-hashed password
func (r *UserRepository) CreateUser(username, passwordHash string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if passwordHash == "" {
		return nil, fmt.Errorf("password hash cannot be empty")
	}

	var count int64
	if err := r.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	userID, _ := utils.GenerateID()
	user := &models.User{
		ID:           userID,
		Username:     username,
		PasswordHash: passwordHash,
	}

	if err := r.db.Create(user).Error; err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByUsername returns a single user by username
func (r *UserRepository) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUser returns a single user by ID
func (r *UserRepository) GetUser(id string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Count returns the number of registered users
func (r *UserRepository) Count() (int, error) {
	var count int64
	if err := r.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
