package storage

import (
	"github.com/tphan267/meshtalk/pkg/storage/repositories"
	"gorm.io/gorm"
)

// Storage is the database storage interface
type Storage interface {
	// DB returns the underlying GORM database instance
	DB() *gorm.DB

	// UserRepo returns the user account repository
	UserRepo() *repositories.UserRepository

	Close() error
}
