package services

import (
	"errors"
	"time"

	"github.com/feedrelay/feedrelay/internal/models"
	"github.com/feedrelay/feedrelay/internal/utils"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"gorm.io/gorm"
)

// OperatorService handles operator account authentication.
type OperatorService struct {
	db          *gorm.DB
	expireHours int
}

func NewOperatorService(db *gorm.DB, expireHours int) *OperatorService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &OperatorService{db: db, expireHours: expireHours}
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse contains the issued token and user info.
type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

// Login verifies credentials and issues a JWT.
func (s *OperatorService) Login(req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, errors.New("account is disabled")
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, errors.New("invalid username or password")
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.expireHours)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.db.Model(&user).Update("last_login", now)
	user.LastLogin = &now

	return &LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: now.Add(time.Duration(s.expireHours) * time.Hour),
	}, nil
}

// GetByID loads an operator account.
func (s *OperatorService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePassword updates the caller's password after verifying the old one.
func (s *OperatorService) ChangePassword(userID uint, oldPassword, newPassword string) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return err
	}
	if !utils.CheckPassword(oldPassword, user.Password) {
		return errors.New("old password is incorrect")
	}
	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.Model(&user).Update("password", hashed).Error
}

// EnsureDefaultAdmin creates the default admin account when no user exists.
func (s *OperatorService) EnsureDefaultAdmin() error {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}
	admin := models.User{
		Username: "admin",
		Password: hashed,
		Role:     "admin",
		IsActive: true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warnf("created default admin account, change the password immediately")
	return nil
}
