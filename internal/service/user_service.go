package service

import (
	"errors"
	"fmt"

	"multi-rag-go/internal/model"
	"multi-rag-go/internal/repository"
	"multi-rag-go/pkg/hash"
	"multi-rag-go/pkg/log"
	"multi-rag-go/pkg/token"

	"gorm.io/gorm"
)

var (
	// ErrUserExists 表示注册时用户名已被占用。
	ErrUserExists = errors.New("username already exists")
	// ErrInvalidCredentials 表示登录凭证错误或账户被禁用。
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenPair 是一次认证成功后返回的令牌对。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserService 定义了用户相关的业务逻辑接口。
type UserService interface {
	Register(username, password string) (*model.User, error)
	Login(username, password string) (*TokenPair, error)
	RefreshToken(refreshToken string) (*TokenPair, error)
	GetProfile(userID uint) (*model.User, error)
}

type userService struct {
	userRepo   repository.UserRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, jwtManager *token.JWTManager) UserService {
	return &userService{userRepo: userRepo, jwtManager: jwtManager}
}

// Register 注册一个新用户，密码以 bcrypt 哈希存储。
func (s *userService) Register(username, password string) (*model.User, error) {
	if _, err := s.userRepo.FindByUsername(username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &model.User{
		Username: username,
		Password: hashedPassword,
	}
	if err := s.userRepo.Create(user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	log.Infof("[UserService] 新用户注册成功: %s", username)
	return user, nil
}

// Login 验证凭证并签发令牌对。
func (s *userService) Login(username, password string) (*TokenPair, error) {
	user, err := s.userRepo.FindByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrInvalidCredentials
	}
	if !hash.CheckPasswordHash(password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(user.ID, user.Username)
}

// RefreshToken 用 refresh token 换取一对新令牌。
func (s *userService) RefreshToken(refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.VerifyToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	// 换发前确认用户仍然有效
	user, err := s.userRepo.FindByID(claims.UserID)
	if err != nil || user.Disabled {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(user.ID, user.Username)
}

// GetProfile 返回用户的基本信息。
func (s *userService) GetProfile(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

func (s *userService) issueTokens(userID uint, username string) (*TokenPair, error) {
	accessToken, err := s.jwtManager.GenerateToken(userID, username)
	if err != nil {
		return nil, fmt.Errorf("生成 access token 失败: %w", err)
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(userID, username)
	if err != nil {
		return nil, fmt.Errorf("生成 refresh token 失败: %w", err)
	}
	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}
