package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/pairdesk/qr-auth-server/internal/audit"
	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/repository"
	"github.com/pairdesk/qr-auth-server/internal/util"
)

const defaultListLimit = 100

type RegisterParams struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type AuthResult struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type UserService struct {
	userRepo   repository.UserRepository
	codec      TokenCodec
	bcryptCost int
	log        zerolog.Logger
}

func NewUserService(userRepo repository.UserRepository, codec TokenCodec, bcryptCost int, logger zerolog.Logger) *UserService {
	return &UserService{
		userRepo:   userRepo,
		codec:      codec,
		bcryptCost: bcryptCost,
		log:        logger,
	}
}

func (s *UserService) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	if params.FirstName == "" {
		return nil, apperrors.MissingRequired("first_name")
	}
	if params.LastName == "" {
		return nil, apperrors.MissingRequired("last_name")
	}
	if params.Password == "" {
		return nil, apperrors.MissingRequired("password")
	}

	email := util.NormalizeEmail(params.Email)
	if !util.IsValidEmail(email) {
		return nil, apperrors.InvalidInput("email", "must be a valid email address")
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, storeError(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("User")
	}

	hash, err := util.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.Internal("Could not hash password").WithCause(err)
	}

	user, err := s.userRepo.Create(ctx, model.CreateUserParams{
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		Email:        email,
		PasswordHash: hash,
	})
	if err != nil {
		// Concurrent registration of the same email loses to the unique
		// constraint, not to the read above.
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("User")
		}
		return nil, storeError(err)
	}

	token, err := s.codec.IssueSession(user.ID)
	if err != nil {
		return nil, apperrors.Internal("Could not issue session token").WithCause(err)
	}

	s.log.Info().Str("userId", user.ID).Msg("user registered")

	audit.Log(ctx, audit.Event{
		Type:   audit.EventRegister,
		UserID: user.ID,
	})

	return &AuthResult{Token: token, User: user}, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" {
		return nil, apperrors.MissingRequired("email")
	}
	if password == "" {
		return nil, apperrors.MissingRequired("password")
	}

	user, err := s.userRepo.FindByEmail(ctx, util.NormalizeEmail(email))
	if err != nil {
		return nil, storeError(err)
	}

	// Uniform failure for unknown email and wrong password.
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"email": util.NormalizeEmail(email)},
		})
		return nil, apperrors.InvalidCredentials()
	}

	token, err := s.codec.IssueSession(user.ID)
	if err != nil {
		return nil, apperrors.Internal("Could not issue session token").WithCause(err)
	}

	audit.Log(ctx, audit.Event{
		Type:   audit.EventLoginSuccess,
		UserID: user.ID,
	})

	return &AuthResult{Token: token, User: user}, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.userRepo.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, storeError(err)
	}
	return users, nil
}

func (s *UserService) Update(ctx context.Context, id string, params model.UpdateUserParams) (*model.User, error) {
	if params.Email != nil {
		email := util.NormalizeEmail(*params.Email)
		if !util.IsValidEmail(email) {
			return nil, apperrors.InvalidInput("email", "must be a valid email address")
		}
		params.Email = &email
	}

	user, err := s.userRepo.Update(ctx, id, params)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.AlreadyExists("User")
		}
		return nil, storeError(err)
	}
	if user == nil {
		return nil, apperrors.NotFound("User")
	}
	return user, nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if user == nil {
		return apperrors.NotFound("User")
	}

	if err := s.userRepo.Delete(ctx, id); err != nil {
		return storeError(err)
	}

	s.log.Info().Str("userId", id).Msg("user deleted")

	audit.Log(ctx, audit.Event{
		Type:   audit.EventUserDelete,
		UserID: id,
	})

	return nil
}
