package service

import (
	"context"
	"testing"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/pairdesk/qr-auth-server/internal/errors"
	"github.com/pairdesk/qr-auth-server/internal/model"
	"github.com/pairdesk/qr-auth-server/internal/util"
)

func newUserService(t *testing.T, repo *mockUserRepo) *UserService {
	t.Helper()
	return NewUserService(repo, newTestTokenCodec(t), bcrypt.MinCost, zerolog.Nop())
}

func validRegisterParams() RegisterParams {
	return RegisterParams{
		FirstName: "Abayomi",
		LastName:  "Lucky",
		Email:     "Yomi@Yopmail.com",
		Password:  "add1289fd",
	}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user with normalized email and returns session token", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByEmail", ctx, "yomi@yopmail.com").Return(nil, nil)
		repo.On("Create", ctx, mock.MatchedBy(func(p model.CreateUserParams) bool {
			return p.Email == "yomi@yopmail.com" &&
				p.FirstName == "Abayomi" &&
				util.CheckPasswordHash("add1289fd", p.PasswordHash)
		})).Return(&model.User{ID: "user-1", Email: "yomi@yopmail.com"}, nil)

		result, err := svc.Register(ctx, validRegisterParams())
		require.NoError(t, err)

		subject, err := newTestTokenCodec(t).VerifySession(result.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)

		repo.AssertExpectations(t)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		svc := newUserService(t, new(mockUserRepo))

		for _, mutate := range []func(*RegisterParams){
			func(p *RegisterParams) { p.FirstName = "" },
			func(p *RegisterParams) { p.LastName = "" },
			func(p *RegisterParams) { p.Password = "" },
		} {
			params := validRegisterParams()
			mutate(&params)
			_, err := svc.Register(ctx, params)
			assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
		}
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		svc := newUserService(t, new(mockUserRepo))

		params := validRegisterParams()
		params.Email = "not-an-email"
		_, err := svc.Register(ctx, params)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByEmail", ctx, "yomi@yopmail.com").Return(&model.User{ID: "user-1"}, nil)

		_, err := svc.Register(ctx, validRegisterParams())
		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
	})

	t.Run("maps unique violation race to already exists", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByEmail", ctx, "yomi@yopmail.com").Return(nil, nil)
		repo.On("Create", ctx, mock.Anything).Return(nil, &pq.Error{Code: "23505"})

		_, err := svc.Register(ctx, validRegisterParams())
		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	hash, err := util.HashPassword("correct-password", bcrypt.MinCost)
	require.NoError(t, err)
	user := &model.User{ID: "user-1", Email: "yomi@yopmail.com", PasswordHash: hash}

	t.Run("issues session token on valid credentials", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByEmail", ctx, "yomi@yopmail.com").Return(user, nil)

		result, err := svc.Login(ctx, "Yomi@Yopmail.com", "correct-password")
		require.NoError(t, err)

		subject, err := newTestTokenCodec(t).VerifySession(result.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", subject)
	})

	t.Run("unknown email and wrong password fail identically", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByEmail", ctx, "ghost@yopmail.com").Return(nil, nil)
		repo.On("FindByEmail", ctx, "yomi@yopmail.com").Return(user, nil)

		_, errUnknown := svc.Login(ctx, "ghost@yopmail.com", "whatever")
		_, errWrong := svc.Login(ctx, "yomi@yopmail.com", "wrong-password")

		assert.Equal(t, apperrors.ErrCodeInvalidCredentials, apperrors.GetCode(errUnknown))
		assert.Equal(t, apperrors.ErrCodeInvalidCredentials, apperrors.GetCode(errWrong))
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("rejects missing input", func(t *testing.T) {
		svc := newUserService(t, new(mockUserRepo))

		_, err := svc.Login(ctx, "", "password")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))

		_, err = svc.Login(ctx, "yomi@yopmail.com", "")
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})
}

func TestUserGet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns user", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByID", ctx, "user-1").Return(&model.User{ID: "user-1"}, nil)

		user, err := svc.Get(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByID", ctx, "ghost").Return(nil, nil)

		_, err := svc.Get(ctx, "ghost")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestUserUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes replacement email", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		email := "New@Example.COM"
		repo.On("Update", ctx, "user-1", mock.MatchedBy(func(p model.UpdateUserParams) bool {
			return p.Email != nil && *p.Email == "new@example.com"
		})).Return(&model.User{ID: "user-1", Email: "new@example.com"}, nil)

		user, err := svc.Update(ctx, "user-1", model.UpdateUserParams{Email: &email})
		require.NoError(t, err)
		assert.Equal(t, "new@example.com", user.Email)
	})

	t.Run("rejects invalid replacement email", func(t *testing.T) {
		svc := newUserService(t, new(mockUserRepo))

		email := "nope"
		_, err := svc.Update(ctx, "user-1", model.UpdateUserParams{Email: &email})
		assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		name := "New"
		repo.On("Update", ctx, "ghost", mock.Anything).Return(nil, nil)

		_, err := svc.Update(ctx, "ghost", model.UpdateUserParams{FirstName: &name})
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestUserDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes existing user", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByID", ctx, "user-1").Return(&model.User{ID: "user-1"}, nil)
		repo.On("Delete", ctx, "user-1").Return(nil)

		require.NoError(t, svc.Delete(ctx, "user-1"))
		repo.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		repo := new(mockUserRepo)
		svc := newUserService(t, repo)

		repo.On("FindByID", ctx, "ghost").Return(nil, nil)

		err := svc.Delete(ctx, "ghost")
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
		repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}
