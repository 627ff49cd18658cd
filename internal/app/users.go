package app

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
)

type CreateUserInput struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// CreateUser registers an account. Display names are unique ignoring case.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*model.User, error) {
	ctx, span := s.start(ctx, "CreateUser")
	defer span.End()

	u := s.users.CreateFirstRevision("", "create")
	u.RevisionUser = u.ID
	u.SetName(input.Name)
	u.Email = strings.TrimSpace(input.Email)
	u.RegistrationDate = u.RevisionDate
	if err := u.SetPassword(input.Password); err != nil {
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	taken, err := s.userByCanonicalName(ctx, u.CanonicalName)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, domain.Invalid("displayName", "%q is already taken", u.DisplayName)
	}

	if err := s.users.Save(ctx, u); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info().Str("user_id", u.ID).Str("name", u.DisplayName).Msg("user created")
	u.PopulateUserInfo(u.Viewer())
	return u, nil
}

// Authenticate checks a name and password and returns the account.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*model.User, error) {
	ctx, span := s.start(ctx, "Authenticate")
	defer span.End()

	u, err := s.userByCanonicalName(ctx, model.CanonicalUserName(name))
	if err != nil {
		return nil, err
	}
	if u == nil || !u.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}
	u.PopulateUserInfo(u.Viewer())
	return u, nil
}

// GetUser loads a profile as seen by viewer.
func (s *Service) GetUser(ctx context.Context, viewer *model.User, id string) (*model.User, error) {
	ctx, span := s.start(ctx, "GetUser", attribute.String("reviewcore.id", id))
	defer span.End()

	u, err := s.users.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	u.PopulateUserInfo(viewer.Viewer())
	return u, nil
}

func (s *Service) userByCanonicalName(ctx context.Context, canonical string) (*model.User, error) {
	found, err := s.users.FilterNotStaleOrDeleted().
		Where("canonicalName", "=", canonical).
		Limit(1).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// language picks the language new content is recorded in.
func (s *Service) language(requested string) string {
	if lang, ok := mlstring.Canonical(requested); ok {
		return lang
	}
	if requested != "" {
		return requested
	}
	if lang, ok := mlstring.Canonical(s.cfg.DefaultLanguage); ok {
		return lang
	}
	return mlstring.DefaultLanguage
}
