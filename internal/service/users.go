package service

import (
	"context"

	"posrider/backend/internal/domain"
)

// visibleRoles is the user-listing policy: admins manage riders, super
// admins see every account.
func visibleRoles(actor domain.Actor) []string {
	if actor.Role == domain.RoleSuperAdmin {
		return nil
	}
	return []string{domain.RoleRider}
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.repo.ListUsers(ctx, visibleRoles(actor))
	if err != nil {
		return nil, err
	}
	profiles := make([]domain.UserProfile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}
	return profiles, nil
}

func (s *Service) Me(ctx context.Context) (domain.UserProfile, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.UserProfile{}, err
	}
	user, err := s.repo.GetUserByID(ctx, actor.ID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	return user.Profile(), nil
}
