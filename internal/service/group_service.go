package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"groupdrive/internal/domain"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
)

// GroupService группы пользователей и их папки groups/<name>
type GroupService struct {
	groupRepo *repository.GroupRepository
	userRepo  *repository.UserRepository
	live      *sandbox.Sandbox
	clock     Clock
	logger    *slog.Logger
}

func NewGroupService(
	groupRepo *repository.GroupRepository,
	userRepo *repository.UserRepository,
	live *sandbox.Sandbox,
	clock Clock,
	logger *slog.Logger,
) *GroupService {
	return &GroupService{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		live:      live,
		clock:     clock,
		logger:    logger.With("component", "GroupService"),
	}
}

// CreateGroup создаёт группу, добавляет создателя в участники и создаёт папку группы
func (s *GroupService) CreateGroup(ctx context.Context, creator domain.CurrentUser, name string) (*domain.Group, error) {
	name = sandbox.SanitizeName(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", domain.ErrInvalidArgument)
	}
	if _, err := s.userRepo.GetByID(ctx, creator.ID); err != nil {
		return nil, err
	}

	group := &domain.Group{Name: name, CreatorID: creator.ID, CreatedAt: s.clock.Now()}
	existed, err := s.live.Exists(group.Path())
	if err != nil {
		return nil, domain.Internal("stat group folder", err)
	}
	if err := s.live.MkdirAll(group.Path()); err != nil {
		return nil, domain.Internal("create group folder", err)
	}
	if err := s.groupRepo.Create(ctx, group); err != nil {
		if !existed {
			if rerr := s.live.Remove(group.Path()); rerr != nil {
				s.logger.Warn("failed to remove group folder after error", "group", name, "error", rerr)
			}
		}
		return nil, err
	}

	s.logger.Info("group created", "group", name, "creator", creator.ID)
	return group, nil
}

// AddMember добавляет пользователя в группу. Доступно администратору и создателю группы.
func (s *GroupService) AddMember(ctx context.Context, actor domain.CurrentUser, groupName, userID string) error {
	group, err := s.manageableGroup(ctx, actor, groupName)
	if err != nil {
		return err
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.groupRepo.AddMember(ctx, group.ID, userID, s.clock.Now())
}

// RemoveMember исключает пользователя из группы. Создателя исключить нельзя.
func (s *GroupService) RemoveMember(ctx context.Context, actor domain.CurrentUser, groupName, userID string) error {
	group, err := s.manageableGroup(ctx, actor, groupName)
	if err != nil {
		return err
	}
	if userID == group.CreatorID {
		return fmt.Errorf("%w: the creator of group %s cannot be removed", domain.ErrInvalidArgument, group.Name)
	}
	return s.groupRepo.RemoveMember(ctx, group.ID, userID)
}

// HasUserAccessToGroup проверяет членство. ErrNotFound только для несуществующего пользователя.
func (s *GroupService) HasUserAccessToGroup(ctx context.Context, userID, groupName string) (bool, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return false, err
	}
	group, err := s.groupRepo.GetByName(ctx, groupName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.groupRepo.IsMember(ctx, group.ID, userID)
}

// Members идентификаторы участников группы. Список видят участники, создатель и администраторы.
func (s *GroupService) Members(ctx context.Context, actor domain.CurrentUser, groupName string) ([]string, error) {
	group, err := s.groupRepo.GetByName(ctx, groupName)
	if err != nil {
		return nil, err
	}
	members, err := s.groupRepo.ListMembers(ctx, group.ID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin || actor.ID == group.CreatorID || slices.Contains(members, actor.ID) {
		return members, nil
	}
	return nil, fmt.Errorf("%w: %s is not a member of group %s", domain.ErrForbidden, actor.ID, group.Name)
}

func (s *GroupService) manageableGroup(ctx context.Context, actor domain.CurrentUser, groupName string) (*domain.Group, error) {
	group, err := s.groupRepo.GetByName(ctx, groupName)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin && actor.ID != group.CreatorID {
		return nil, fmt.Errorf("%w: only the creator or an administrator can manage group %s", domain.ErrForbidden, group.Name)
	}
	return group, nil
}

// groupFromPath имя группы для путей groups/<name>[/...]
func groupFromPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, domain.GroupsFolder+"/")
	if !ok || rest == "" {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, true
}
