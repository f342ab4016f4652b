package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
)

// FolderService создание папок в живом дереве
type FolderService struct {
	live        *sandbox.Sandbox
	perms       *PermissionService
	historyRepo *repository.WorkHistoryRepository
	locker      *PathLocker
	clock       Clock
	metrics     metrics.EngineMetrics
	logger      *slog.Logger
}

func NewFolderService(
	live *sandbox.Sandbox,
	perms *PermissionService,
	historyRepo *repository.WorkHistoryRepository,
	locker *PathLocker,
	clock Clock,
	m metrics.EngineMetrics,
	logger *slog.Logger,
) *FolderService {
	return &FolderService{
		live:        live,
		perms:       perms,
		historyRepo: historyRepo,
		locker:      locker,
		clock:       clock,
		metrics:     m,
		logger:      logger.With("component", "FolderService"),
	}
}

// CreateFolder создаёт папку name в parent. Имя groups в корне зарезервировано.
func (s *FolderService) CreateFolder(ctx context.Context, principal domain.CurrentUser, parent, name string) (_ *domain.FolderInfo, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("create_folder", started, err) }(time.Now())

	clean := sandbox.SanitizeName(name)
	if clean == "" {
		return nil, fmt.Errorf("%w: folder name %q is empty after sanitizing", domain.ErrInvalidArgument, name)
	}

	rel, err := s.live.Clean(parent)
	if err != nil {
		return nil, err
	}
	// Проверка имени не зависит от наличия папки на диске
	if rel == "" && strings.EqualFold(clean, domain.GroupsFolder) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtectedPath, clean)
	}

	rel, err = writableDir(ctx, s.live, s.perms, principal, rel)
	if err != nil {
		return nil, err
	}
	target := sandbox.Join(rel, clean)

	unlock := s.locker.Lock(liveKey(target))
	defer unlock()

	if err := s.live.Mkdir(target); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConflict, target)
		}
		return nil, domain.Internal("create folder", err)
	}

	entry := &domain.WorkHistory{UserID: principal.ID, OperationType: domain.OperationCreateFolder, Path: target, Time: s.clock.Now()}
	if err := s.historyRepo.Append(ctx, entry); err != nil {
		if rerr := s.live.Remove(target); rerr != nil {
			s.logger.Error("failed to remove folder after history error", "path", target, "error", rerr)
		}
		return nil, domain.Internal("record folder creation", err)
	}

	info, err := s.live.Stat(target)
	if err != nil {
		return nil, domain.Internal("stat created folder", err)
	}
	s.logger.Info("folder created", "path", target, "user", principal.ID)
	return &domain.FolderInfo{
		Name:         info.Name(),
		FullPath:     target,
		LastModified: info.ModTime().UTC(),
		ReadableSize: ReadableSize(0),
		IsDirectory:  true,
	}, nil
}
