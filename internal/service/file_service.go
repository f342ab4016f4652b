package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/repository"
	"groupdrive/internal/sandbox"
)

// FileService загрузка файлов в живое дерево
type FileService struct {
	live        *sandbox.Sandbox
	perms       *PermissionService
	historyRepo *repository.WorkHistoryRepository
	locker      *PathLocker
	clock       Clock
	metrics     metrics.EngineMetrics
	logger      *slog.Logger
}

func NewFileService(
	live *sandbox.Sandbox,
	perms *PermissionService,
	historyRepo *repository.WorkHistoryRepository,
	locker *PathLocker,
	clock Clock,
	m metrics.EngineMetrics,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		live:        live,
		perms:       perms,
		historyRepo: historyRepo,
		locker:      locker,
		clock:       clock,
		metrics:     m,
		logger:      logger.With("component", "FileService"),
	}
}

// Upload сохраняет content в каталоге dir под очищенным именем originalName.
// Существующий файл не перезаписывается.
func (s *FileService) Upload(ctx context.Context, principal domain.CurrentUser, dir string, content io.Reader, originalName string) (_ *domain.FileInfo, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("upload", started, err) }(time.Now())

	rel, err := writableDir(ctx, s.live, s.perms, principal, dir)
	if err != nil {
		return nil, err
	}

	name := sandbox.SanitizeName(originalName)
	if name == "" {
		return nil, fmt.Errorf("%w: file name %q is empty after sanitizing", domain.ErrInvalidArgument, originalName)
	}
	target := sandbox.Join(rel, name)
	if rel == "" && strings.EqualFold(name, domain.GroupsFolder) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtectedPath, name)
	}
	if len(target) > domain.MaxPathLength {
		return nil, fmt.Errorf("%w: path longer than %d characters", domain.ErrInvalidArgument, domain.MaxPathLength)
	}

	unlock := s.locker.Lock(liveKey(target))
	defer unlock()

	exists, err := s.live.Exists(target)
	if err != nil {
		return nil, domain.Internal("stat upload target", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrConflict, target)
	}

	size, err := s.live.WriteNew(target, content)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConflict, target)
		}
		return nil, domain.Internal("write file", err)
	}

	entry := &domain.WorkHistory{UserID: principal.ID, OperationType: domain.OperationUpload, Path: target, Time: s.clock.Now()}
	if err := s.historyRepo.Append(ctx, entry); err != nil {
		// Без записи в журнале загрузка не считается выполненной
		if rerr := s.live.Remove(target); rerr != nil {
			s.logger.Error("failed to remove uploaded file after history error", "path", target, "error", rerr)
		}
		return nil, domain.Internal("record upload", err)
	}

	info, err := s.live.Stat(target)
	if err != nil {
		return nil, domain.Internal("stat uploaded file", err)
	}
	s.logger.Info("file uploaded", "path", target, "size", size, "user", principal.ID)
	fi := fileInfo(target, info)
	return &fi, nil
}

// writableDir проверяет право CREATE и что dir существующий каталог
func writableDir(ctx context.Context, live *sandbox.Sandbox, perms *PermissionService, principal domain.CurrentUser, dir string) (string, error) {
	rel, err := live.Clean(dir)
	if err != nil {
		return "", err
	}
	if err := perms.Require(ctx, principal, rel, domain.AccessCreate); err != nil {
		return "", err
	}
	info, err := live.Stat(rel)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: directory %q", domain.ErrNotFound, displayPath(rel))
		}
		return "", domain.Internal("stat directory", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", domain.ErrInvalidArgument, displayPath(rel))
	}
	return rel, nil
}
