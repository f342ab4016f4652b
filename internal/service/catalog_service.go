package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"groupdrive/internal/domain"
	"groupdrive/internal/metrics"
	"groupdrive/internal/sandbox"
)

// CatalogService листинг и поиск по живому дереву
type CatalogService struct {
	live    *sandbox.Sandbox
	perms   *PermissionService
	metrics metrics.EngineMetrics
	logger  *slog.Logger
}

func NewCatalogService(live *sandbox.Sandbox, perms *PermissionService, m metrics.EngineMetrics, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		live:    live,
		perms:   perms,
		metrics: m,
		logger:  logger.With("component", "CatalogService"),
	}
}

// List содержимое каталога. Элементы, которые не удалось прочитать, пропускаются.
func (s *CatalogService) List(ctx context.Context, principal domain.CurrentUser, dir string) (_ *domain.Listing, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("list", started, err) }(time.Now())

	rel, err := s.readableDir(ctx, principal, dir)
	if err != nil {
		return nil, err
	}
	snap, err := s.perms.Snapshot(ctx, principal)
	if err != nil {
		return nil, err
	}

	names, err := s.live.ReadDirNames(rel)
	if err != nil {
		return nil, domain.Internal("read directory", err)
	}

	listing := &domain.Listing{Files: []domain.FileInfo{}, Folders: []domain.FolderInfo{}}
	for _, name := range names {
		child := sandbox.Join(rel, name)
		info, err := s.live.Stat(child)
		if err != nil {
			s.logger.Warn("skipping unreadable entry", "path", child, "error", err)
			continue
		}
		if !snap.EffectiveAccess(child).Has(domain.AccessRead) {
			continue
		}
		if info.IsDir() {
			listing.Folders = append(listing.Folders, s.folderInfo(snap, child, info))
		} else {
			listing.Files = append(listing.Files, fileInfo(child, info))
		}
	}

	sortListing(listing, false)
	return listing, nil
}

// Search рекурсивный поиск по подстроке имени без учёта регистра
func (s *CatalogService) Search(ctx context.Context, principal domain.CurrentUser, query, base string) (_ *domain.Listing, err error) {
	defer func(started time.Time) { s.metrics.ObserveOperation("search", started, err) }(time.Now())

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, fmt.Errorf("%w: search query is required", domain.ErrInvalidArgument)
	}
	rel, err := s.readableDir(ctx, principal, base)
	if err != nil {
		return nil, err
	}
	snap, err := s.perms.Snapshot(ctx, principal)
	if err != nil {
		return nil, err
	}

	listing := &domain.Listing{Files: []domain.FileInfo{}, Folders: []domain.FolderInfo{}}
	err = s.live.Walk(rel, func(p string, info os.FileInfo, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			s.logger.Warn("skipping unreadable entry", "path", p, "error", walkErr)
			if info != nil && info.IsDir() && p != rel {
				return filepath.SkipDir
			}
			return nil
		}
		if p == rel {
			return nil
		}
		if !snap.EffectiveAccess(p).Has(domain.AccessRead) {
			return skipUnreadable(snap, p, info)
		}
		if !strings.Contains(strings.ToLower(info.Name()), needle) {
			return nil
		}
		if info.IsDir() {
			listing.Folders = append(listing.Folders, s.folderInfo(snap, p, info))
		} else {
			listing.Files = append(listing.Files, fileInfo(p, info))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, domain.Internal("walk directory", err)
	}

	sortListing(listing, true)
	return listing, nil
}

// readableDir проверяет, что dir существует, является каталогом и доступен на чтение
func (s *CatalogService) readableDir(ctx context.Context, principal domain.CurrentUser, dir string) (string, error) {
	rel, err := s.live.Clean(dir)
	if err != nil {
		return "", err
	}
	if err := s.perms.Require(ctx, principal, rel, domain.AccessRead); err != nil {
		return "", err
	}
	info, err := s.live.Stat(rel)
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

// skipUnreadable не включает недоступный элемент в результат.
// Каталог обходится дальше, только если внутри есть переопределения принципала.
func skipUnreadable(snap *AccessSnapshot, p string, info os.FileInfo) error {
	if info.IsDir() && !snap.overrideBelow(p) {
		return filepath.SkipDir
	}
	return nil
}

// folderInfo описание папки с рекурсивным числом доступных элементов и их суммарным размером
func (s *CatalogService) folderInfo(snap *AccessSnapshot, rel string, info os.FileInfo) domain.FolderInfo {
	var (
		count int
		size  int64
	)
	err := s.live.Walk(rel, func(p string, fi os.FileInfo, err error) error {
		if err != nil || p == rel {
			return nil
		}
		if !snap.EffectiveAccess(p).Has(domain.AccessRead) {
			return skipUnreadable(snap, p, fi)
		}
		count++
		if !fi.IsDir() {
			size += fi.Size()
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to compute folder size", "path", rel, "error", err)
	}
	return domain.FolderInfo{
		Name:         info.Name(),
		FullPath:     rel,
		LastModified: info.ModTime().UTC(),
		Size:         size,
		ReadableSize: ReadableSize(size),
		ItemCount:    count,
		IsDirectory:  true,
	}
}

func fileInfo(rel string, info os.FileInfo) domain.FileInfo {
	return domain.FileInfo{
		Name:         info.Name(),
		FullPath:     rel,
		LastModified: info.ModTime().UTC(),
		Size:         info.Size(),
		Extension:    strings.ToLower(strings.TrimPrefix(path.Ext(info.Name()), ".")),
		ReadableSize: ReadableSize(info.Size()),
	}
}

// sortListing сортирует по имени без учёта регистра; для поиска равные имена упорядочиваются по пути
func sortListing(l *domain.Listing, byPath bool) {
	less := func(a, b, pa, pb string) bool {
		la, lb := strings.ToLower(a), strings.ToLower(b)
		if la != lb {
			return la < lb
		}
		if byPath && pa != pb {
			return pa < pb
		}
		return a < b
	}
	sort.SliceStable(l.Files, func(i, j int) bool {
		return less(l.Files[i].Name, l.Files[j].Name, l.Files[i].FullPath, l.Files[j].FullPath)
	})
	sort.SliceStable(l.Folders, func(i, j int) bool {
		return less(l.Folders[i].Name, l.Folders[j].Name, l.Folders[i].FullPath, l.Folders[j].FullPath)
	})
}
