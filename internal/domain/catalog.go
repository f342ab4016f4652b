package domain

import "time"

// FileInfo описание файла в листинге
type FileInfo struct {
	Name         string    `json:"name"`
	FullPath     string    `json:"full_path"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	Extension    string    `json:"extension"`
	ReadableSize string    `json:"readable_size"`
	IsDirectory  bool      `json:"is_directory"`
}

// FolderInfo описание папки в листинге. ItemCount и Size считаются рекурсивно.
type FolderInfo struct {
	Name         string    `json:"name"`
	FullPath     string    `json:"full_path"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	ReadableSize string    `json:"readable_size"`
	ItemCount    int       `json:"item_count"`
	IsDirectory  bool      `json:"is_directory"`
}

// Listing результат листинга или поиска
type Listing struct {
	Files   []FileInfo   `json:"files"`
	Folders []FolderInfo `json:"folders"`
}
