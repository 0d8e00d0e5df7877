package filestore

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound is returned when no stored file matches the image id.
var ErrNotFound = errors.New("file not found")

// maxImageID bounds generated ids to a positive int31 range so they stay
// short enough for human-readable URLs.
const maxImageID = 1<<31 - 1

const saveAttempts = 16

var allowedExtensions = []string{".jpg", ".jpeg", ".png"}

type FileInfo struct {
	ImageID  int64
	Path     string
	Filename string
}

// FileStore keeps uploaded images on disk under one directory per user.
// True uniqueness of image ids is enforced by the database unique constraint
// on image_id; the store only guarantees no collision within a user
// namespace at save time.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	const op = "filestore.NewFileStore"

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &FileStore{root: root}, nil
}

// IsAllowed reports whether the filename carries an allow-listed image
// extension, case-insensitively.
func (fs *FileStore) IsAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Save writes data under the user's namespace as {image_id}{ext} and returns
// the generated id. The extension is normalized to lower case so lookups and
// deletes can probe the allow-list directly.
func (fs *FileStore) Save(data []byte, filename string, userID int64) (int64, error) {
	const op = "filestore.Save"

	if !fs.IsAllowed(filename) {
		return 0, fmt.Errorf("%s: extension not allowed: %s", op, filename)
	}

	userDir, err := fs.userDir(userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", op, err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	for i := 0; i < saveAttempts; i++ {
		imageID := rand.Int63n(maxImageID-1) + 1
		if fs.exists(userDir, imageID) {
			continue
		}
		path := filepath.Join(userDir, strconv.FormatInt(imageID, 10)+ext)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return 0, fmt.Errorf("%s: %v", op, err)
		}
		return imageID, nil
	}
	return 0, fmt.Errorf("%s: could not allocate image id for user %d", op, userID)
}

// Locate probes the allow-listed extensions in the user's namespace.
func (fs *FileStore) Locate(imageID, userID int64) (*FileInfo, error) {
	userDir := filepath.Join(fs.root, strconv.FormatInt(userID, 10))

	for _, ext := range allowedExtensions {
		name := strconv.FormatInt(imageID, 10) + ext
		path := filepath.Join(userDir, name)
		if _, err := os.Stat(path); err == nil {
			return &FileInfo{ImageID: imageID, Path: path, Filename: name}, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes the first matching extension-file and reports whether
// anything was removed.
func (fs *FileStore) Delete(imageID, userID int64) bool {
	info, err := fs.Locate(imageID, userID)
	if err != nil {
		return false
	}
	return os.Remove(info.Path) == nil
}

func (fs *FileStore) userDir(userID int64) (string, error) {
	dir := filepath.Join(fs.root, strconv.FormatInt(userID, 10))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func (fs *FileStore) exists(userDir string, imageID int64) bool {
	for _, ext := range allowedExtensions {
		if _, err := os.Stat(filepath.Join(userDir, strconv.FormatInt(imageID, 10)+ext)); err == nil {
			return true
		}
	}
	return false
}
