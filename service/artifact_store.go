package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// ArtifactStore maps a (user, document) pair to a directory below the
// upload root. It keeps no state besides the root path; the directory tree
// is the source of truth.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) (*ArtifactStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &ArtifactStore{root: abs}, nil
}

// Root returns the absolute upload directory.
func (s *ArtifactStore) Root() string {
	return s.root
}

func (s *ArtifactStore) userDir(userID int64) string {
	return filepath.Join(s.root, "user_"+strconv.FormatInt(userID, 10))
}

func (s *ArtifactStore) documentDir(userID, documentID int64) string {
	return filepath.Join(s.userDir(userID), "pdf_"+strconv.FormatInt(documentID, 10))
}

// DirectoryFor returns the directory dedicated to one document, creating it
// if needed. Calling it again returns the same path.
func (s *ArtifactStore) DirectoryFor(userID, documentID int64) (string, error) {
	dir := s.documentDir(userID, documentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	return dir, nil
}

// PlaceSourceFile writes r into the document's directory under a sanitized
// version of preferredName and returns the stored filename and its absolute
// path. The file is synced before it becomes visible under its final name.
func (s *ArtifactStore) PlaceSourceFile(r io.Reader, userID, documentID int64, preferredName string) (string, string, error) {
	dir, err := s.DirectoryFor(userID, documentID)
	if err != nil {
		return "", "", err
	}

	filename := sourceFilename(preferredName)
	target := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("write source file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", "", fmt.Errorf("sync source file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("close source file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return "", "", fmt.Errorf("place source file: %w", err)
	}

	return filename, target, nil
}

// PlaceSourcePath copies an existing file into the document's directory.
func (s *ArtifactStore) PlaceSourcePath(src string, userID, documentID int64, preferredName string) (string, string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", "", fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	if preferredName == "" {
		preferredName = filepath.Base(src)
	}
	return s.PlaceSourceFile(f, userID, documentID, preferredName)
}

// RemoveDocumentDirectory deletes the document's directory and everything
// under it. A missing directory is not an error. The pre-user layout
// UPLOAD_DIR/<id> is cleaned as well.
func (s *ArtifactStore) RemoveDocumentDirectory(userID, documentID int64) error {
	if err := os.RemoveAll(s.documentDir(userID, documentID)); err != nil {
		return fmt.Errorf("remove document dir: %w", err)
	}
	legacy := filepath.Join(s.root, strconv.FormatInt(documentID, 10))
	if err := os.RemoveAll(legacy); err != nil {
		return fmt.Errorf("remove legacy document dir: %w", err)
	}
	return nil
}

// ImagePath resolves an artifact filename inside the document's directory.
// Names that could escape the directory are rejected.
func (s *ArtifactStore) ImagePath(userID, documentID int64, filename string) (string, error) {
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		return "", fmt.Errorf("%w: invalid filename", ErrInvalidInput)
	}
	path := filepath.Join(s.documentDir(userID, documentID), filename)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("image %s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: invalid path", ErrInvalidInput)
	}
	return path, nil
}

// sourceFilename picks the stored name for an uploaded PDF. Uploads without
// a usable name get a random one.
func sourceFilename(preferred string) string {
	if preferred == "" || strings.EqualFold(preferred, "file") {
		return uuid.NewString() + ".pdf"
	}
	return SanitizeFilename(preferred)
}

// SanitizeFilename strips directories and every character other than
// letters, digits, '.', '_', '-' and space, then turns spaces into
// underscores. An empty result becomes file_<8 hex chars>.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	name = strings.ReplaceAll(b.String(), " ", "_")

	if strings.Trim(name, ".") == "" {
		name = "file_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return name
}
