package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"lorekeeper-platform/internal/apperrors"
	"lorekeeper-platform/internal/config"
)

// FileStorageManager handles campaign-scoped file storage with atomic
// writes and content hashing for deduplication.
type FileStorageManager struct {
	config    *config.Config
	uploadDir string
	tempDir   string
}

func NewFileStorageManager(cfg *config.Config) *FileStorageManager {
	baseDir := cfg.FileStorageDir
	if baseDir == "" {
		baseDir = "./storage"
	}

	uploadDir := filepath.Join(baseDir, "documents")
	tempDir := filepath.Join(baseDir, "temp")

	os.MkdirAll(uploadDir, 0755)
	os.MkdirAll(tempDir, 0755)

	return &FileStorageManager{
		config:    cfg,
		uploadDir: uploadDir,
		tempDir:   tempDir,
	}
}

// StoredFileInfo describes a securely stored upload.
type StoredFileInfo struct {
	Path       string
	SecureName string
	Hash       string
	Size       int64
}

var pdfMagic = []byte{0x25, 0x50, 0x44, 0x46} // %PDF

// SecureStore streams an upload into campaign-scoped storage. The file
// is written to a temp path first and renamed into place so partial
// writes never land in the upload directory. The returned hash is the
// SHA-256 of the content.
func (sm *FileStorageManager) SecureStore(file multipart.File, header *multipart.FileHeader, campaignID string) (*StoredFileInfo, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to reset file position", err)
	}

	secureName := sm.generateSecureFilename(header.Filename)

	campaignDir := filepath.Join(sm.uploadDir, campaignID)
	if err := os.MkdirAll(campaignDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create campaign directory", err)
	}
	filePath := filepath.Join(campaignDir, secureName)

	tempPath := filepath.Join(sm.tempDir, uuid.NewString()+".tmp")
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to create temp file", err)
	}

	hasher := sha256.New()
	bytesWritten, err := io.Copy(io.MultiWriter(tempFile, hasher), file)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to write file", err)
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to close temp file", err)
	}

	if bytesWritten == 0 {
		os.Remove(tempPath)
		return nil, apperrors.New(apperrors.CodeEmptyFile, "uploaded file is empty")
	}

	if isPDFName(header.Filename) {
		if err := sm.validatePDFHeader(tempPath); err != nil {
			os.Remove(tempPath)
			return nil, err
		}
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to move file into storage", err)
	}

	return &StoredFileInfo{
		Path:       filePath,
		SecureName: secureName,
		Hash:       hex.EncodeToString(hasher.Sum(nil)),
		Size:       bytesWritten,
	}, nil
}

// Read returns the stored bytes for a path previously returned by
// SecureStore.
func (sm *FileStorageManager) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.CodeStorageError, "stored file missing", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageError, "failed to read stored file", err)
	}
	return data, nil
}

// Cleanup removes a stored file, ignoring already-gone paths.
func (sm *FileStorageManager) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Printf("Failed to clean up file %s: %v\n", path, err)
	}
}

func (sm *FileStorageManager) validatePDFHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageError, "failed to open file for validation", err)
	}
	defer f.Close()

	headerBytes := make([]byte, 4)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidPDF, "failed to read PDF header", err)
	}
	if string(headerBytes) != string(pdfMagic) {
		return apperrors.New(apperrors.CodeInvalidPDF, "file is not a valid PDF document")
	}
	return nil
}

func (sm *FileStorageManager) generateSecureFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	switch ext {
	case ".pdf", ".md", ".markdown", ".txt":
	default:
		ext = ""
	}
	return uuid.NewString() + ext
}

func isPDFName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// ValidateUpload checks size and MIME type before anything is written.
func (sm *FileStorageManager) ValidateUpload(header *multipart.FileHeader, mimeType string) error {
	if header.Size > sm.config.MaxFileSize {
		return apperrors.Newf(apperrors.CodeInvalidQuery, "file exceeds maximum size of %d bytes", sm.config.MaxFileSize)
	}
	for _, allowed := range sm.config.AllowedTypes {
		if mimeType == allowed {
			return nil
		}
	}
	return apperrors.Newf(apperrors.CodeUnsupportedMimeType, "unsupported file type: %s", mimeType)
}
