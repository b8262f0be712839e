package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/google/uuid"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/model"
	"github.com/rkr-ui/BOQMate/shared"
	log "github.com/sirupsen/logrus"
)

// UploadValidatorService screens every incoming file before any byte of it
// is stored. Checks run in a fixed order and the first failure wins; the
// returned error carries the reason the caller may surface.
type UploadValidatorService struct {
	context.DefaultService

	MaxFileSize int64

	allowedExt map[string]bool

	threatSvc  *ThreatDetectorService
	monitorSvc *SecurityEventMonitorService
	minioSvc   *MinIOService
	sqlSvc     *PostgresService
}

const (
	UPLOAD_VALIDATOR_SVC = "upload_validator_svc"

	defaultMaxFileSize = 52428800 // 50 MiB

	maxFilenameLength = 255
)

// defaultExtensions is the construction-document allowlist used when
// ALLOWED_EXTENSIONS is not set. Everything outside the allowlist is rejected
// regardless of content.
const defaultExtensions = ".pdf,.txt,.docx,.dwg,.dxf,.rvt,.rfa,.dgn,.skp"

// parseExtensionList normalizes a comma separated allowlist to a lookup of
// lowercase dotted extensions.
func parseExtensionList(raw string) map[string]bool {
	allowed := make(map[string]bool)
	for _, ext := range strings.Split(raw, ",") {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}
	return allowed
}

// textExtensions marks extensions whose content is plain text and therefore
// safe to run through the pattern library without binary false positives.
var textExtensions = map[string]bool{
	".txt": true,
	".dxf": true,
}

func (svc UploadValidatorService) Id() string {
	return UPLOAD_VALIDATOR_SVC
}

func (svc *UploadValidatorService) Configure(ctx *context.Context) error {
	svc.MaxFileSize = int64(envInt("MAX_FILE_SIZE", defaultMaxFileSize))
	svc.allowedExt = parseExtensionList(envOr("ALLOWED_EXTENSIONS", defaultExtensions))
	return svc.DefaultService.Configure(ctx)
}

func (svc *UploadValidatorService) Start() error {
	svc.threatSvc = svc.Service(THREAT_DETECTOR_SVC).(*ThreatDetectorService)
	svc.monitorSvc = svc.Service(SECURITY_MONITOR_SVC).(*SecurityEventMonitorService)
	svc.minioSvc = svc.Service(MINIO_SVC).(*MinIOService)
	svc.sqlSvc = svc.Service(POSTGRES_SVC).(*PostgresService)
	return nil
}

// Validate runs the full screening pipeline over a descriptor and the file
// content. On success it returns the sanitized filename and the sha256
// content hash; on failure an UploadRejected or MaliciousInput error.
func (svc *UploadValidatorService) Validate(desc *dto.UploadDescriptor, content []byte, identity, userID string) (string, string, error) {
	cleanName, err := svc.screen(desc, content)
	if err != nil {
		reason := err.Error()
		if appErr, ok := shared.GetAppError(err); ok {
			reason = appErr.Message
		}
		svc.monitorSvc.RecordKind(shared.EventUploadRejected, identity, userID, shared.SeverityMedium,
			fmt.Sprintf("file=%q reason=%q", desc.Filename, reason))
		return "", "", err
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	svc.monitorSvc.RecordKind(shared.EventUploadAccepted, identity, userID, shared.SeverityLow,
		fmt.Sprintf("file=%q size=%d", cleanName, len(content)))
	return cleanName, hash, nil
}

// Store writes an already validated upload to object storage and records it.
func (svc *UploadValidatorService) Store(cleanName, hash string, content []byte, identity, userID string) (*dto.UploadResponse, error) {
	objectKey := hash + "/" + cleanName
	if _, err := svc.minioSvc.UploadFile(objectKey, bytes.NewReader(content), int64(len(content)), "application/octet-stream"); err != nil {
		log.WithError(err).Error("Failed to store accepted upload")
		return nil, shared.NewInternalError(err, "failed to store file")
	}

	id, _ := uuid.NewV7()
	record := &model.FileRecord{
		ID:         id.String(),
		UserID:     userID,
		Filename:   cleanName,
		FileHash:   hash,
		FileSize:   int64(len(content)),
		StorageKey: objectKey,
		UploadedAt: time.Now(),
	}
	if err := svc.sqlSvc.CreateFileRecord(record, identity); err != nil {
		return nil, err
	}

	return &dto.UploadResponse{
		FileID:      record.ID,
		Filename:    cleanName,
		ContentHash: hash,
		Size:        record.FileSize,
		StoragePath: objectKey,
	}, nil
}

// screen runs the checks in their fixed order: extension allowlist, declared
// and actual size, filename sanitation, magic bytes, pattern scans.
func (svc *UploadValidatorService) screen(desc *dto.UploadDescriptor, content []byte) (string, error) {
	ext := strings.ToLower(path.Ext(desc.Filename))
	if !svc.allowedExt[ext] {
		return "", shared.NewUploadRejectedError(fmt.Sprintf("file type %q is not allowed", ext))
	}

	if desc.DeclaredSize > svc.MaxFileSize {
		return "", shared.NewUploadRejectedError(fmt.Sprintf("declared size %d exceeds limit %d", desc.DeclaredSize, svc.MaxFileSize))
	}
	if int64(len(content)) > svc.MaxFileSize {
		return "", shared.NewUploadRejectedError(fmt.Sprintf("file size %d exceeds limit %d", len(content), svc.MaxFileSize))
	}

	cleanName, err := sanitizeFilename(desc.Filename)
	if err != nil {
		return "", err
	}

	if err := checkMagicBytes(ext, content); err != nil {
		return "", err
	}

	verdict := svc.threatSvc.ScanValue(desc.Filename)
	if svc.threatSvc.Blocking(verdict) {
		return "", shared.NewMaliciousInputError(verdict.RuleIDs, verdict.Severity)
	}

	if textExtensions[ext] {
		verdict = svc.threatSvc.ScanContent(string(content))
		if svc.threatSvc.Blocking(verdict) {
			return "", shared.NewMaliciousInputError(verdict.RuleIDs, verdict.Severity)
		}
	}

	return cleanName, nil
}

// sanitizeFilename strips any directory component and rejects names that
// attempt to traverse outside the upload root or hide control bytes.
func sanitizeFilename(name string) (string, error) {
	if name == "" {
		return "", shared.NewUploadRejectedError("filename is empty")
	}
	if len(name) > maxFilenameLength {
		return "", shared.NewUploadRejectedError("filename is too long")
	}
	if hasControlBytes(name) {
		return "", shared.NewUploadRejectedError("filename contains control characters")
	}

	normalized := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(normalized, "/") || strings.Contains(normalized, "..") {
		return "", shared.NewUploadRejectedError("filename contains a path traversal sequence")
	}
	if strings.Contains(normalized, ":") {
		return "", shared.NewUploadRejectedError("filename contains a drive or stream separator")
	}

	base := path.Base(normalized)
	if base == "." || base == "/" || base == "" {
		return "", shared.NewUploadRejectedError("filename resolves to no file")
	}

	return base, nil
}

// Executable signatures rejected for every extension.
var executableMagics = [][]byte{
	{'M', 'Z'},                   // PE
	{0x7f, 'E', 'L', 'F'},        // ELF
	{0xfe, 0xed, 0xfa, 0xce},     // Mach-O 32
	{0xfe, 0xed, 0xfa, 0xcf},     // Mach-O 64
	{0xcf, 0xfa, 0xed, 0xfe},     // Mach-O 64 LE
	{0xca, 0xfe, 0xba, 0xbe},     // Mach-O fat / Java class
	{'#', '!'},                   // script shebang
}

func checkMagicBytes(ext string, content []byte) error {
	if len(content) == 0 {
		return shared.NewUploadRejectedError("file is empty")
	}

	for _, magic := range executableMagics {
		if bytes.HasPrefix(content, magic) {
			return shared.NewUploadRejectedError("file content is an executable")
		}
	}

	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(content, []byte("%PDF")) {
			return shared.NewUploadRejectedError("file content does not match the PDF format")
		}
	case ".docx":
		if !bytes.HasPrefix(content, []byte{'P', 'K', 0x03, 0x04}) {
			return shared.NewUploadRejectedError("file content does not match the DOCX format")
		}
	}

	return nil
}
