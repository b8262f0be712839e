package model

import "time"

// Credential is the stored authentication record for a user. The raw password
// never touches this struct; PasswordHash is the PBKDF2 derivation.
type Credential struct {
	UserID       string     `json:"user_id" gorm:"primaryKey;size:64;not null"`
	PasswordHash []byte     `json:"-" gorm:"not null"`
	Salt         []byte     `json:"-" gorm:"not null"`
	Iterations   int        `json:"-" gorm:"not null"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"not null"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// SecurityEvent is append-only; rows are never mutated after creation.
type SecurityEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Kind      string    `json:"kind" gorm:"not null;index;size:64"`
	Identity  string    `json:"identity" gorm:"index;size:255"`
	UserID    string    `json:"user_id,omitempty" gorm:"size:64"`
	Severity  string    `json:"severity" gorm:"not null;size:16"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
	Detail    string    `json:"detail" gorm:"type:text"`
}

// AuditRecord mirrors every mutating store operation for forensic review.
type AuditRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
	Identity    string    `json:"identity" gorm:"size:255"`
	UserID      string    `json:"user_id,omitempty" gorm:"size:64"`
	Operation   string    `json:"operation" gorm:"not null;size:64"`
	AffectedKey string    `json:"affected_key" gorm:"size:255"`
}

// FileRecord is the stored entry for an accepted upload.
type FileRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID     string    `json:"user_id" gorm:"not null;index;size:64"`
	Filename   string    `json:"filename" gorm:"not null;size:255"`
	FileHash   string    `json:"file_hash" gorm:"not null;index;size:64"`
	FileSize   int64     `json:"file_size" gorm:"not null"`
	StorageKey string    `json:"storage_key" gorm:"not null;size:512"`
	UploadedAt time.Time `json:"uploaded_at" gorm:"not null"`
}
