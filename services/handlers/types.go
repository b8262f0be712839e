package handlers

import (
	"time"

	"github.com/rkr-ui/BOQMate/dto"
)

type AuthServiceInterface interface {
	Register(req dto.RegisterRequest, identity string) (*dto.RegisterResponse, error)
	Authenticate(req dto.LoginRequest, identity string) (*dto.LoginResponse, error)
}

type UploadServiceInterface interface {
	Validate(desc *dto.UploadDescriptor, content []byte, identity, userID string) (string, string, error)
	Store(cleanName, hash string, content []byte, identity, userID string) (*dto.UploadResponse, error)
}

type SecurityMonitorInterface interface {
	Report(window time.Duration) dto.SecurityReport
}
