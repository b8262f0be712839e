package handlers

import (
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
)

// BOQHandler receives construction documents for bill-of-quantities
// generation. Files pass through the upload validator before any byte is
// stored; the generation itself is queued for the processing backend.
type BOQHandler struct {
	uploadSvc UploadServiceInterface
}

func NewBOQHandler(uploadSvc UploadServiceInterface) *BOQHandler {
	return &BOQHandler{
		uploadSvc: uploadSvc,
	}
}

func (h *BOQHandler) GenerateBOQ(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return shared.NewBadRequestError(err, "A file upload is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return shared.NewBadRequestError(err, "Unable to read uploaded file")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return shared.NewBadRequestError(err, "Unable to read uploaded file")
	}

	identity, _ := c.Locals(shared.ClientIP).(string)
	userID, _ := c.Locals(shared.UserID).(string)

	desc := &dto.UploadDescriptor{
		Filename:     fileHeader.Filename,
		DeclaredSize: fileHeader.Size,
		DeclaredType: fileHeader.Header.Get("Content-Type"),
	}

	cleanName, hash, err := h.uploadSvc.Validate(desc, content, identity, userID)
	if err != nil {
		return err
	}

	resp, err := h.uploadSvc.Store(cleanName, hash, content, identity, userID)
	if err != nil {
		return err
	}

	return shared.ResponseJSON(c, http.StatusAccepted, "File accepted for BOQ generation", resp)
}
