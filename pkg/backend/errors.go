package backend

import (
	"errors"
	"fmt"

	"github.com/asistia/asistia/pkg/models"
)

// ErrSessionRequired is returned when the python backend is asked a question
// before any document has been uploaded for the conversation. The UI reacts to
// its code by opening the upload flow.
var ErrSessionRequired = errors.New("a PDF file must be uploaded before using the python backend; use the file upload button to add your document")

// ServiceError reports a failed call to a generation backend. It keeps the
// upstream status and body verbatim for operator diagnosis.
type ServiceError struct {
	Backend models.Backend
	Status  int
	Body    string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service error: %d %s", e.Backend, e.Status, e.Body)
}

// Code returns the machine-readable stream error code for this failure.
func (e *ServiceError) Code() string {
	if e.Backend == models.BackendPython {
		return models.CodePythonServiceError
	}
	return models.CodeN8nServiceError
}
