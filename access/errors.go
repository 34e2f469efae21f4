package access

import "errors"

var (
	// ErrDocumentRepositoryRequired indicates a Resolver was constructed
	// without a document repository.
	ErrDocumentRepositoryRequired = errors.New("document repository is required")

	// ErrRunRepositoryRequired indicates a Resolver was constructed
	// without a run repository.
	ErrRunRepositoryRequired = errors.New("run repository is required")
)
