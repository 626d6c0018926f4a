// Provides common docshard error definitions.
package docshard

import "errors"

var (
	ErrClosed     = errors.New("docshard: store is closed")
	ErrNotPrimary = errors.New("docshard: not primary, cannot accept writes")

	ErrInvalidArguments  = errors.New("docshard: invalid arguments")
	ErrCollectionMissing = errors.New("docshard: collection not found")
	ErrIndexMissing      = errors.New("docshard: index not found")
	ErrMissingID         = errors.New("docshard: document has no _id field")

	ErrAmbiguousMatch      = errors.New("docshard: multiple index entries match")
	ErrAlreadyExists       = errors.New("docshard: index entry already exists")
	ErrNotFound            = errors.New("docshard: index entry not found")
	ErrDocumentMissing     = errors.New("docshard: document does not exist")
	ErrDocumentStillExists = errors.New("docshard: document still exists")

	ErrIntegrityMismatch = errors.New("docshard: document integrity verification failed")
	ErrDocHashType       = errors.New("docshard: document hash field must be a 64-bit integer")

	ErrWriteConflict          = errors.New("docshard: write conflict")
	ErrConflictRetryExhausted = errors.New("docshard: write conflict retry budget exhausted")
)
