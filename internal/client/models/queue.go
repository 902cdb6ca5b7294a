package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation names one of the six mutation kinds carried by the sync queue.
type Operation string

const (
	OpCreateFolder Operation = "create_folder"
	OpRenameFolder Operation = "rename_folder"
	OpDeleteFolder Operation = "delete_folder"
	OpUploadImage  Operation = "upload_image"
	OpRenameImage  Operation = "rename_image"
	OpDeleteImage  Operation = "delete_image"
)

// EntityType of the record a queue entry refers to.
type EntityType string

const (
	EntityFolder EntityType = "folder"
	EntityImage  EntityType = "image"
)

// QueueStatus of a durable queue entry. There is no "done" status: entries
// are removed on success.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueFailed     QueueStatus = "failed"
)

// QueueEntry is one durable outbox record. Drain order is FIFO by CreatedAt
// (id breaks ties). Payload is a snapshot taken at enqueue time; the push
// phase still re-reads current row state, so payloads only matter for fields
// the row no longer carries.
type QueueEntry struct {
	ID           int64
	Operation    Operation
	EntityType   EntityType
	LocalID      string
	Payload      QueuePayload
	Status       QueueStatus
	RetryCount   int
	CreatedAt    time.Time
	ErrorMessage *string
}

// QueuePayload is a closed union over the six operation kinds. Each variant
// carries its own strongly-typed fields and is decoded exactly once at
// dequeue time.
type QueuePayload interface {
	Operation() Operation
}

type CreateFolderPayload struct {
	Name string `json:"name"`
}

type RenameFolderPayload struct {
	NewName string `json:"new_name"`
}

type DeleteFolderPayload struct{}

type UploadImagePayload struct {
	SourceURI string `json:"source_uri"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
}

type RenameImagePayload struct {
	NewFilename string `json:"new_filename"`
}

type DeleteImagePayload struct{}

func (CreateFolderPayload) Operation() Operation { return OpCreateFolder }
func (RenameFolderPayload) Operation() Operation { return OpRenameFolder }
func (DeleteFolderPayload) Operation() Operation { return OpDeleteFolder }
func (UploadImagePayload) Operation() Operation  { return OpUploadImage }
func (RenameImagePayload) Operation() Operation  { return OpRenameImage }
func (DeleteImagePayload) Operation() Operation  { return OpDeleteImage }

// EncodePayload serializes p for the queue's payload column. A nil payload
// encodes to the empty string.
func EncodePayload(p QueuePayload) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", p.Operation(), err)
	}
	return string(b), nil
}

// DecodePayload deserializes the payload column for the given operation.
// Empty data yields a nil payload.
func DecodePayload(op Operation, data string) (QueuePayload, error) {
	if data == "" {
		return nil, nil
	}

	var (
		p   QueuePayload
		err error
	)
	switch op {
	case OpCreateFolder:
		var v CreateFolderPayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	case OpRenameFolder:
		var v RenameFolderPayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	case OpDeleteFolder:
		var v DeleteFolderPayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	case OpUploadImage:
		var v UploadImagePayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	case OpRenameImage:
		var v RenameImagePayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	case OpDeleteImage:
		var v DeleteImagePayload
		err = json.Unmarshal([]byte(data), &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", op, err)
	}
	return p, nil
}
