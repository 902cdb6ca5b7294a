package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload QueuePayload
	}{
		{"create folder", CreateFolderPayload{Name: "Batch-1"}},
		{"rename folder", RenameFolderPayload{NewName: "Batch-2"}},
		{"upload image", UploadImagePayload{SourceURI: "/tmp/a.jpg", Filename: "a.jpg", MimeType: "image/jpeg"}},
		{"rename image", RenameImagePayload{NewFilename: "b.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.payload)
			require.NoError(t, err)

			got, err := DecodePayload(tt.payload.Operation(), data)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	p, err := DecodePayload(OpDeleteFolder, "")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestDecodePayload_UnknownOperation(t *testing.T) {
	_, err := DecodePayload(Operation("drop_table"), `{}`)
	assert.Error(t, err)
}

func TestEncodePayload_Nil(t *testing.T) {
	data, err := EncodePayload(nil)
	require.NoError(t, err)
	assert.Equal(t, "", data)
}
