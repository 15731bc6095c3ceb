// Package testutil provides helpers shared by the test suites.
package testutil

import (
	"bytes"
	"mime/multipart"
	"testing"

	"github.com/stretchr/testify/require"
)

// UploadFile is one file part of a multipart upload body.
type UploadFile struct {
	Name    string
	Content []byte
}

// MultipartBody builds a multipart request body with one part per file,
// all under the given form field. Returns the body and its Content-Type.
func MultipartBody(t *testing.T, field string, files ...UploadFile) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.Name)
		require.NoError(t, err)
		_, err = part.Write(f.Content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	return body, mw.FormDataContentType()
}
